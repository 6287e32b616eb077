package reconciliation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain error taxonomy. Store and transport failures are normalized into
// these so callers never branch on raw infrastructure errors.
var (
	// ErrStatementNotFound means the statement id does not resolve (or the
	// line was soft-deleted).
	ErrStatementNotFound = errors.New("bank statement not found")
	// ErrAggregateNotFound means the aggregate id does not resolve.
	ErrAggregateNotFound = errors.New("aggregate transaction not found")
	// ErrGroupNotFound means the group id does not resolve.
	ErrGroupNotFound = errors.New("reconciliation group not found")

	// ErrAlreadyReconciled is terminal: the caller must undo before
	// reconciling again. Distinct from not-found because the corrective
	// action differs.
	ErrAlreadyReconciled = errors.New("statement already reconciled")

	// ErrGroupConflict means the aggregate or a member statement already
	// belongs to an active group or reconciliation.
	ErrGroupConflict = errors.New("aggregate or statement already belongs to an active group")
	// ErrGroupUndone means the group was already undone.
	ErrGroupUndone = errors.New("reconciliation group already undone")

	// ErrNoMatchFound is raised by single-item lookups that require a match.
	// Batch auto-match reports unmatched counts instead of raising it.
	ErrNoMatchFound = errors.New("no matching transaction found")

	// ErrFetchFailed wraps store read failures.
	ErrFetchFailed = errors.New("failed to fetch from store")
	// ErrValidation wraps illegal parameter combinations, rejected before
	// any store access.
	ErrValidation = errors.New("invalid parameters")
)

// ThresholdError reports a difference beyond the configured threshold. It is
// recoverable: the caller may retry with an explicit override.
type ThresholdError struct {
	Difference decimal.Decimal
	Threshold  decimal.Decimal
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("difference %s exceeds threshold %s", e.Difference, e.Threshold)
}

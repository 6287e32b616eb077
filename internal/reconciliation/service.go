package reconciliation

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
	"github.com/artabooks/bankrecon/internal/matching"
	"github.com/artabooks/bankrecon/internal/repository"
)

// TransactionSource provides the expected aggregated transactions to match
// bank activity against. It must return only candidates for the requested
// company and window; the service does not re-filter by company.
type TransactionSource interface {
	GetAggregatesForDate(companyID string, start, end time.Time) ([]domain.AggregateTransaction, error)
	FindByID(id string) (*domain.AggregateTransaction, error)
}

// Options carries the configured defaults for the engine.
type Options struct {
	AmountTolerance     decimal.Decimal
	DateBufferDays      int
	DifferenceThreshold decimal.Decimal
	AutoMatchBatchSize  int
}

// Service orchestrates reconciliation: fetch candidates, run the matching
// engine or accept a manual match, validate policy, commit the state change,
// and write an audit entry. The matching engine never mutates state; only
// this service commits changes.
type Service struct {
	stmtRepo  *repository.StatementRepo
	source    TransactionSource
	auditRepo *repository.AuditRepo
	opts      Options
}

func NewService(stmtRepo *repository.StatementRepo, source TransactionSource, auditRepo *repository.AuditRepo, opts Options) *Service {
	if opts.AutoMatchBatchSize <= 0 {
		opts.AutoMatchBatchSize = 500
	}
	return &Service{
		stmtRepo:  stmtRepo,
		source:    source,
		auditRepo: auditRepo,
		opts:      opts,
	}
}

// DefaultCriteria returns the configured matching criteria.
func (s *Service) DefaultCriteria() matching.Criteria {
	return matching.Criteria{
		AmountTolerance:     s.opts.AmountTolerance,
		DateBufferDays:      s.opts.DateBufferDays,
		DifferenceThreshold: s.opts.DifferenceThreshold,
	}
}

// ReconcileResult reports a committed single match.
type ReconcileResult struct {
	Success     bool            `json:"success"`
	StatementID string          `json:"statement_id"`
	AggregateID string          `json:"aggregate_id"`
	Difference  decimal.Decimal `json:"difference"`
	Notes       string          `json:"notes,omitempty"`
}

// Reconcile manually links one statement line to one aggregate. The
// difference threshold applies unless overrideDifference is set; the
// conditional store update is the authoritative double-reconciliation guard.
func (s *Service) Reconcile(aggregateID, statementID, userID, notes string, overrideDifference bool) (*ReconcileResult, error) {
	stmt, err := s.stmtRepo.FindByID(statementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatementNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if stmt.IsReconciled {
		return nil, ErrAlreadyReconciled
	}

	agg, err := s.source.FindByID(aggregateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAggregateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	diff := CalculateDifference(agg.NettAmount, stmt.NetAmount())
	if diff.Absolute.GreaterThan(s.opts.DifferenceThreshold) && !overrideDifference {
		return nil, &ThresholdError{Difference: diff.Absolute, Threshold: s.opts.DifferenceThreshold}
	}

	if err := s.stmtRepo.MarkAsReconciled(statementID, aggregateID); err != nil {
		if errors.Is(err, repository.ErrNotUpdated) {
			// A concurrent call won the conditional update.
			return nil, ErrAlreadyReconciled
		}
		return nil, fmt.Errorf("commit match: %w", err)
	}

	s.logAudit(domain.AuditManualReconcile, userID, statementID, aggregateID, notes)

	return &ReconcileResult{
		Success:     true,
		StatementID: statementID,
		AggregateID: aggregateID,
		Difference:  diff.Absolute,
		Notes:       notes,
	}, nil
}

// AutoMatchResult summarizes a batch auto-match run. Per-item failures never
// abort the batch; they are reported here instead of raised.
type AutoMatchResult struct {
	Matched   int                          `json:"matched"`
	Unmatched int                          `json:"unmatched"`
	Failed    int                          `json:"failed"`
	Matches   []domain.ReconciliationMatch `json:"matches"`
}

// AutoMatch fetches one batch of unreconciled lines and the candidate
// aggregates for the window, runs the matching engine, and commits every
// returned match. Commits deliberately skip the difference-threshold check:
// tolerance-passing matches with residual differences surface later through
// GetDiscrepancies rather than as hard failures. Each commit is independent.
func (s *Service) AutoMatch(companyID string, start, end time.Time, userID string, criteria *matching.Criteria) (*AutoMatchResult, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	crit := s.DefaultCriteria()
	if criteria != nil {
		crit = *criteria
	}
	if err := crit.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	statements, err := s.stmtRepo.GetUnreconciledBatch(companyID, start, end, s.opts.AutoMatchBatchSize, 0, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	aggregates, err := s.source.GetAggregatesForDate(companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	matches := matching.Match(statements, aggregates, crit)

	result := &AutoMatchResult{}
	for _, m := range matches {
		if err := s.stmtRepo.MarkAsReconciled(m.StatementID, m.AggregateID); err != nil {
			log.Printf("[reconciliation] WARNING: auto-match commit failed for %s -> %s: %v",
				m.StatementID, m.AggregateID, err)
			result.Failed++
			continue
		}
		s.logAudit(domain.AuditAutoMatch, userID, m.StatementID, m.AggregateID,
			fmt.Sprintf("criteria=%s score=%d difference=%s", m.MatchCriteria, m.MatchScore, m.Difference))
		result.Matched++
		result.Matches = append(result.Matches, m)
	}
	result.Unmatched = len(statements) - result.Matched

	log.Printf("[reconciliation] Auto-match for %s: matched=%d, unmatched=%d, failed=%d",
		companyID, result.Matched, result.Unmatched, result.Failed)
	return result, nil
}

// Undo reverses a reconciliation and returns the line to the unreconciled
// state. No threshold checks apply.
func (s *Service) Undo(statementID, userID string) error {
	stmt, err := s.stmtRepo.FindByID(statementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStatementNotFound
		}
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	if err := s.stmtRepo.ClearReconciliation(statementID); err != nil {
		if errors.Is(err, repository.ErrNotUpdated) {
			return ErrStatementNotFound
		}
		return fmt.Errorf("undo reconciliation: %w", err)
	}

	s.logAudit(domain.AuditUndo, userID, statementID, stmt.ReconciliationID, "")
	return nil
}

// Discrepancy annotates an unreconciled line for the manual-review worklist.
// An unmatched line is work to do, not an error condition.
type Discrepancy struct {
	Statement domain.StatementLine `json:"statement"`
	Reason    string               `json:"reason"`
}

const ReasonUnmatched = "UNMATCHED"

// GetDiscrepancies returns the unreconciled lines in the window annotated
// with a reason.
func (s *Service) GetDiscrepancies(companyID string, start, end time.Time) ([]Discrepancy, error) {
	lines, err := s.stmtRepo.GetUnreconciled(companyID, start, end, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	discs := make([]Discrepancy, 0, len(lines))
	for _, line := range lines {
		discs = append(discs, Discrepancy{Statement: line, Reason: ReasonUnmatched})
	}
	return discs, nil
}

// GetSummary reports reconciliation totals for a company/date range.
func (s *Service) GetSummary(companyID string, start, end time.Time) (*repository.Summary, error) {
	sum, err := s.stmtRepo.GetSummary(companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return sum, nil
}

// GetPotentialMatches runs the matching engine for a single statement
// against the aggregates around its date. Unlike batch auto-match, an empty
// result is an error here: the caller asked for a match.
func (s *Service) GetPotentialMatches(statementID string, criteria *matching.Criteria) ([]domain.ReconciliationMatch, error) {
	crit := s.DefaultCriteria()
	if criteria != nil {
		crit = *criteria
	}
	if err := crit.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	stmt, err := s.stmtRepo.FindByID(statementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatementNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if stmt.IsReconciled {
		return nil, ErrAlreadyReconciled
	}

	window := time.Duration(crit.DateBufferDays) * 24 * time.Hour
	aggregates, err := s.source.GetAggregatesForDate(
		stmt.CompanyID, stmt.TransactionDate.Add(-window), stmt.TransactionDate.Add(window))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	var matches []domain.ReconciliationMatch
	for i := range aggregates {
		found := matching.Match([]domain.StatementLine{*stmt},
			[]domain.AggregateTransaction{aggregates[i]}, crit)
		matches = append(matches, found...)
	}
	if len(matches) == 0 {
		return nil, ErrNoMatchFound
	}
	return matches, nil
}

// BulkUpdateStatus is the administrative override that bypasses matching.
func (s *Service) BulkUpdateStatus(ids []string, isReconciled bool) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: id list must not be empty", ErrValidation)
	}
	return s.stmtRepo.BulkUpdateReconciliationStatus(ids, isReconciled)
}

// AuditTrail returns the audit entries for one statement.
func (s *Service) AuditTrail(statementID string) ([]domain.AuditEntry, error) {
	entries, err := s.auditRepo.ListByStatement(statementID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return entries, nil
}

// Difference is the absolute and relative gap between two amounts.
type Difference struct {
	Absolute   decimal.Decimal `json:"absolute"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CalculateDifference computes |aggregate - statement| and its percentage of
// the aggregate amount. A zero aggregate yields percentage 0, not a division
// fault.
func CalculateDifference(aggregateAmount, statementAmount decimal.Decimal) Difference {
	abs := aggregateAmount.Sub(statementAmount).Abs()
	if aggregateAmount.IsZero() {
		return Difference{Absolute: abs, Percentage: decimal.Zero}
	}
	pct := abs.Div(aggregateAmount.Abs()).Mul(decimal.NewFromInt(100))
	return Difference{Absolute: abs, Percentage: pct}
}

// logAudit writes an audit entry best-effort: a failed write is logged and
// never blocks or reverses the reconciliation it describes.
func (s *Service) logAudit(action domain.AuditAction, userID, statementID, aggregateID, details string) {
	if s.auditRepo == nil {
		return
	}
	entry := &domain.AuditEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Action:      action,
		StatementID: statementID,
		AggregateID: aggregateID,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.auditRepo.Insert(entry); err != nil {
		log.Printf("[reconciliation] WARNING: failed to write audit entry for %s: %v", statementID, err)
	}
}

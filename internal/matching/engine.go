package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
)

// Criteria tunes the matching tiers. Defaults come from configuration and may
// be overridden per call.
type Criteria struct {
	AmountTolerance     decimal.Decimal `json:"amount_tolerance"`
	DateBufferDays      int             `json:"date_buffer_days"`
	DifferenceThreshold decimal.Decimal `json:"difference_threshold"`
}

// Validate rejects illegal criteria before any matching or store access.
func (c Criteria) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance must be >= 0, got %s", c.AmountTolerance)
	}
	if c.DateBufferDays < 0 || c.DateBufferDays > 30 {
		return fmt.Errorf("date buffer days must be in [0,30], got %d", c.DateBufferDays)
	}
	if c.DifferenceThreshold.IsNegative() {
		return fmt.Errorf("difference threshold must be >= 0, got %s", c.DifferenceThreshold)
	}
	return nil
}

// Scores per tier.
const (
	scoreExactRef        = 100
	scoreExactAmountDate = 90
	scoreFuzzyAmountDate = 80
)

// Match pairs unreconciled statement lines with candidate aggregates using
// three tiers applied in order: exact reference, exact amount + exact date,
// then amount within tolerance + date within the buffer. Each tier removes
// its matches from further consideration. Within a tier, statements are
// visited in their given order and each takes the first aggregate that
// satisfies the predicate: a deterministic greedy assignment, not an optimal
// bipartite matching. Callers depend on that output order.
//
// Match never mutates state; committing the result is the service's job.
func Match(statements []domain.StatementLine, aggregates []domain.AggregateTransaction, criteria Criteria) []domain.ReconciliationMatch {
	var matches []domain.ReconciliationMatch

	usedStmt := make(map[string]bool, len(statements))
	usedAgg := make(map[string]bool, len(aggregates))

	type tier struct {
		score   int
		tag     domain.MatchCriteriaTag
		accepts func(s *domain.StatementLine, a *domain.AggregateTransaction) bool
	}

	tiers := []tier{
		{scoreExactRef, domain.MatchExactRef, func(s *domain.StatementLine, a *domain.AggregateTransaction) bool {
			return s.ReferenceNumber != "" && a.ReferenceNumber != "" && s.ReferenceNumber == a.ReferenceNumber
		}},
		{scoreExactAmountDate, domain.MatchExactAmountDate, func(s *domain.StatementLine, a *domain.AggregateTransaction) bool {
			return amountWithinTolerance(s, a, criteria.AmountTolerance) && sameCalendarDay(s.TransactionDate, a.TransactionDate)
		}},
		{scoreFuzzyAmountDate, domain.MatchFuzzyAmountDate, func(s *domain.StatementLine, a *domain.AggregateTransaction) bool {
			return amountWithinTolerance(s, a, criteria.AmountTolerance) && daysApart(s.TransactionDate, a.TransactionDate) <= criteria.DateBufferDays
		}},
	}

	for _, t := range tiers {
		for si := range statements {
			s := &statements[si]
			if usedStmt[s.ID] {
				continue
			}
			for ai := range aggregates {
				a := &aggregates[ai]
				if usedAgg[a.ID] {
					continue
				}
				if !t.accepts(s, a) {
					continue
				}
				matches = append(matches, domain.ReconciliationMatch{
					AggregateID:   a.ID,
					StatementID:   s.ID,
					MatchScore:    t.score,
					MatchCriteria: t.tag,
					Difference:    s.NetAmount().Sub(a.NettAmount).Abs(),
				})
				usedStmt[s.ID] = true
				usedAgg[a.ID] = true
				break
			}
		}
	}

	return matches
}

func amountWithinTolerance(s *domain.StatementLine, a *domain.AggregateTransaction, tolerance decimal.Decimal) bool {
	return s.NetAmount().Sub(a.NettAmount).Abs().LessThanOrEqual(tolerance)
}

// sameCalendarDay compares dates ignoring the time of day.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysApart returns the whole-day difference between two calendar dates.
func daysApart(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

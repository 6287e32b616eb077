package domain

import "github.com/shopspring/decimal"

// MatchCriteriaTag names the tier that produced a match, highest confidence
// first.
type MatchCriteriaTag string

const (
	MatchExactRef        MatchCriteriaTag = "EXACT_REF"
	MatchExactAmountDate MatchCriteriaTag = "EXACT_AMOUNT_DATE"
	MatchFuzzyAmountDate MatchCriteriaTag = "FUZZY_AMOUNT_DATE"
)

// ReconciliationMatch is a proposed pairing produced by the matching engine.
// It is never persisted directly; the service commits it by marking the
// statement reconciled.
type ReconciliationMatch struct {
	AggregateID   string           `json:"aggregate_id"`
	StatementID   string           `json:"statement_id"`
	MatchScore    int              `json:"match_score"`
	MatchCriteria MatchCriteriaTag `json:"match_criteria"`
	// Difference is |statement net - aggregate nett| regardless of tolerance,
	// kept for later discrepancy reporting.
	Difference decimal.Decimal `json:"difference"`
}

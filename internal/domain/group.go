package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type GroupStatus string

const (
	GroupReconciled  GroupStatus = "RECONCILED"
	GroupDiscrepancy GroupStatus = "DISCREPANCY"
	GroupUndo        GroupStatus = "UNDO"
)

// ReconciliationGroup records several statement lines collectively matched
// against one aggregate transaction.
type ReconciliationGroup struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"company_id"`
	AggregateID     string          `json:"aggregate_id"`
	TotalBankAmount decimal.Decimal `json:"total_bank_amount"`
	AggregateAmount decimal.Decimal `json:"aggregate_amount"`
	Difference      decimal.Decimal `json:"difference"`
	Status          GroupStatus     `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	ReconciledBy    string          `json:"reconciled_by,omitempty"`
	ReconciledAt    time.Time       `json:"reconciled_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`

	Details []GroupDetail `json:"details,omitempty"`
}

// GroupDetail is one member line of a reconciliation group.
type GroupDetail struct {
	GroupID     string          `json:"group_id"`
	StatementID string          `json:"statement_id"`
	Amount      decimal.Decimal `json:"amount"`
}

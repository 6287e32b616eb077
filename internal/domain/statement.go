package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementLine is one row of an imported bank statement. Debit and credit
// are stored separately as non-negative amounts; the signed net amount is
// credit minus debit.
type StatementLine struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"company_id"`
	BankAccountID   string          `json:"bank_account_id"`
	TransactionDate time.Time       `json:"transaction_date"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	DebitAmount     decimal.Decimal `json:"debit_amount"`
	CreditAmount    decimal.Decimal `json:"credit_amount"`

	IsReconciled bool       `json:"is_reconciled"`
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	// Exactly one of ReconciliationID (single match) or ReconciliationGroupID
	// (multi-match) is set while IsReconciled is true; both are empty otherwise.
	ReconciliationID      string `json:"reconciliation_id,omitempty"`
	ReconciliationGroupID string `json:"reconciliation_group_id,omitempty"`
	PaymentMethodID       string `json:"payment_method_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NetAmount returns the signed amount of the line: credit - debit.
func (s *StatementLine) NetAmount() decimal.Decimal {
	return s.CreditAmount.Sub(s.DebitAmount)
}

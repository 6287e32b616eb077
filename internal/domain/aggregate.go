package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateTransaction is the expected net proceeds for a company, date and
// payment method, computed upstream from POS settlement totals. Read-only to
// the reconciliation engine.
type AggregateTransaction struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"company_id"`
	TransactionDate time.Time       `json:"transaction_date"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	NettAmount      decimal.Decimal `json:"nett_amount"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
)

// AggregateRepo adapts the POS aggregate table to the transaction source
// contract the reconciliation service consumes. Aggregates are produced
// upstream; this engine only reads them.
type AggregateRepo struct {
	db *sql.DB
}

func NewAggregateRepo(db *sql.DB) *AggregateRepo {
	return &AggregateRepo{db: db}
}

const aggregateColumns = `id, company_id, transaction_date, gross_amount, nett_amount,
	reference_number, payment_method_id`

func (r *AggregateRepo) Insert(a *domain.AggregateTransaction) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO pos_aggregates
		(`+aggregateColumns+`)
		VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.CompanyID, a.TransactionDate.Format(time.RFC3339),
		a.GrossAmount.String(), a.NettAmount.String(),
		nullableString(a.ReferenceNumber), nullableString(a.PaymentMethodID),
	)
	if err != nil {
		return fmt.Errorf("insert aggregate: %w", err)
	}
	return nil
}

func (r *AggregateRepo) FindByID(id string) (*domain.AggregateTransaction, error) {
	row := r.db.QueryRow(
		`SELECT `+aggregateColumns+` FROM pos_aggregates WHERE id = ?`, id,
	)
	return scanAggregate(row.Scan)
}

// GetAggregatesForDate returns the candidates for one company and window.
// Callers do not re-filter by company.
func (r *AggregateRepo) GetAggregatesForDate(companyID string, start, end time.Time) ([]domain.AggregateTransaction, error) {
	rows, err := r.db.Query(
		`SELECT `+aggregateColumns+` FROM pos_aggregates
		WHERE company_id = ? AND transaction_date >= ? AND transaction_date <= ?
		ORDER BY transaction_date, id`,
		companyID, start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var aggs []domain.AggregateTransaction
	for rows.Next() {
		a, err := scanAggregate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		aggs = append(aggs, *a)
	}
	return aggs, rows.Err()
}

func scanAggregate(scan func(dest ...any) error) (*domain.AggregateTransaction, error) {
	var a domain.AggregateTransaction
	var txDate, grossStr, nettStr string
	var refNum, pmID sql.NullString

	err := scan(&a.ID, &a.CompanyID, &txDate, &grossStr, &nettStr, &refNum, &pmID)
	if err != nil {
		return nil, err
	}

	a.TransactionDate, _ = time.Parse(time.RFC3339, txDate)
	a.ReferenceNumber = refNum.String
	a.PaymentMethodID = pmID.String

	if a.GrossAmount, err = decimal.NewFromString(grossStr); err != nil {
		return nil, fmt.Errorf("parse gross: %w", err)
	}
	if a.NettAmount, err = decimal.NewFromString(nettStr); err != nil {
		return nil, fmt.Errorf("parse nett: %w", err)
	}
	return &a, nil
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
)

// ErrNotUpdated is returned by conditional updates when no row matched the
// guard (already reconciled, already clear, or missing). The caller decides
// which condition applies.
var ErrNotUpdated = errors.New("no rows updated")

type StatementRepo struct {
	db *sql.DB
}

func NewStatementRepo(db *sql.DB) *StatementRepo {
	return &StatementRepo{db: db}
}

const statementColumns = `id, company_id, bank_account_id, transaction_date, description,
	reference_number, debit_amount, credit_amount, is_reconciled, reconciled_at,
	reconciliation_id, reconciliation_group_id, payment_method_id, created_at, deleted_at`

func (r *StatementRepo) Insert(s *domain.StatementLine) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO bank_statements
		(`+statementColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.CompanyID, s.BankAccountID, s.TransactionDate.Format(time.RFC3339),
		s.Description, nullableString(s.ReferenceNumber),
		s.DebitAmount.String(), s.CreditAmount.String(),
		boolToInt(s.IsReconciled), formatNullableTime(s.ReconciledAt),
		nullableString(s.ReconciliationID), nullableString(s.ReconciliationGroupID),
		nullableString(s.PaymentMethodID), s.CreatedAt.Format(time.RFC3339),
		formatNullableTime(s.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert statement: %w", err)
	}
	return nil
}

func (r *StatementRepo) BulkInsert(lines []domain.StatementLine) (int, error) {
	sqlTx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.Prepare(
		`INSERT OR IGNORE INTO bank_statements
		(` + statementColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range lines {
		s := &lines[i]
		res, err := stmt.Exec(
			s.ID, s.CompanyID, s.BankAccountID, s.TransactionDate.Format(time.RFC3339),
			s.Description, nullableString(s.ReferenceNumber),
			s.DebitAmount.String(), s.CreditAmount.String(),
			boolToInt(s.IsReconciled), formatNullableTime(s.ReconciledAt),
			nullableString(s.ReconciliationID), nullableString(s.ReconciliationGroupID),
			nullableString(s.PaymentMethodID), s.CreatedAt.Format(time.RFC3339),
			formatNullableTime(s.DeletedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// FindByID returns a statement line, excluding soft-deleted rows. Returns
// sql.ErrNoRows when the id does not resolve.
func (r *StatementRepo) FindByID(id string) (*domain.StatementLine, error) {
	row := r.db.QueryRow(
		`SELECT `+statementColumns+` FROM bank_statements
		WHERE id = ? AND deleted_at IS NULL`, id,
	)
	return scanStatement(row.Scan)
}

// GetUnreconciled returns unreconciled, non-deleted lines in the window,
// newest first.
func (r *StatementRepo) GetUnreconciled(companyID string, start, end time.Time, bankAccountID string) ([]domain.StatementLine, error) {
	return r.GetUnreconciledBatch(companyID, start, end, -1, 0, bankAccountID)
}

// GetUnreconciledBatch is the paginated variant of GetUnreconciled so that a
// wide date window does not load unbounded memory. A negative limit disables
// pagination.
func (r *StatementRepo) GetUnreconciledBatch(companyID string, start, end time.Time, limit, offset int, bankAccountID string) ([]domain.StatementLine, error) {
	query := `SELECT ` + statementColumns + ` FROM bank_statements
		WHERE company_id = ? AND is_reconciled = 0 AND deleted_at IS NULL
		  AND transaction_date >= ? AND transaction_date <= ?`
	args := []any{companyID, start.Format(time.RFC3339), end.Format(time.RFC3339)}

	if bankAccountID != "" {
		query += " AND bank_account_id = ?"
		args = append(args, bankAccountID)
	}
	query += " ORDER BY transaction_date DESC, created_at DESC"
	if limit >= 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanStatements(rows)
}

// StatementFilter selects statement lines for listing.
type StatementFilter struct {
	CompanyID     string
	BankAccountID string
	Reconciled    *bool
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

func (r *StatementRepo) List(f StatementFilter) ([]domain.StatementLine, int, error) {
	where, args := buildStatementWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM bank_statements"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := "SELECT " + statementColumns + " FROM bank_statements" + where +
		" ORDER BY transaction_date DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	lines, err := scanStatements(rows)
	if err != nil {
		return nil, 0, err
	}
	return lines, total, nil
}

// MarkAsReconciled links a statement to a single aggregate and copies the
// aggregate's payment method, in one conditional update. The is_reconciled
// guard is the authoritative protection against double reconciliation:
// ErrNotUpdated means the row was already reconciled, deleted, or missing.
func (r *StatementRepo) MarkAsReconciled(statementID, aggregateID string) error {
	res, err := r.db.Exec(
		`UPDATE bank_statements
		SET is_reconciled = 1,
		    reconciled_at = ?,
		    reconciliation_id = ?,
		    reconciliation_group_id = NULL,
		    payment_method_id = (SELECT payment_method_id FROM pos_aggregates WHERE id = ?)
		WHERE id = ? AND is_reconciled = 0 AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), aggregateID, aggregateID, statementID,
	)
	if err != nil {
		return fmt.Errorf("mark reconciled: %w", err)
	}
	return requireOneRow(res)
}

// ClearReconciliation resets every reconciliation attribute of a line.
func (r *StatementRepo) ClearReconciliation(statementID string) error {
	res, err := r.db.Exec(
		`UPDATE bank_statements
		SET is_reconciled = 0,
		    reconciled_at = NULL,
		    reconciliation_id = NULL,
		    reconciliation_group_id = NULL,
		    payment_method_id = NULL
		WHERE id = ? AND deleted_at IS NULL`,
		statementID,
	)
	if err != nil {
		return fmt.Errorf("clear reconciliation: %w", err)
	}
	return requireOneRow(res)
}

// markReconciledWithGroupTx links a statement to a group inside an open
// transaction. Same conditional guard as MarkAsReconciled.
func markReconciledWithGroupTx(tx *sql.Tx, statementID, groupID string, now time.Time) error {
	res, err := tx.Exec(
		`UPDATE bank_statements
		SET is_reconciled = 1,
		    reconciled_at = ?,
		    reconciliation_id = NULL,
		    reconciliation_group_id = ?
		WHERE id = ? AND is_reconciled = 0 AND deleted_at IS NULL`,
		now.Format(time.RFC3339), groupID, statementID,
	)
	if err != nil {
		return fmt.Errorf("mark group member: %w", err)
	}
	return requireOneRow(res)
}

// BulkUpdateReconciliationStatus is an administrative override that bypasses
// matching entirely. It returns the number of rows changed.
func (r *StatementRepo) BulkUpdateReconciliationStatus(ids []string, isReconciled bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)

	var query string
	if isReconciled {
		query = `UPDATE bank_statements SET is_reconciled = 1, reconciled_at = ?
			WHERE id IN (` + placeholders + `) AND deleted_at IS NULL`
		args = append(args, time.Now().UTC().Format(time.RFC3339))
	} else {
		query = `UPDATE bank_statements
			SET is_reconciled = 0, reconciled_at = NULL, reconciliation_id = NULL,
			    reconciliation_group_id = NULL, payment_method_id = NULL
			WHERE id IN (` + placeholders + `) AND deleted_at IS NULL`
	}
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update: %w", err)
	}
	ra, _ := res.RowsAffected()
	return int(ra), nil
}

// Summary aggregates reconciliation state over a company/date window.
type Summary struct {
	TotalStatements    int             `json:"total_statements"`
	ReconciledCount    int             `json:"reconciled_count"`
	UnreconciledCount  int             `json:"unreconciled_count"`
	ReconciledAmount   decimal.Decimal `json:"reconciled_amount"`
	UnreconciledAmount decimal.Decimal `json:"unreconciled_amount"`
}

// GetSummary sums net amounts in Go: amounts are stored as decimal text, so
// SQL SUM would lose precision.
func (r *StatementRepo) GetSummary(companyID string, start, end time.Time) (*Summary, error) {
	rows, err := r.db.Query(
		`SELECT debit_amount, credit_amount, is_reconciled FROM bank_statements
		WHERE company_id = ? AND deleted_at IS NULL
		  AND transaction_date >= ? AND transaction_date <= ?`,
		companyID, start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	sum := &Summary{
		ReconciledAmount:   decimal.Zero,
		UnreconciledAmount: decimal.Zero,
	}
	for rows.Next() {
		var debitStr, creditStr string
		var reconciled int
		if err := rows.Scan(&debitStr, &creditStr, &reconciled); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		debit, err := decimal.NewFromString(debitStr)
		if err != nil {
			return nil, fmt.Errorf("parse debit: %w", err)
		}
		credit, err := decimal.NewFromString(creditStr)
		if err != nil {
			return nil, fmt.Errorf("parse credit: %w", err)
		}
		net := credit.Sub(debit)

		sum.TotalStatements++
		if reconciled == 1 {
			sum.ReconciledCount++
			sum.ReconciledAmount = sum.ReconciledAmount.Add(net)
		} else {
			sum.UnreconciledCount++
			sum.UnreconciledAmount = sum.UnreconciledAmount.Add(net)
		}
	}
	return sum, rows.Err()
}

// --- helpers ---

func buildStatementWhere(f StatementFilter) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any

	if f.CompanyID != "" {
		clauses = append(clauses, "company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.BankAccountID != "" {
		clauses = append(clauses, "bank_account_id = ?")
		args = append(args, f.BankAccountID)
	}
	if f.Reconciled != nil {
		clauses = append(clauses, "is_reconciled = ?")
		args = append(args, boolToInt(*f.Reconciled))
	}
	if f.From != nil {
		clauses = append(clauses, "transaction_date >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "transaction_date <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotUpdated
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func scanStatement(scan func(dest ...any) error) (*domain.StatementLine, error) {
	var s domain.StatementLine
	var txDate, createdAt, debitStr, creditStr string
	var reconciled int
	var refNum, reconID, groupID, pmID, reconAt, deletedAt sql.NullString

	err := scan(
		&s.ID, &s.CompanyID, &s.BankAccountID, &txDate, &s.Description,
		&refNum, &debitStr, &creditStr, &reconciled, &reconAt,
		&reconID, &groupID, &pmID, &createdAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	s.TransactionDate, _ = time.Parse(time.RFC3339, txDate)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.ReferenceNumber = refNum.String
	s.ReconciliationID = reconID.String
	s.ReconciliationGroupID = groupID.String
	s.PaymentMethodID = pmID.String
	s.IsReconciled = reconciled == 1

	if s.DebitAmount, err = decimal.NewFromString(debitStr); err != nil {
		return nil, fmt.Errorf("parse debit: %w", err)
	}
	if s.CreditAmount, err = decimal.NewFromString(creditStr); err != nil {
		return nil, fmt.Errorf("parse credit: %w", err)
	}
	if reconAt.Valid {
		t, _ := time.Parse(time.RFC3339, reconAt.String)
		s.ReconciledAt = &t
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		s.DeletedAt = &t
	}

	return &s, nil
}

func scanStatements(rows *sql.Rows) ([]domain.StatementLine, error) {
	var lines []domain.StatementLine
	for rows.Next() {
		s, err := scanStatement(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		lines = append(lines, *s)
	}
	return lines, rows.Err()
}

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

// ErrDuplicateGroup is returned when an aggregate already belongs to an
// active group. The partial unique index enforces this at commit time, which
// closes the window left by a read-then-act pre-check.
var ErrDuplicateGroup = errors.New("aggregate already in an active group")

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

const groupColumns = `id, company_id, aggregate_id, total_bank_amount, aggregate_amount,
	difference, status, notes, reconciled_by, reconciled_at, deleted_at`

// CreateWithDetails persists a group, its detail rows, and the member
// statement links in one transaction. If any member is no longer
// unreconciled, or the aggregate already has an active group, nothing is
// committed.
func (r *GroupRepo) CreateWithDetails(g *domain.ReconciliationGroup) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO reconciliation_groups
		(`+groupColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,NULL)`,
		g.ID, g.CompanyID, g.AggregateID,
		g.TotalBankAmount.String(), g.AggregateAmount.String(), g.Difference.String(),
		string(g.Status), nullableString(g.Notes), nullableString(g.ReconciledBy),
		g.ReconciledAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateGroup
		}
		return fmt.Errorf("insert group: %w", err)
	}

	detailStmt, err := tx.Prepare(
		`INSERT INTO reconciliation_group_details (group_id, statement_id, amount)
		VALUES (?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare details: %w", err)
	}
	defer detailStmt.Close()

	for _, d := range g.Details {
		if _, err := detailStmt.Exec(g.ID, d.StatementID, d.Amount.String()); err != nil {
			return fmt.Errorf("insert detail %s: %w", d.StatementID, err)
		}
		if err := markReconciledWithGroupTx(tx, d.StatementID, g.ID, g.ReconciledAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindByID loads a group with its detail rows. Soft-deleted groups are still
// returned so undo conflicts can be reported precisely.
func (r *GroupRepo) FindByID(id string) (*domain.ReconciliationGroup, error) {
	row := r.db.QueryRow(
		`SELECT `+groupColumns+` FROM reconciliation_groups WHERE id = ?`, id,
	)
	g, err := scanGroup(row.Scan)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		`SELECT group_id, statement_id, amount FROM reconciliation_group_details
		WHERE group_id = ? ORDER BY statement_id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.GroupDetail
		var amountStr string
		if err := rows.Scan(&d.GroupID, &d.StatementID, &amountStr); err != nil {
			return nil, fmt.Errorf("scan detail: %w", err)
		}
		if d.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse detail amount: %w", err)
		}
		g.Details = append(g.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// IsAggregateInGroup reports whether the aggregate has an active group. This
// is the advisory pre-check; the unique index is the authoritative guard.
func (r *GroupRepo) IsAggregateInGroup(aggregateID string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM reconciliation_groups
		WHERE aggregate_id = ? AND deleted_at IS NULL`, aggregateID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	return count > 0, nil
}

// GroupFilter selects groups for listing.
type GroupFilter struct {
	CompanyID string
	Status    string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

func (r *GroupRepo) List(f GroupFilter) ([]domain.ReconciliationGroup, int, error) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "reconciled_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "reconciled_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM reconciliation_groups"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.db.Query(
		"SELECT "+groupColumns+" FROM reconciliation_groups"+where+
			" ORDER BY reconciled_at DESC LIMIT ? OFFSET ?", args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var groups []domain.ReconciliationGroup
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, total, rows.Err()
}

// CountByStatus returns group counts per status for a company/date window.
// Undone groups are included under their UNDO status.
func (r *GroupRepo) CountByStatus(companyID string, start, end time.Time) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT status, COUNT(*) FROM reconciliation_groups
		WHERE company_id = ? AND reconciled_at >= ? AND reconciled_at <= ?
		GROUP BY status`,
		companyID, start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Undo soft-deletes the group, marks it UNDO, and resets every member line,
// all in one transaction. The deleted_at guard makes a second undo report
// ErrNotUpdated instead of silently resetting lines twice. A group whose
// members were already cleared is reset as a no-op.
func (r *GroupRepo) Undo(groupID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE reconciliation_groups SET deleted_at = ?, status = ?
		WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), string(domain.GroupUndo), groupID,
	)
	if err != nil {
		return fmt.Errorf("soft delete group: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE bank_statements
		SET is_reconciled = 0, reconciled_at = NULL, reconciliation_id = NULL,
		    reconciliation_group_id = NULL, payment_method_id = NULL
		WHERE reconciliation_group_id = ?`,
		groupID,
	); err != nil {
		return fmt.Errorf("reset members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanGroup(scan func(dest ...any) error) (*domain.ReconciliationGroup, error) {
	var g domain.ReconciliationGroup
	var totalStr, aggStr, diffStr, status, reconAt string
	var notes, reconBy, deletedAt sql.NullString

	err := scan(
		&g.ID, &g.CompanyID, &g.AggregateID, &totalStr, &aggStr,
		&diffStr, &status, &notes, &reconBy, &reconAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Status = domain.GroupStatus(status)
	g.Notes = notes.String
	g.ReconciledBy = reconBy.String
	g.ReconciledAt, _ = time.Parse(time.RFC3339, reconAt)

	if g.TotalBankAmount, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if g.AggregateAmount, err = decimal.NewFromString(aggStr); err != nil {
		return nil, fmt.Errorf("parse aggregate amount: %w", err)
	}
	if g.Difference, err = decimal.NewFromString(diffStr); err != nil {
		return nil, fmt.Errorf("parse difference: %w", err)
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		g.DeletedAt = &t
	}
	return &g, nil
}

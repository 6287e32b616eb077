package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/artabooks/bankrecon/internal/domain"
)

// AuditRepo is the append-only trail of reconcile/undo/auto-match actions.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(e *domain.AuditEntry) error {
	_, err := r.db.Exec(
		`INSERT INTO reconciliation_audit_log
		(id, user_id, action, statement_id, aggregate_id, details, timestamp)
		VALUES (?,?,?,?,?,?,?)`,
		e.ID, nullableString(e.UserID), string(e.Action),
		nullableString(e.StatementID), nullableString(e.AggregateID),
		nullableString(e.Details), e.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByStatement returns the trail for one statement line, newest first.
func (r *AuditRepo) ListByStatement(statementID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, user_id, action, statement_id, aggregate_id, details, timestamp
		FROM reconciliation_audit_log
		WHERE statement_id = ? ORDER BY timestamp DESC`, statementID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var userID, stmtID, aggID, details sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &userID, &e.Action, &stmtID, &aggID, &details, &ts); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.UserID = userID.String
		e.StatementID = stmtID.String
		e.AggregateID = aggID.String
		e.Details = details.String
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

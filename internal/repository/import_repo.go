package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// ImportRepo tracks ingested statement files for idempotency.
type ImportRepo struct {
	db *sql.DB
}

func NewImportRepo(db *sql.DB) *ImportRepo {
	return &ImportRepo{db: db}
}

func (r *ImportRepo) ExistsByHash(hash string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM statement_imports WHERE file_hash = ?", hash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	return count > 0, nil
}

func (r *ImportRepo) Record(id, bankAccountID, hash string, lineCount int) error {
	_, err := r.db.Exec(
		`INSERT INTO statement_imports (id, bank_account_id, file_hash, line_count, imported_at)
		VALUES (?,?,?,?,?)`,
		id, bankAccountID, hash, lineCount, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

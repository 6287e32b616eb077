package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bank_statements (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			bank_account_id TEXT NOT NULL,
			transaction_date DATETIME NOT NULL,
			description TEXT NOT NULL,
			reference_number TEXT,
			debit_amount TEXT NOT NULL,
			credit_amount TEXT NOT NULL,
			is_reconciled INTEGER NOT NULL DEFAULT 0,
			reconciled_at DATETIME,
			reconciliation_id TEXT,
			reconciliation_group_id TEXT,
			payment_method_id TEXT,
			created_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_statements_company_date ON bank_statements(company_id, transaction_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_statements_reconciled ON bank_statements(is_reconciled)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_statements_account ON bank_statements(bank_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_statements_group ON bank_statements(reconciliation_group_id)`,

		`CREATE TABLE IF NOT EXISTS pos_aggregates (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			transaction_date DATETIME NOT NULL,
			gross_amount TEXT NOT NULL,
			nett_amount TEXT NOT NULL,
			reference_number TEXT,
			payment_method_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pos_aggregates_company_date ON pos_aggregates(company_id, transaction_date)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_groups (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			total_bank_amount TEXT NOT NULL,
			aggregate_amount TEXT NOT NULL,
			difference TEXT NOT NULL,
			status TEXT NOT NULL,
			notes TEXT,
			reconciled_by TEXT,
			reconciled_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		// One active group per aggregate, enforced at commit time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_active_aggregate
			ON reconciliation_groups(aggregate_id) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_groups_company ON reconciliation_groups(company_id)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_group_details (
			group_id TEXT NOT NULL,
			statement_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			PRIMARY KEY (group_id, statement_id),
			FOREIGN KEY (group_id) REFERENCES reconciliation_groups(id)
		)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_audit_log (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			action TEXT NOT NULL,
			statement_id TEXT,
			aggregate_id TEXT,
			details TEXT,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_statement ON reconciliation_audit_log(statement_id)`,

		`CREATE TABLE IF NOT EXISTS statement_imports (
			id TEXT PRIMARY KEY,
			bank_account_id TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			line_count INTEGER NOT NULL,
			imported_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}

package repository

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artabooks/bankrecon/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	require.NoError(t, err)
	// Keep the pool on a single connection so every query sees the same
	// in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newLine(companyID string, net string, day int) domain.StatementLine {
	return domain.StatementLine{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		BankAccountID:   "acct-1",
		TransactionDate: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Description:     "KR OTOMATIS",
		DebitAmount:     decimal.Zero,
		CreditAmount:    decimal.RequireFromString(net),
		CreatedAt:       time.Now().UTC(),
	}
}

func seedAggregateRow(t *testing.T, db *sql.DB, id, pmID string) {
	t.Helper()
	repo := NewAggregateRepo(db)
	err := repo.Insert(&domain.AggregateTransaction{
		ID:              id,
		CompanyID:       "company-1",
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		GrossAmount:     decimal.RequireFromString("100"),
		NettAmount:      decimal.RequireFromString("100"),
		PaymentMethodID: pmID,
	})
	require.NoError(t, err)
}

func TestStatementRepo_InsertAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)

	line := newLine("company-1", "123.45", 1)
	line.ReferenceNumber = "REF1"
	require.NoError(t, repo.Insert(&line))

	got, err := repo.FindByID(line.ID)
	require.NoError(t, err)
	assert.Equal(t, line.ID, got.ID)
	assert.Equal(t, "REF1", got.ReferenceNumber)
	assert.True(t, got.CreditAmount.Equal(decimal.RequireFromString("123.45")))
	assert.False(t, got.IsReconciled)
	assert.Nil(t, got.ReconciledAt)
	assert.True(t, got.TransactionDate.Equal(line.TransactionDate))
}

func TestStatementRepo_FindByID_Missing(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)

	_, err := repo.FindByID("missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStatementRepo_InsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)

	line := newLine("company-1", "100", 1)
	require.NoError(t, repo.Insert(&line))

	// Re-inserting the same id is ignored, not an error.
	line.Description = "changed"
	require.NoError(t, repo.Insert(&line))

	got, err := repo.FindByID(line.ID)
	require.NoError(t, err)
	assert.Equal(t, "KR OTOMATIS", got.Description)
}

func TestStatementRepo_BulkInsert_SkipsDuplicates(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)

	existing := newLine("company-1", "100", 1)
	require.NoError(t, repo.Insert(&existing))

	batch := []domain.StatementLine{
		existing,
		newLine("company-1", "200", 1),
		newLine("company-1", "300", 2),
	}
	inserted, err := repo.BulkInsert(batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestStatementRepo_MarkAsReconciled(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	line := newLine("company-1", "100", 1)
	require.NoError(t, repo.Insert(&line))

	require.NoError(t, repo.MarkAsReconciled(line.ID, "agg-1"))

	got, err := repo.FindByID(line.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReconciled)
	assert.Equal(t, "agg-1", got.ReconciliationID)
	assert.Equal(t, "pm-1", got.PaymentMethodID)
	require.NotNil(t, got.ReconciledAt)
}

func TestStatementRepo_MarkAsReconciled_Conditional(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")
	seedAggregateRow(t, db, "agg-2", "pm-2")

	line := newLine("company-1", "100", 1)
	require.NoError(t, repo.Insert(&line))

	require.NoError(t, repo.MarkAsReconciled(line.ID, "agg-1"))

	// The second writer loses the conditional update and the first link
	// stays intact.
	err := repo.MarkAsReconciled(line.ID, "agg-2")
	assert.ErrorIs(t, err, ErrNotUpdated)

	got, err := repo.FindByID(line.ID)
	require.NoError(t, err)
	assert.Equal(t, "agg-1", got.ReconciliationID)
	assert.Equal(t, "pm-1", got.PaymentMethodID)

	assert.ErrorIs(t, repo.MarkAsReconciled("missing", "agg-1"), ErrNotUpdated)
}

func TestStatementRepo_ClearReconciliation(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	line := newLine("company-1", "100", 1)
	require.NoError(t, repo.Insert(&line))
	require.NoError(t, repo.MarkAsReconciled(line.ID, "agg-1"))

	require.NoError(t, repo.ClearReconciliation(line.ID))

	got, err := repo.FindByID(line.ID)
	require.NoError(t, err)
	assert.False(t, got.IsReconciled)
	assert.Nil(t, got.ReconciledAt)
	assert.Empty(t, got.ReconciliationID)
	assert.Empty(t, got.PaymentMethodID)

	assert.ErrorIs(t, repo.ClearReconciliation("missing"), ErrNotUpdated)
}

func TestStatementRepo_GetUnreconciledBatch(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	var ids []string
	for day := 1; day <= 5; day++ {
		line := newLine("company-1", fmt.Sprintf("%d00", day), day)
		require.NoError(t, repo.Insert(&line))
		ids = append(ids, line.ID)
	}
	// Reconciled and other-company lines never appear.
	require.NoError(t, repo.MarkAsReconciled(ids[0], "agg-1"))
	other := newLine("company-2", "100", 2)
	require.NoError(t, repo.Insert(&other))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	lines, err := repo.GetUnreconciledBatch("company-1", start, end, -1, 0, "")
	require.NoError(t, err)
	require.Len(t, lines, 4)

	// Newest first.
	for i := 1; i < len(lines); i++ {
		assert.False(t, lines[i].TransactionDate.After(lines[i-1].TransactionDate))
	}

	// Pagination walks the same ordering.
	page1, err := repo.GetUnreconciledBatch("company-1", start, end, 2, 0, "")
	require.NoError(t, err)
	page2, err := repo.GetUnreconciledBatch("company-1", start, end, 2, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	assert.Equal(t, lines[0].ID, page1[0].ID)
	assert.Equal(t, lines[2].ID, page2[0].ID)
}

func TestStatementRepo_List(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	for day := 1; day <= 3; day++ {
		line := newLine("company-1", "100", day)
		require.NoError(t, repo.Insert(&line))
	}
	reconciled := newLine("company-1", "100", 4)
	require.NoError(t, repo.Insert(&reconciled))
	require.NoError(t, repo.MarkAsReconciled(reconciled.ID, "agg-1"))

	all, total, err := repo.List(StatementFilter{CompanyID: "company-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)

	yes := true
	recOnly, total, err := repo.List(StatementFilter{CompanyID: "company-1", Reconciled: &yes})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, recOnly, 1)
	assert.Equal(t, reconciled.ID, recOnly[0].ID)

	// Limit caps the page but not the reported total.
	page, total, err := repo.List(StatementFilter{CompanyID: "company-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, page, 2)
}

func TestStatementRepo_BulkUpdateReconciliationStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)

	l1 := newLine("company-1", "100", 1)
	l2 := newLine("company-1", "200", 1)
	require.NoError(t, repo.Insert(&l1))
	require.NoError(t, repo.Insert(&l2))

	n, err := repo.BulkUpdateReconciliationStatus([]string{l1.ID, l2.ID, "missing"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.FindByID(l1.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReconciled)

	n, err = repo.BulkUpdateReconciliationStatus([]string{l1.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = repo.FindByID(l1.ID)
	require.NoError(t, err)
	assert.False(t, got.IsReconciled)
	assert.Nil(t, got.ReconciledAt)
}

func TestStatementRepo_GetSummary(t *testing.T) {
	db := newTestDB(t)
	repo := NewStatementRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	l1 := newLine("company-1", "100.50", 1)
	l2 := newLine("company-1", "200.25", 2)
	debitLine := newLine("company-1", "0", 3)
	debitLine.DebitAmount = decimal.RequireFromString("50")
	require.NoError(t, repo.Insert(&l1))
	require.NoError(t, repo.Insert(&l2))
	require.NoError(t, repo.Insert(&debitLine))
	require.NoError(t, repo.MarkAsReconciled(l1.ID, "agg-1"))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	sum, err := repo.GetSummary("company-1", start, end)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalStatements)
	assert.Equal(t, 1, sum.ReconciledCount)
	assert.Equal(t, 2, sum.UnreconciledCount)
	assert.True(t, sum.ReconciledAmount.Equal(decimal.RequireFromString("100.50")))
	assert.True(t, sum.UnreconciledAmount.Equal(decimal.RequireFromString("150.25")))
}

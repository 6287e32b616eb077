package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artabooks/bankrecon/internal/domain"
)

func newGroup(aggregateID string, memberIDs ...string) *domain.ReconciliationGroup {
	g := &domain.ReconciliationGroup{
		ID:              uuid.NewString(),
		CompanyID:       "company-1",
		AggregateID:     aggregateID,
		TotalBankAmount: decimal.RequireFromString("100"),
		AggregateAmount: decimal.RequireFromString("100"),
		Difference:      decimal.Zero,
		Status:          domain.GroupReconciled,
		ReconciledAt:    time.Now().UTC(),
	}
	for _, id := range memberIDs {
		g.Details = append(g.Details, domain.GroupDetail{
			GroupID:     g.ID,
			StatementID: id,
			Amount:      decimal.RequireFromString("100"),
		})
	}
	return g
}

func TestGroupRepo_CreateWithDetails(t *testing.T) {
	db := newTestDB(t)
	stmtRepo := NewStatementRepo(db)
	groupRepo := NewGroupRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	line := newLine("company-1", "100", 1)
	require.NoError(t, stmtRepo.Insert(&line))

	group := newGroup("agg-1", line.ID)
	require.NoError(t, groupRepo.CreateWithDetails(group))

	got, err := groupRepo.FindByID(group.ID)
	require.NoError(t, err)
	require.Len(t, got.Details, 1)
	assert.Equal(t, line.ID, got.Details[0].StatementID)

	member, err := stmtRepo.FindByID(line.ID)
	require.NoError(t, err)
	assert.True(t, member.IsReconciled)
	assert.Equal(t, group.ID, member.ReconciliationGroupID)
}

func TestGroupRepo_UniqueActiveGroupPerAggregate(t *testing.T) {
	db := newTestDB(t)
	stmtRepo := NewStatementRepo(db)
	groupRepo := NewGroupRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	l1 := newLine("company-1", "100", 1)
	l2 := newLine("company-1", "100", 1)
	require.NoError(t, stmtRepo.Insert(&l1))
	require.NoError(t, stmtRepo.Insert(&l2))

	require.NoError(t, groupRepo.CreateWithDetails(newGroup("agg-1", l1.ID)))

	// The unique index rejects a second active group even when the caller
	// skipped the advisory pre-check.
	err := groupRepo.CreateWithDetails(newGroup("agg-1", l2.ID))
	assert.ErrorIs(t, err, ErrDuplicateGroup)

	// The losing member was not touched.
	member, err := stmtRepo.FindByID(l2.ID)
	require.NoError(t, err)
	assert.False(t, member.IsReconciled)
}

func TestGroupRepo_CreateRollsBackOnReconciledMember(t *testing.T) {
	db := newTestDB(t)
	stmtRepo := NewStatementRepo(db)
	groupRepo := NewGroupRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")
	seedAggregateRow(t, db, "agg-2", "pm-2")

	free := newLine("company-1", "100", 1)
	taken := newLine("company-1", "100", 1)
	require.NoError(t, stmtRepo.Insert(&free))
	require.NoError(t, stmtRepo.Insert(&taken))
	require.NoError(t, stmtRepo.MarkAsReconciled(taken.ID, "agg-2"))

	group := newGroup("agg-1", free.ID, taken.ID)
	err := groupRepo.CreateWithDetails(group)
	assert.ErrorIs(t, err, ErrNotUpdated)

	// Nothing committed: the group does not exist and the free member stays
	// unreconciled.
	_, err = groupRepo.FindByID(group.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	member, err := stmtRepo.FindByID(free.ID)
	require.NoError(t, err)
	assert.False(t, member.IsReconciled)
}

func TestGroupRepo_Undo(t *testing.T) {
	db := newTestDB(t)
	stmtRepo := NewStatementRepo(db)
	groupRepo := NewGroupRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	line := newLine("company-1", "100", 1)
	require.NoError(t, stmtRepo.Insert(&line))

	group := newGroup("agg-1", line.ID)
	require.NoError(t, groupRepo.CreateWithDetails(group))

	require.NoError(t, groupRepo.Undo(group.ID))

	got, err := groupRepo.FindByID(group.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupUndo, got.Status)
	require.NotNil(t, got.DeletedAt)

	member, err := stmtRepo.FindByID(line.ID)
	require.NoError(t, err)
	assert.False(t, member.IsReconciled)
	assert.Empty(t, member.ReconciliationGroupID)

	// Second undo hits the deleted_at guard.
	assert.ErrorIs(t, groupRepo.Undo(group.ID), ErrNotUpdated)
}

func TestGroupRepo_IsAggregateInGroup(t *testing.T) {
	db := newTestDB(t)
	stmtRepo := NewStatementRepo(db)
	groupRepo := NewGroupRepo(db)
	seedAggregateRow(t, db, "agg-1", "pm-1")

	line := newLine("company-1", "100", 1)
	require.NoError(t, stmtRepo.Insert(&line))

	inGroup, err := groupRepo.IsAggregateInGroup("agg-1")
	require.NoError(t, err)
	assert.False(t, inGroup)

	group := newGroup("agg-1", line.ID)
	require.NoError(t, groupRepo.CreateWithDetails(group))

	inGroup, err = groupRepo.IsAggregateInGroup("agg-1")
	require.NoError(t, err)
	assert.True(t, inGroup)

	// An undone group frees the aggregate.
	require.NoError(t, groupRepo.Undo(group.ID))
	inGroup, err = groupRepo.IsAggregateInGroup("agg-1")
	require.NoError(t, err)
	assert.False(t, inGroup)
}

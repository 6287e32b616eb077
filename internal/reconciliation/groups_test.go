package reconciliation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artabooks/bankrecon/internal/domain"
	"github.com/artabooks/bankrecon/internal/repository"
)

func TestCreateGroup_Success(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	s2 := env.seedStatement(t, "600", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	result, err := env.groups.CreateGroup("company-1", aggID, []string{s1, s2}, "split settlement", "user-1", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.TotalBankAmount.Equal(dec("1000")))
	assert.True(t, result.Difference.IsZero())
	assert.Equal(t, domain.GroupReconciled, result.Status)

	// Members carry the group link, not the single-match link.
	for _, id := range []string{s1, s2} {
		line, err := env.stmtRepo.FindByID(id)
		require.NoError(t, err)
		assert.True(t, line.IsReconciled)
		assert.Equal(t, result.GroupID, line.ReconciliationGroupID)
		assert.Empty(t, line.ReconciliationID)
	}

	group, err := env.groups.GetGroup(result.GroupID)
	require.NoError(t, err)
	assert.Len(t, group.Details, 2)
	assert.True(t, group.AggregateAmount.Equal(dec("1000")))
}

func TestCreateGroup_Validation(t *testing.T) {
	env := newTestEnv(t)
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	_, err := env.groups.CreateGroup("company-1", aggID, nil, "", "", false)
	assert.ErrorIs(t, err, ErrValidation)

	s1 := env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	_, err = env.groups.CreateGroup("company-1", aggID, []string{s1, s1}, "", "", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateGroup_AggregateAlreadyGrouped(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "1000", "0", date(2024, 1, 1), "")
	s2 := env.seedStatement(t, "1000", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	_, err := env.groups.CreateGroup("company-1", aggID, []string{s1}, "", "", false)
	require.NoError(t, err)

	_, err = env.groups.CreateGroup("company-1", aggID, []string{s2}, "", "", false)
	assert.ErrorIs(t, err, ErrGroupConflict)
}

func TestCreateGroup_MemberAlreadyReconciled(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "1000", "0", date(2024, 1, 1), "")
	singleAgg := env.seedAggregate(t, "1000", date(2024, 1, 1), "")
	groupAgg := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	_, err := env.svc.Reconcile(singleAgg, s1, "", "", false)
	require.NoError(t, err)

	_, err = env.groups.CreateGroup("company-1", groupAgg, []string{s1}, "", "", false)
	assert.ErrorIs(t, err, ErrGroupConflict)
}

func TestCreateGroup_ThresholdExceeded(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	_, err := env.groups.CreateGroup("company-1", aggID, []string{s1}, "", "", false)

	var thresholdErr *ThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	assert.True(t, thresholdErr.Difference.Equal(dec("600")))

	line, err := env.stmtRepo.FindByID(s1)
	require.NoError(t, err)
	assert.False(t, line.IsReconciled)
}

func TestCreateGroup_OverrideMarksDiscrepancy(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	result, err := env.groups.CreateGroup("company-1", aggID, []string{s1}, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupDiscrepancy, result.Status)
	assert.True(t, result.Difference.Equal(dec("600")))
}

func TestUndoGroup_ResetsMembers(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	s2 := env.seedStatement(t, "600", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	result, err := env.groups.CreateGroup("company-1", aggID, []string{s1, s2}, "", "user-1", false)
	require.NoError(t, err)

	require.NoError(t, env.groups.UndoGroup(result.GroupID, "user-1"))

	for _, id := range []string{s1, s2} {
		line, err := env.stmtRepo.FindByID(id)
		require.NoError(t, err)
		assert.False(t, line.IsReconciled)
		assert.Empty(t, line.ReconciliationGroupID)
		assert.Nil(t, line.ReconciledAt)
	}

	group, err := env.groups.GetGroup(result.GroupID)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupUndo, group.Status)
	require.NotNil(t, group.DeletedAt)

	// The aggregate is free for a new group once the old one is undone.
	_, err = env.groups.CreateGroup("company-1", aggID, []string{s1, s2}, "", "", false)
	assert.NoError(t, err)
}

func TestUndoGroup_Twice(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "1000", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	result, err := env.groups.CreateGroup("company-1", aggID, []string{s1}, "", "", false)
	require.NoError(t, err)

	require.NoError(t, env.groups.UndoGroup(result.GroupID, ""))
	assert.ErrorIs(t, env.groups.UndoGroup(result.GroupID, ""), ErrGroupUndone)
}

func TestUndoGroup_NotFound(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.groups.UndoGroup("missing", ""), ErrGroupNotFound)
}

func TestListGroups_ExcludesUndone(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.seedStatement(t, "1000", "0", date(2024, 1, 1), "")
	s2 := env.seedStatement(t, "500", "0", date(2024, 1, 1), "")
	agg1 := env.seedAggregate(t, "1000", date(2024, 1, 1), "")
	agg2 := env.seedAggregate(t, "500", date(2024, 1, 1), "")

	kept, err := env.groups.CreateGroup("company-1", agg1, []string{s1}, "", "", false)
	require.NoError(t, err)
	undone, err := env.groups.CreateGroup("company-1", agg2, []string{s2}, "", "", false)
	require.NoError(t, err)
	require.NoError(t, env.groups.UndoGroup(undone.GroupID, ""))

	groups, total, err := env.groups.ListGroups(repository.GroupFilter{CompanyID: "company-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, groups, 1)
	assert.Equal(t, kept.GroupID, groups[0].ID)
}

func TestSuggestMatches_FindsCombination(t *testing.T) {
	env := newTestEnv(t)
	env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	env.seedStatement(t, "600", "0", date(2024, 1, 1), "")
	env.seedStatement(t, "77777", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	suggestions, err := env.groups.SuggestMatches(aggID, date(2024, 1, 1), date(2024, 1, 2), decimal.Zero, 0)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)

	best := suggestions[0]
	assert.True(t, best.Total.Equal(dec("1000")))
	assert.True(t, best.Difference.IsZero())
	assert.Len(t, best.Statements, 2)
}

func TestSuggestMatches_RespectsMaxStatements(t *testing.T) {
	env := newTestEnv(t)
	env.seedStatement(t, "400", "0", date(2024, 1, 1), "")
	env.seedStatement(t, "600", "0", date(2024, 1, 1), "")
	env.seedStatement(t, "999", "0", date(2024, 1, 1), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	suggestions, err := env.groups.SuggestMatches(aggID, date(2024, 1, 1), date(2024, 1, 2), dec("0.05"), 1)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	for _, s := range suggestions {
		assert.Len(t, s.Statements, 1)
	}
	// Only the 999 line falls inside 5% of 1000 on its own.
	assert.True(t, suggestions[0].Total.Equal(dec("999")))
}

func TestSuggestMatches_RespectsDateWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seedStatement(t, "1000", "0", date(2024, 2, 15), "")
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	suggestions, err := env.groups.SuggestMatches(aggID, date(2024, 1, 1), date(2024, 1, 31), dec("0.05"), 0)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestSuggestMatches_NegativeTolerance(t *testing.T) {
	env := newTestEnv(t)
	aggID := env.seedAggregate(t, "1000", date(2024, 1, 1), "")

	_, err := env.groups.SuggestMatches(aggID, date(2024, 1, 1), date(2024, 1, 2), dec("-1"), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSuggestMatches_AggregateNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.groups.SuggestMatches("missing", date(2024, 1, 1), date(2024, 1, 2), decimal.Zero, 0)
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestExtractMID(t *testing.T) {
	assert.Equal(t, "885002200709", extractMID("KR OTOMATIS MID: 885002200709"))
	assert.Equal(t, "885002200709", extractMID("KR OTOMATIS MID 885002200709 QR"))
	assert.Equal(t, "", extractMID("TRANSFER DARI PT MAJU"))
	assert.Equal(t, "", extractMID(""))
}

func TestEnumerateSubsets_Bounded(t *testing.T) {
	var pool []domain.StatementLine
	for i := 0; i < 30; i++ {
		pool = append(pool, domain.StatementLine{
			ID:           string(rune('a' + i)),
			CreditAmount: dec("10"),
		})
	}

	// Every pair of lines hits the target exactly; the enumeration must stop
	// at its budget instead of walking all combinations.
	done := make(chan [][]domain.StatementLine, 1)
	go func() {
		done <- enumerateSubsets(pool, dec("20"), decimal.Zero, 5)
	}()
	select {
	case results := <-done:
		assert.NotEmpty(t, results)
		assert.LessOrEqual(t, len(results), suggestResultLimit*2)
	case <-time.After(5 * time.Second):
		t.Fatal("subset enumeration did not terminate within its budget")
	}
}

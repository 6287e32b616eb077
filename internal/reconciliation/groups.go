package reconciliation

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
	"github.com/artabooks/bankrecon/internal/repository"
)

// Caps for the suggestion search so the subset enumeration stays tractable.
const (
	defaultMaxStatements  = 5
	hardMaxStatements     = 20
	suggestCandidateLimit = 50
	suggestResultLimit    = 10
)

// GroupManager extends the reconciliation service with many-to-one matches:
// several bank lines reconciled against a single aggregate.
type GroupManager struct {
	stmtRepo  *repository.StatementRepo
	groupRepo *repository.GroupRepo
	source    TransactionSource
	auditRepo *repository.AuditRepo
	opts      Options
}

func NewGroupManager(stmtRepo *repository.StatementRepo, groupRepo *repository.GroupRepo, source TransactionSource, auditRepo *repository.AuditRepo, opts Options) *GroupManager {
	return &GroupManager{
		stmtRepo:  stmtRepo,
		groupRepo: groupRepo,
		source:    source,
		auditRepo: auditRepo,
		opts:      opts,
	}
}

// GroupResult reports a committed multi-match.
type GroupResult struct {
	Success         bool               `json:"success"`
	GroupID         string             `json:"group_id"`
	AggregateID     string             `json:"aggregate_id"`
	StatementIDs    []string           `json:"statement_ids"`
	TotalBankAmount decimal.Decimal    `json:"total_bank_amount"`
	AggregateAmount decimal.Decimal    `json:"aggregate_amount"`
	Difference      decimal.Decimal    `json:"difference"`
	Status          domain.GroupStatus `json:"status"`
}

// CreateGroup reconciles several statement lines against one aggregate. The
// advisory pre-checks (aggregate not grouped, members unreconciled) are
// re-enforced at commit time: the unique active-group index and the
// conditional member updates run inside one transaction, so two racing
// CreateGroup calls cannot both succeed.
func (m *GroupManager) CreateGroup(companyID, aggregateID string, statementIDs []string, notes, userID string, overrideDifference bool) (*GroupResult, error) {
	if len(statementIDs) == 0 {
		return nil, fmt.Errorf("%w: statement id list must not be empty", ErrValidation)
	}
	seen := make(map[string]bool, len(statementIDs))
	for _, id := range statementIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate statement id %s", ErrValidation, id)
		}
		seen[id] = true
	}

	agg, err := m.source.FindByID(aggregateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAggregateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if companyID != "" && agg.CompanyID != companyID {
		return nil, fmt.Errorf("%w: aggregate %s does not belong to company %s", ErrValidation, aggregateID, companyID)
	}

	inGroup, err := m.groupRepo.IsAggregateInGroup(aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if inGroup {
		return nil, ErrGroupConflict
	}

	total := decimal.Zero
	details := make([]domain.GroupDetail, 0, len(statementIDs))
	for _, id := range statementIDs {
		stmt, err := m.stmtRepo.FindByID(id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: statement %s", ErrStatementNotFound, id)
			}
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		if stmt.IsReconciled {
			return nil, ErrGroupConflict
		}
		if companyID != "" && stmt.CompanyID != companyID {
			return nil, ErrGroupConflict
		}
		net := stmt.NetAmount()
		total = total.Add(net)
		details = append(details, domain.GroupDetail{StatementID: id, Amount: net})
	}

	difference := total.Sub(agg.NettAmount).Abs()
	if difference.GreaterThan(m.opts.DifferenceThreshold) && !overrideDifference {
		return nil, &ThresholdError{Difference: difference, Threshold: m.opts.DifferenceThreshold}
	}

	status := domain.GroupReconciled
	if difference.GreaterThan(m.opts.DifferenceThreshold) {
		status = domain.GroupDiscrepancy
	}

	group := &domain.ReconciliationGroup{
		ID:              uuid.NewString(),
		CompanyID:       agg.CompanyID,
		AggregateID:     aggregateID,
		TotalBankAmount: total,
		AggregateAmount: agg.NettAmount,
		Difference:      difference,
		Status:          status,
		Notes:           notes,
		ReconciledBy:    userID,
		ReconciledAt:    time.Now().UTC(),
		Details:         details,
	}
	for i := range group.Details {
		group.Details[i].GroupID = group.ID
	}

	if err := m.groupRepo.CreateWithDetails(group); err != nil {
		if errors.Is(err, repository.ErrDuplicateGroup) || errors.Is(err, repository.ErrNotUpdated) {
			return nil, ErrGroupConflict
		}
		return nil, fmt.Errorf("create group: %w", err)
	}

	m.logAudit(domain.AuditManualReconcile, userID, "", aggregateID,
		fmt.Sprintf("group=%s members=%d total=%s difference=%s", group.ID, len(statementIDs), total, difference))

	return &GroupResult{
		Success:         true,
		GroupID:         group.ID,
		AggregateID:     aggregateID,
		StatementIDs:    statementIDs,
		TotalBankAmount: total,
		AggregateAmount: agg.NettAmount,
		Difference:      difference,
		Status:          status,
	}, nil
}

// UndoGroup resets every member statement and soft-deletes the group. A
// group with zero remaining members is undone without erroring.
func (m *GroupManager) UndoGroup(groupID, userID string) error {
	group, err := m.groupRepo.FindByID(groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if group.DeletedAt != nil {
		return ErrGroupUndone
	}

	if err := m.groupRepo.Undo(groupID); err != nil {
		if errors.Is(err, repository.ErrNotUpdated) {
			return ErrGroupUndone
		}
		return fmt.Errorf("undo group: %w", err)
	}

	m.logAudit(domain.AuditUndo, userID, "", group.AggregateID,
		fmt.Sprintf("group=%s members=%d", groupID, len(group.Details)))
	return nil
}

// GetGroup returns a group with its details.
func (m *GroupManager) GetGroup(groupID string) (*domain.ReconciliationGroup, error) {
	group, err := m.groupRepo.FindByID(groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return group, nil
}

// ListGroups returns the active groups matching the filter.
func (m *GroupManager) ListGroups(f repository.GroupFilter) ([]domain.ReconciliationGroup, int, error) {
	groups, total, err := m.groupRepo.List(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return groups, total, nil
}

// StatusCounts reports how many groups sit in each status for the window.
func (m *GroupManager) StatusCounts(companyID string, start, end time.Time) (map[string]int, error) {
	counts, err := m.groupRepo.CountByStatus(companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return counts, nil
}

// Suggestion is one candidate combination of statement lines whose sum falls
// within tolerance of the aggregate amount.
type Suggestion struct {
	Statements []domain.StatementLine `json:"statements"`
	Total      decimal.Decimal        `json:"total"`
	Difference decimal.Decimal        `json:"difference"`
}

// SuggestMatches searches unreconciled lines inside the date window for
// combinations summing close to the aggregate amount. The search is a
// bounded subset enumeration: at most maxStatements lines per combination
// (default 5, hard cap 20) over a capped candidate list. Candidates sharing
// a merchant id extracted from the description are tried together first,
// since card settlements usually split along merchant terminals.
func (m *GroupManager) SuggestMatches(aggregateID string, start, end time.Time, tolerancePercent decimal.Decimal, maxStatements int) ([]Suggestion, error) {
	if maxStatements <= 0 {
		maxStatements = defaultMaxStatements
	}
	if maxStatements > hardMaxStatements {
		maxStatements = hardMaxStatements
	}
	if tolerancePercent.IsNegative() {
		return nil, fmt.Errorf("%w: tolerance percent must be >= 0", ErrValidation)
	}
	if tolerancePercent.IsZero() {
		tolerancePercent = decimal.RequireFromString("0.05")
	}

	agg, err := m.source.FindByID(aggregateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAggregateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	candidates, err := m.stmtRepo.GetUnreconciledBatch(agg.CompanyID, start, end, suggestCandidateLimit, 0, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	target := agg.NettAmount
	toleranceAmount := target.Abs().Mul(tolerancePercent)

	// Closest amounts first so good combinations surface early.
	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].NetAmount().Sub(target).Abs()
		dj := candidates[j].NetAmount().Sub(target).Abs()
		return di.LessThan(dj)
	})

	var suggestions []Suggestion
	seenCombos := make(map[string]bool)

	collect := func(pool []domain.StatementLine) {
		for _, combo := range enumerateSubsets(pool, target, toleranceAmount, maxStatements) {
			key := comboKey(combo)
			if seenCombos[key] {
				continue
			}
			seenCombos[key] = true

			total := decimal.Zero
			for _, line := range combo {
				total = total.Add(line.NetAmount())
			}
			suggestions = append(suggestions, Suggestion{
				Statements: combo,
				Total:      total,
				Difference: total.Sub(target).Abs(),
			})
		}
	}

	// MID buckets first, then the full candidate pool.
	for _, bucket := range bucketByMID(candidates) {
		collect(bucket)
	}
	collect(candidates)

	sort.SliceStable(suggestions, func(i, j int) bool {
		if !suggestions[i].Difference.Equal(suggestions[j].Difference) {
			return suggestions[i].Difference.LessThan(suggestions[j].Difference)
		}
		return len(suggestions[i].Statements) < len(suggestions[j].Statements)
	})
	if len(suggestions) > suggestResultLimit {
		suggestions = suggestions[:suggestResultLimit]
	}
	return suggestions, nil
}

// enumerateSubsets walks combinations of up to maxSize lines whose sum lands
// within tolerance of the target. The expansion count is bounded so a
// pathological candidate list cannot blow up the search.
func enumerateSubsets(pool []domain.StatementLine, target, tolerance decimal.Decimal, maxSize int) [][]domain.StatementLine {
	const expansionBudget = 20000

	var results [][]domain.StatementLine
	expansions := 0

	var walk func(startIdx int, current []domain.StatementLine, sum decimal.Decimal)
	walk = func(startIdx int, current []domain.StatementLine, sum decimal.Decimal) {
		if expansions >= expansionBudget || len(results) >= suggestResultLimit*2 {
			return
		}
		if len(current) > 0 && sum.Sub(target).Abs().LessThanOrEqual(tolerance) {
			combo := make([]domain.StatementLine, len(current))
			copy(combo, current)
			results = append(results, combo)
		}
		if len(current) == maxSize {
			return
		}
		for i := startIdx; i < len(pool); i++ {
			expansions++
			if expansions >= expansionBudget {
				return
			}
			walk(i+1, append(current, pool[i]), sum.Add(pool[i].NetAmount()))
		}
	}
	walk(0, nil, decimal.Zero)
	return results
}

var midPattern = regexp.MustCompile(`MID[:\s]+(\d+)`)

// extractMID pulls a merchant id out of a statement description such as
// "KR OTOMATIS MID: 885002200709". Returns "" when none is present.
func extractMID(description string) string {
	m := midPattern.FindStringSubmatch(description)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func bucketByMID(lines []domain.StatementLine) [][]domain.StatementLine {
	byMID := make(map[string][]domain.StatementLine)
	var order []string
	for _, line := range lines {
		mid := extractMID(line.Description)
		if mid == "" {
			continue
		}
		if _, ok := byMID[mid]; !ok {
			order = append(order, mid)
		}
		byMID[mid] = append(byMID[mid], line)
	}

	var buckets [][]domain.StatementLine
	for _, mid := range order {
		if len(byMID[mid]) > 1 {
			buckets = append(buckets, byMID[mid])
		}
	}
	return buckets
}

func comboKey(lines []domain.StatementLine) string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ID
	}
	sort.Strings(ids)
	key := ""
	for _, id := range ids {
		key += id + "|"
	}
	return key
}

func (m *GroupManager) logAudit(action domain.AuditAction, userID, statementID, aggregateID, details string) {
	if m.auditRepo == nil {
		return
	}
	entry := &domain.AuditEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Action:      action,
		StatementID: statementID,
		AggregateID: aggregateID,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
	if err := m.auditRepo.Insert(entry); err != nil {
		log.Printf("[reconciliation] WARNING: failed to write audit entry for group action: %v", err)
	}
}

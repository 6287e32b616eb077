package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/ingestion"
	"github.com/artabooks/bankrecon/internal/matching"
	"github.com/artabooks/bankrecon/internal/reconciliation"
	"github.com/artabooks/bankrecon/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	reconSvc     *reconciliation.Service
	groupMgr     *reconciliation.GroupManager
	ingestionSvc *ingestion.Service
	stmtRepo     *repository.StatementRepo
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the reconciliation error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var thresholdErr *reconciliation.ThresholdError
	switch {
	case errors.As(err, &thresholdErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     thresholdErr.Error(),
			"amount":    thresholdErr.Difference,
			"threshold": thresholdErr.Threshold,
		})
	case errors.Is(err, reconciliation.ErrStatementNotFound),
		errors.Is(err, reconciliation.ErrAggregateNotFound),
		errors.Is(err, reconciliation.ErrGroupNotFound),
		errors.Is(err, reconciliation.ErrNoMatchFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reconciliation.ErrAlreadyReconciled),
		errors.Is(err, reconciliation.ErrGroupConflict),
		errors.Is(err, reconciliation.ErrGroupUndone):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reconciliation.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// dateWindow resolves from/to query params, defaulting the end of the window
// to the end of the from-day.
func dateWindow(q map[string][]string, fromKey, toKey string) (time.Time, time.Time, bool) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	from := parseTime(get(fromKey))
	if from == nil {
		return time.Time{}, time.Time{}, false
	}
	to := parseTime(get(toKey))
	if to == nil {
		end := from.Add(24*time.Hour - time.Second)
		return *from, end, true
	}
	return *from, *to, true
}

// criteriaRequest allows partial overrides of the configured matching
// criteria.
type criteriaRequest struct {
	AmountTolerance     *decimal.Decimal `json:"amount_tolerance"`
	DateBufferDays      *int             `json:"date_buffer_days"`
	DifferenceThreshold *decimal.Decimal `json:"difference_threshold"`
}

func (h *Handlers) resolveCriteria(req *criteriaRequest) *matching.Criteria {
	if req == nil {
		return nil
	}
	crit := h.reconSvc.DefaultCriteria()
	if req.AmountTolerance != nil {
		crit.AmountTolerance = *req.AmountTolerance
	}
	if req.DateBufferDays != nil {
		crit.DateBufferDays = *req.DateBufferDays
	}
	if req.DifferenceThreshold != nil {
		crit.DifferenceThreshold = *req.DifferenceThreshold
	}
	return &crit
}

// --- ManualReconcile ---

func (h *Handlers) ManualReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AggregateID        string `json:"aggregate_id"`
		StatementID        string `json:"statement_id"`
		UserID             string `json:"user_id"`
		Notes              string `json:"notes"`
		OverrideDifference bool   `json:"override_difference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AggregateID == "" || req.StatementID == "" {
		writeError(w, http.StatusBadRequest, "aggregate_id and statement_id are required")
		return
	}

	result, err := h.reconSvc.Reconcile(req.AggregateID, req.StatementID, req.UserID, req.Notes, req.OverrideDifference)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- AutoMatch ---

func (h *Handlers) AutoMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID string           `json:"company_id"`
		StartDate string           `json:"start_date"`
		EndDate   string           `json:"end_date"`
		UserID    string           `json:"user_id"`
		Criteria  *criteriaRequest `json:"criteria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	start := parseTime(req.StartDate)
	if start == nil {
		writeError(w, http.StatusBadRequest, "start_date is required")
		return
	}
	end := parseTime(req.EndDate)
	if end == nil {
		e := start.Add(24*time.Hour - time.Second)
		end = &e
	}

	result, err := h.reconSvc.AutoMatch(req.CompanyID, *start, *end, req.UserID, h.resolveCriteria(req.Criteria))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Undo ---

func (h *Handlers) Undo(w http.ResponseWriter, r *http.Request) {
	statementID := chi.URLParam(r, "statementID")
	if statementID == "" {
		writeError(w, http.StatusBadRequest, "statement id is required")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if r.Body != nil {
		// Body is optional for undo.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.reconSvc.Undo(statementID, req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "statement_id": statementID})
}

// --- ListStatements ---

func (h *Handlers) ListStatements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var reconciled *bool
	if v := q.Get("reconciled"); v != "" {
		b := v == "true" || v == "1"
		reconciled = &b
	}

	filter := repository.StatementFilter{
		CompanyID:     q.Get("company_id"),
		BankAccountID: q.Get("bank_account_id"),
		Reconciled:    reconciled,
		From:          parseTime(q.Get("from")),
		To:            parseTime(q.Get("to")),
		Page:          parseIntDefault(q.Get("page"), 1),
		Limit:         parseIntDefault(q.Get("limit"), 50),
	}

	lines, total, err := h.stmtRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"statements": lines,
		"total":      total,
		"page":       filter.Page,
		"limit":      filter.Limit,
	})
}

// --- GetPotentialMatches ---

func (h *Handlers) GetPotentialMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	matches, err := h.reconSvc.GetPotentialMatches(id, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// --- GetAuditTrail ---

func (h *Handlers) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	entries, err := h.reconSvc.AuditTrail(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- GetDiscrepancies ---

func (h *Handlers) GetDiscrepancies(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	start, end, ok := dateWindow(r.URL.Query(), "from", "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "from date is required")
		return
	}

	discs, err := h.reconSvc.GetDiscrepancies(companyID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": discs,
		"total":         len(discs),
	})
}

// --- GetSummary ---

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	start, end, ok := dateWindow(r.URL.Query(), "from", "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "from date is required")
		return
	}

	summary, err := h.reconSvc.GetSummary(companyID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	groupCounts, err := h.groupMgr.StatusCounts(companyID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statements": summary,
		"groups":     groupCounts,
	})
}

// --- CreateMultiMatch ---

func (h *Handlers) CreateMultiMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID          string   `json:"company_id"`
		AggregateID        string   `json:"aggregate_id"`
		StatementIDs       []string `json:"statement_ids"`
		UserID             string   `json:"user_id"`
		Notes              string   `json:"notes"`
		OverrideDifference bool     `json:"override_difference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AggregateID == "" || len(req.StatementIDs) == 0 {
		writeError(w, http.StatusBadRequest, "aggregate_id and statement_ids are required")
		return
	}

	result, err := h.groupMgr.CreateGroup(req.CompanyID, req.AggregateID, req.StatementIDs,
		req.Notes, req.UserID, req.OverrideDifference)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- UndoMultiMatch ---

func (h *Handlers) UndoMultiMatch(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group id is required")
		return
	}

	if err := h.groupMgr.UndoGroup(groupID, r.URL.Query().Get("user_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "group_id": groupID})
}

// --- ListGroups ---

func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.GroupFilter{
		CompanyID: q.Get("company_id"),
		Status:    q.Get("status"),
		From:      parseTime(q.Get("from")),
		To:        parseTime(q.Get("to")),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	groups, total, err := h.groupMgr.ListGroups(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

// --- GetGroup ---

func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group id is required")
		return
	}

	group, err := h.groupMgr.GetGroup(groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// --- GetSuggestions ---

func (h *Handlers) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aggregateID := q.Get("aggregate_id")
	if aggregateID == "" {
		writeError(w, http.StatusBadRequest, "aggregate_id is required")
		return
	}
	start, end, ok := dateWindow(q, "from", "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "from date is required")
		return
	}

	tolerance := decimal.Zero
	if v := q.Get("tolerance_percent"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tolerance_percent")
			return
		}
		tolerance = d
	}
	maxStatements := parseIntDefault(q.Get("max_statements"), 0)

	suggestions, err := h.groupMgr.SuggestMatches(aggregateID, start, end, tolerance, maxStatements)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// --- ImportStatements ---

func (h *Handlers) ImportStatements(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	companyID := r.FormValue("company_id")
	bankAccountID := r.FormValue("bank_account_id")
	if companyID == "" || bankAccountID == "" {
		writeError(w, http.StatusBadRequest, "company_id and bank_account_id are required")
		return
	}

	layout := ingestion.DefaultLayout()
	if v := r.FormValue("layout"); v != "" {
		if err := json.Unmarshal([]byte(v), &layout); err != nil {
			writeError(w, http.StatusBadRequest, "invalid layout: "+err.Error())
			return
		}
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestionSvc.ImportCSV(data, companyID, bankAccountID, layout)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- BulkUpdateStatus ---

func (h *Handlers) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs          []string `json:"ids"`
		IsReconciled bool     `json:"is_reconciled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	updated, err := h.reconSvc.BulkUpdateStatus(req.IDs, req.IsReconciled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

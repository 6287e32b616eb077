package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artabooks/bankrecon/internal/ingestion"
	"github.com/artabooks/bankrecon/internal/reconciliation"
	"github.com/artabooks/bankrecon/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	reconSvc *reconciliation.Service,
	groupMgr *reconciliation.GroupManager,
	ingestionSvc *ingestion.Service,
	stmtRepo *repository.StatementRepo,
) http.Handler {
	h := &Handlers{
		reconSvc:     reconSvc,
		groupMgr:     groupMgr,
		ingestionSvc: ingestionSvc,
		stmtRepo:     stmtRepo,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/manual", h.ManualReconcile)
			r.Post("/auto-match", h.AutoMatch)
			r.Post("/undo/{statementID}", h.Undo)

			r.Get("/statements", h.ListStatements)
			r.Get("/statements/{id}/potential-matches", h.GetPotentialMatches)
			r.Get("/statements/{id}/audit", h.GetAuditTrail)

			r.Get("/discrepancies", h.GetDiscrepancies)
			r.Get("/summary", h.GetSummary)

			r.Post("/multi-match", h.CreateMultiMatch)
			r.Get("/multi-match/groups", h.ListGroups)
			r.Get("/multi-match/suggestions", h.GetSuggestions)
			r.Get("/multi-match/{groupID}", h.GetGroup)
			r.Delete("/multi-match/{groupID}", h.UndoMultiMatch)
		})

		// Statement ingestion and administration.
		r.Post("/statements/import", h.ImportStatements)
		r.Post("/statements/bulk-status", h.BulkUpdateStatus)
	})

	return r
}

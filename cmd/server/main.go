package main

import (
	"log"
	"net/http"

	"github.com/artabooks/bankrecon/internal/api"
	"github.com/artabooks/bankrecon/internal/config"
	"github.com/artabooks/bankrecon/internal/ingestion"
	"github.com/artabooks/bankrecon/internal/reconciliation"
	"github.com/artabooks/bankrecon/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	stmtRepo := repository.NewStatementRepo(db)
	aggRepo := repository.NewAggregateRepo(db)
	groupRepo := repository.NewGroupRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	importRepo := repository.NewImportRepo(db)

	// Create services.
	opts := reconciliation.Options{
		AmountTolerance:     cfg.AmountTolerance,
		DateBufferDays:      cfg.DateBufferDays,
		DifferenceThreshold: cfg.DifferenceThreshold,
		AutoMatchBatchSize:  cfg.AutoMatchBatchSize,
	}
	reconSvc := reconciliation.NewService(stmtRepo, aggRepo, auditRepo, opts)
	groupMgr := reconciliation.NewGroupManager(stmtRepo, groupRepo, aggRepo, auditRepo, opts)
	ingestionSvc := ingestion.NewService(stmtRepo, importRepo)

	// Create router.
	router := api.NewRouter(reconSvc, groupMgr, ingestionSvc, stmtRepo)

	log.Printf("Bank Statement Reconciliation Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/reconciliation/manual")
	log.Printf("  POST   /api/v1/reconciliation/auto-match")
	log.Printf("  POST   /api/v1/reconciliation/undo/{statementID}")
	log.Printf("  GET    /api/v1/reconciliation/statements")
	log.Printf("  GET    /api/v1/reconciliation/discrepancies")
	log.Printf("  GET    /api/v1/reconciliation/summary")
	log.Printf("  POST   /api/v1/reconciliation/multi-match")
	log.Printf("  GET    /api/v1/reconciliation/multi-match/groups")
	log.Printf("  POST   /api/v1/statements/import")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

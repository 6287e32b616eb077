package ingestion

import (
	"crypto/sha256"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/artabooks/bankrecon/internal/repository"
)

// ImportResult is returned from a successful statement import.
type ImportResult struct {
	ImportID          string `json:"import_id"`
	LinesImported     int    `json:"lines_imported"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
}

// Service ingests bank-statement CSV exports into the statement store.
// Re-uploading the same file is a no-op thanks to the file-hash check.
type Service struct {
	stmtRepo   *repository.StatementRepo
	importRepo *repository.ImportRepo
}

func NewService(stmtRepo *repository.StatementRepo, importRepo *repository.ImportRepo) *Service {
	return &Service{stmtRepo: stmtRepo, importRepo: importRepo}
}

// ImportCSV parses and stores the statement lines of one export file.
func (s *Service) ImportCSV(data []byte, companyID, bankAccountID string, layout ColumnLayout) (*ImportResult, error) {
	if companyID == "" || bankAccountID == "" {
		return nil, fmt.Errorf("company id and bank account id are required")
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.importRepo.ExistsByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		return &ImportResult{ImportID: "already-imported"}, nil
	}

	lines, err := ParseStatementCSV(data, companyID, bankAccountID, layout)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	inserted, err := s.stmtRepo.BulkInsert(lines)
	if err != nil {
		return nil, fmt.Errorf("insert lines: %w", err)
	}

	importID := uuid.NewString()
	if err := s.importRepo.Record(importID, bankAccountID, hash, inserted); err != nil {
		return nil, fmt.Errorf("record import: %w", err)
	}

	log.Printf("[ingestion] Imported %d statement lines (%d duplicates skipped) for account %s",
		inserted, len(lines)-inserted, bankAccountID)

	return &ImportResult{
		ImportID:          importID,
		LinesImported:     inserted,
		DuplicatesSkipped: len(lines) - inserted,
	}, nil
}

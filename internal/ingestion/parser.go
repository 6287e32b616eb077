package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/artabooks/bankrecon/internal/domain"
)

// ColumnLayout maps CSV columns to statement fields. Banks export wildly
// different layouts, so the mapping is caller-supplied per file.
type ColumnLayout struct {
	DateColumn        int    `json:"date_column"`
	DescriptionColumn int    `json:"description_column"`
	DebitColumn       int    `json:"debit_column"`
	CreditColumn      int    `json:"credit_column"`
	ReferenceColumn   int    `json:"reference_column"` // -1 when absent
	DateFormat        string `json:"date_format"`
	HasHeader         bool   `json:"has_header"`
}

// DefaultLayout matches the common date,description,reference,debit,credit
// export.
func DefaultLayout() ColumnLayout {
	return ColumnLayout{
		DateColumn:        0,
		DescriptionColumn: 1,
		ReferenceColumn:   2,
		DebitColumn:       3,
		CreditColumn:      4,
		DateFormat:        "2006-01-02",
		HasHeader:         true,
	}
}

func (l ColumnLayout) validate() error {
	cols := []int{l.DateColumn, l.DescriptionColumn, l.DebitColumn, l.CreditColumn}
	for _, c := range cols {
		if c < 0 {
			return fmt.Errorf("column indexes must be >= 0")
		}
	}
	if l.DateFormat == "" {
		return fmt.Errorf("date format is required")
	}
	return nil
}

// ParseStatementCSV parses one bank-statement export into statement lines.
// Empty amount cells are read as zero; a row where both debit and credit are
// zero is skipped.
func ParseStatementCSV(data []byte, companyID, bankAccountID string, layout ColumnLayout) ([]domain.StatementLine, error) {
	if err := layout.validate(); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	minCols := layout.DateColumn
	for _, c := range []int{layout.DescriptionColumn, layout.DebitColumn, layout.CreditColumn, layout.ReferenceColumn} {
		if c > minCols {
			minCols = c
		}
	}
	minCols++

	now := time.Now().UTC()
	var lines []domain.StatementLine
	lineNum := 0

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if lineNum == 1 && layout.HasHeader {
			continue
		}
		if len(row) < minCols {
			continue
		}

		txDate, err := time.Parse(layout.DateFormat, strings.TrimSpace(row[layout.DateColumn]))
		if err != nil {
			return nil, fmt.Errorf("line %d date: %w", lineNum, err)
		}
		debit, err := parseAmount(row[layout.DebitColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d debit: %w", lineNum, err)
		}
		credit, err := parseAmount(row[layout.CreditColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d credit: %w", lineNum, err)
		}
		if debit.IsNegative() || credit.IsNegative() {
			return nil, fmt.Errorf("line %d: debit and credit must be non-negative", lineNum)
		}
		if debit.IsZero() && credit.IsZero() {
			continue
		}

		ref := ""
		if layout.ReferenceColumn >= 0 && layout.ReferenceColumn < len(row) {
			ref = strings.TrimSpace(row[layout.ReferenceColumn])
		}

		lines = append(lines, domain.StatementLine{
			ID:              uuid.NewString(),
			CompanyID:       companyID,
			BankAccountID:   bankAccountID,
			TransactionDate: txDate,
			Description:     strings.TrimSpace(row[layout.DescriptionColumn]),
			ReferenceNumber: ref,
			DebitAmount:     debit,
			CreditAmount:    credit,
			CreatedAt:       now,
		})
	}

	return lines, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

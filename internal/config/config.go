package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds engine settings sourced from the environment, read once at
// startup.
type Config struct {
	Port   string
	DBPath string

	// AmountTolerance is the maximum gap between a statement net amount and
	// an aggregate nett amount for the amount-based matching tiers.
	AmountTolerance decimal.Decimal
	// DateBufferDays is the fuzzy-tier date window, inclusive, 0..30.
	DateBufferDays int
	// DifferenceThreshold is the maximum accepted absolute difference for a
	// manual reconcile or a clean group status.
	DifferenceThreshold decimal.Decimal
	// AutoMatchBatchSize bounds how many unreconciled lines one auto-match
	// run loads.
	AutoMatchBatchSize int
	// MaxRetries is advisory for callers retrying per-line commits; the
	// engine itself does not retry.
	MaxRetries int
}

const (
	defaultAmountTolerance     = "0.01"
	defaultDateBufferDays      = 3
	defaultDifferenceThreshold = "100"
	defaultAutoMatchBatchSize  = 500
	defaultMaxRetries          = 3
)

// Load reads the configuration from environment variables, applying defaults
// and validating ranges before any store access happens.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                envDefault("PORT", "8080"),
		DBPath:              envDefault("DB_PATH", "bankrecon.db"),
		DateBufferDays:      envInt("DATE_BUFFER_DAYS", defaultDateBufferDays),
		AutoMatchBatchSize:  envInt("AUTO_MATCH_BATCH_SIZE", defaultAutoMatchBatchSize),
		MaxRetries:          envInt("MAX_RETRIES", defaultMaxRetries),
		AmountTolerance:     decimal.RequireFromString(defaultAmountTolerance),
		DifferenceThreshold: decimal.RequireFromString(defaultDifferenceThreshold),
	}

	if v := os.Getenv("AMOUNT_TOLERANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("AMOUNT_TOLERANCE: %w", err)
		}
		cfg.AmountTolerance = d
	}
	if v := os.Getenv("DIFFERENCE_THRESHOLD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("DIFFERENCE_THRESHOLD: %w", err)
		}
		cfg.DifferenceThreshold = d
	}

	if cfg.AmountTolerance.IsNegative() {
		return nil, fmt.Errorf("AMOUNT_TOLERANCE must be >= 0, got %s", cfg.AmountTolerance)
	}
	if cfg.DifferenceThreshold.IsNegative() {
		return nil, fmt.Errorf("DIFFERENCE_THRESHOLD must be >= 0, got %s", cfg.DifferenceThreshold)
	}
	if cfg.DateBufferDays < 0 || cfg.DateBufferDays > 30 {
		return nil, fmt.Errorf("DATE_BUFFER_DAYS must be in [0,30], got %d", cfg.DateBufferDays)
	}
	if cfg.AutoMatchBatchSize < 1 {
		return nil, fmt.Errorf("AUTO_MATCH_BATCH_SIZE must be >= 1, got %d", cfg.AutoMatchBatchSize)
	}

	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

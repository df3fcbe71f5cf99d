package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pendergraft/sourcify-extractor/internal/config"
)

// Contract outcomes recorded in the ledger
const (
	StatusVerified = "verified"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// OutcomeStore handles per-contract extraction outcomes
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, o *Outcome) error
	GetOutcome(ctx context.Context, chainID uint64, address string) (*Outcome, error)
	SummarizeChains(ctx context.Context) ([]ChainSummary, error)
}

// Store combines the ledger interface with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	OutcomeStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Outcome is the latest result of extracting one contract. Only status is
// kept; sources and metadata are never stored.
type Outcome struct {
	ID                 string
	RunID              string
	ChainID            uint64
	Address            string
	Status             string
	Reason             string // error class for failed outcomes
	Error              string
	VerificationStatus string // status reported by the verification service
	Attempts           int
	UpdatedAt          string
}

// ChainSummary aggregates outcomes for one chain
type ChainSummary struct {
	ChainID     uint64 `json:"chainId"`
	Verified    int    `json:"verified"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	LastUpdated string `json:"lastUpdated"`
}

// Total returns the number of distinct contracts recorded for the chain.
func (s ChainSummary) Total() int {
	return s.Verified + s.Skipped + s.Failed
}

// Driver identifies the backend selected by a connection string
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// ParseURL picks the backend for a connection string. postgres:// and
// postgresql:// select Postgres; sqlite://<path> or a bare path selects SQLite.
func ParseURL(url string) (Driver, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url
	case strings.HasPrefix(url, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return DriverSQLite, url
	}
}

// New creates a new store based on configuration
func New(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	driver, dsn := ParseURL(cfg.URL)

	switch driver {
	case DriverPostgres:
		if cfg.CreateDatabase {
			if err := CreatePostgresDatabase(ctx, dsn, logger); err != nil {
				return nil, err
			}
		}
		return NewPostgresStore(ctx, dsn, logger)
	case DriverSQLite:
		return NewSQLiteStore(dsn, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

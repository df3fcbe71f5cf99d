package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Chain workers write concurrently; serialize them on one connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contract_outcomes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(chain_id, address)
	);

	CREATE INDEX IF NOT EXISTS idx_contract_outcomes_status ON contract_outcomes(chain_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// RecordOutcome inserts or replaces the outcome of a contract, counting attempts
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = generateID()
	}

	query := `
		INSERT INTO contract_outcomes (id, run_id, chain_id, address, status, reason, error, verification_status, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, datetime('now'))
		ON CONFLICT (chain_id, address) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			reason = excluded.reason,
			error = excluded.error,
			verification_status = excluded.verification_status,
			attempts = contract_outcomes.attempts + 1,
			updated_at = datetime('now')
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.RunID, formatChainID(o.ChainID), o.Address, o.Status, o.Reason, o.Error, o.VerificationStatus,
	)
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// GetOutcome retrieves the latest outcome for a contract
func (s *SQLiteStore) GetOutcome(ctx context.Context, chainID uint64, address string) (*Outcome, error) {
	query := `
		SELECT id, run_id, address, status, reason, error, verification_status, attempts, updated_at
		FROM contract_outcomes
		WHERE chain_id = ? AND address = ?
	`
	var o Outcome
	err := s.db.QueryRowContext(ctx, query, formatChainID(chainID), address).Scan(
		&o.ID, &o.RunID, &o.Address, &o.Status, &o.Reason, &o.Error, &o.VerificationStatus, &o.Attempts, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.ChainID = chainID
	return &o, nil
}

// SummarizeChains counts outcomes per chain, ordered by chain id
func (s *SQLiteStore) SummarizeChains(ctx context.Context) ([]ChainSummary, error) {
	query := `
		SELECT
			chain_id,
			SUM(CASE WHEN status = 'verified' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			MAX(updated_at)
		FROM contract_outcomes
		GROUP BY chain_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ChainSummary
	for rows.Next() {
		var chain string
		var sum ChainSummary
		if err := rows.Scan(&chain, &sum.Verified, &sum.Skipped, &sum.Failed, &sum.LastUpdated); err != nil {
			return nil, err
		}
		if sum.ChainID, err = parseChainID(chain); err != nil {
			return nil, fmt.Errorf("invalid chain id %q in ledger: %w", chain, err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ChainID < summaries[j].ChainID })
	return summaries, nil
}

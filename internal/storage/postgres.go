package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// CreatePostgresDatabase creates the database named in url if it does not
// exist yet, connecting through the "postgres" maintenance database.
func CreatePostgresDatabase(ctx context.Context, url string, logger *slog.Logger) error {
	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	name := cfg.Database
	if name == "" {
		return fmt.Errorf("database url has no database name")
	}
	cfg.Database = "postgres"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to maintenance database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking database: %w", err)
	}
	if exists {
		logger.Debug("database already exists", "database", name)
		return nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	logger.Info("database created", "database", name)
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contract_outcomes (
		id UUID PRIMARY KEY,
		run_id TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(chain_id, address)
	);

	CREATE INDEX IF NOT EXISTS idx_contract_outcomes_status ON contract_outcomes(chain_id, status);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// RecordOutcome inserts or replaces the outcome of a contract, counting attempts
func (s *PostgresStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = generateID()
	}

	query := `
		INSERT INTO contract_outcomes (id, run_id, chain_id, address, status, reason, error, verification_status, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW())
		ON CONFLICT (chain_id, address) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			verification_status = EXCLUDED.verification_status,
			attempts = contract_outcomes.attempts + 1,
			updated_at = NOW()
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
func (s *PostgresStore) GetOutcome(ctx context.Context, chainID uint64, address string) (*Outcome, error) {
	query := `
		SELECT id, run_id, chain_id, address, status, reason, error, verification_status, attempts, updated_at
		FROM contract_outcomes
		WHERE chain_id = $1 AND address = $2
	`
	var o Outcome
	var chain string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, formatChainID(chainID), address).Scan(
		&o.ID, &o.RunID, &chain, &o.Address, &o.Status, &o.Reason, &o.Error, &o.VerificationStatus, &o.Attempts, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.ChainID = chainID
	o.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	return &o, nil
}

// SummarizeChains counts outcomes per chain, ordered by chain id
func (s *PostgresStore) SummarizeChains(ctx context.Context) ([]ChainSummary, error) {
	query := `
		SELECT
			chain_id,
			COUNT(*) FILTER (WHERE status = 'verified'),
			COUNT(*) FILTER (WHERE status = 'skipped'),
			COUNT(*) FILTER (WHERE status = 'failed'),
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
		var last time.Time
		var sum ChainSummary
		if err := rows.Scan(&chain, &sum.Verified, &sum.Skipped, &sum.Failed, &last); err != nil {
			return nil, err
		}
		if sum.ChainID, err = parseChainID(chain); err != nil {
			return nil, fmt.Errorf("invalid chain id %q in ledger: %w", chain, err)
		}
		sum.LastUpdated = last.UTC().Format(time.RFC3339)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ChainID < summaries[j].ChainID })
	return summaries, nil
}

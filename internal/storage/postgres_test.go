//go:build e2e

package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/sourcify-extractor/internal/config"
)

// setupPostgres starts a Postgres container and returns the connection string
func setupPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("extractor"),
		postgres.WithPassword("extractor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	// Point at a database that does not exist yet so CreateDatabase is exercised.
	baseURL := setupPostgres(ctx, t)
	url := strings.Replace(baseURL, "/postgres?", "/sourcify_extractor?", 1)

	store, err := New(ctx, config.DatabaseConfig{URL: url, CreateDatabase: true}, logger)
	require.NoError(t, err)
	defer store.Close()

	// Creating an existing database is a no-op.
	require.NoError(t, CreatePostgresDatabase(ctx, url, logger))

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")

	t.Run("RecordAndGetOutcome", func(t *testing.T) {
		o := &Outcome{RunID: NewRunID(), ChainID: 1, Address: "0xabc", Status: StatusFailed, Reason: "rpc", Error: "HTTP 503"}
		require.NoError(t, store.RecordOutcome(ctx, o))

		o2 := &Outcome{RunID: NewRunID(), ChainID: 1, Address: "0xabc", Status: StatusVerified, VerificationStatus: "SUCCESS"}
		require.NoError(t, store.RecordOutcome(ctx, o2))

		got, err := store.GetOutcome(ctx, 1, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, got.Status)
		assert.Equal(t, "SUCCESS", got.VerificationStatus)
		assert.Equal(t, 2, got.Attempts)
		assert.Empty(t, got.Error)
	})

	t.Run("GetOutcomeNotFound", func(t *testing.T) {
		_, err := store.GetOutcome(ctx, 1, "0xmissing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("SummarizeChains", func(t *testing.T) {
		require.NoError(t, store.RecordOutcome(ctx, &Outcome{RunID: "r", ChainID: 137, Address: "0x1", Status: StatusSkipped}))

		summaries, err := store.SummarizeChains(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, uint64(1), summaries[0].ChainID)
		assert.Equal(t, 1, summaries[0].Verified)
		assert.Equal(t, uint64(137), summaries[1].ChainID)
		assert.Equal(t, 1, summaries[1].Skipped)
		assert.NotEmpty(t, summaries[1].LastUpdated)
	})
}

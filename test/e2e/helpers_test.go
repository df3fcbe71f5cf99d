//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/sourcify-extractor/internal/extractor"
	"github.com/pendergraft/sourcify-extractor/internal/httpclient"
	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/internal/storage"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("extractor"),
		postgres.WithUsername("extractor"),
		postgres.WithPassword("extractor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// sourcifyFixture describes one chain served by the fake registry.
type sourcifyFixture struct {
	listStatus int
	full       []string
	partial    []string
	contracts  map[string]string // address -> full-match body
}

// startSourcify serves the listing and full-match endpoints under /server.
func startSourcify(t *testing.T, chains map[uint64]sourcifyFixture) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /server/contracts/list/{chain}", func(w http.ResponseWriter, r *http.Request) {
		fx, ok := lookupChain(chains, r.PathValue("chain"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if fx.listStatus != 0 {
			w.WriteHeader(fx.listStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string][]string{"full": fx.full, "partial": fx.partial})
	})
	mux.HandleFunc("GET /server/contracts/full_match/{chain}/{address}", func(w http.ResponseWriter, r *http.Request) {
		fx, ok := lookupChain(chains, r.PathValue("chain"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		body, ok := fx.contracts[r.PathValue("address")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func lookupChain(chains map[uint64]sourcifyFixture, raw string) (sourcifyFixture, bool) {
	for id, fx := range chains {
		if fmt.Sprint(id) == raw {
			return fx, true
		}
	}
	return sourcifyFixture{}, false
}

// verifierRecorder is a fake eth-bytecode-db that records every submission.
type verifierRecorder struct {
	mu       sync.Mutex
	requests []ethbytecodedb.VerifySolidityStandardJSONRequest
	apiKeys  []string
}

func startVerifier(t *testing.T) (*httptest.Server, *verifierRecorder) {
	t.Helper()
	rec := &verifierRecorder{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ethbytecodedb.VerifySolidityStandardJSONPath, func(w http.ResponseWriter, r *http.Request) {
		var req ethbytecodedb.VerifySolidityStandardJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"code": 3, "message": err.Error()})
			return
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, req)
		rec.apiKeys = append(rec.apiKeys, r.Header.Get("x-api-key"))
		rec.mu.Unlock()

		json.NewEncoder(w).Encode(ethbytecodedb.VerifyResponse{Status: ethbytecodedb.StatusSuccess, Message: "OK"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

func (v *verifierRecorder) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.requests)
}

// newExtractor wires the extractor the way the binary does, against the
// shared Postgres ledger.
func newExtractor(t *testing.T, sourcifyURL, verifierURL string, opts ...extractor.Option) *extractor.Extractor {
	t.Helper()

	hc := httpclient.New(httpclient.Config{
		RequestsPerSecond: 100,
		RetryBaseDelay:    5 * time.Millisecond,
		MaxRetryDelay:     20 * time.Millisecond,
		Timeout:           10 * time.Second,
	})
	registry := sourcify.New(sourcifyURL+"/server", hc)
	verifier := ethbytecodedb.New(verifierURL, "e2e-key", ethbytecodedb.WithTimeout(10*time.Second))

	opts = append([]extractor.Option{
		extractor.WithLedger(testCtx.Store),
		extractor.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	return extractor.New(registry, verifier, opts...)
}

func contractBody(t *testing.T, language, bytecode string) string {
	t.Helper()
	files := map[string]string{}
	if bytecode != "" {
		files["metadata.json"] = fmt.Sprintf(`{"bytecode":%q,"compiler":{"version":"0.8.24"}}`, bytecode)
	}
	data, err := json.Marshal(map[string]any{
		"compiler": map[string]any{"version": "0.8.24+commit.e11b9ed9"},
		"language": language,
		"sources": map[string]any{
			"contracts/Token.sol": map[string]any{"content": "contract Token {}", "keccak256": "0x01"},
		},
		"settings": map[string]any{"optimizer": map[string]any{"enabled": true, "runs": 200}},
		"files":    files,
	})
	require.NoError(t, err)
	return string(data)
}

func summaryFor(t *testing.T, chainID uint64) storage.ChainSummary {
	t.Helper()
	summaries, err := testCtx.Store.SummarizeChains(context.Background())
	require.NoError(t, err)
	for _, s := range summaries {
		if s.ChainID == chainID {
			return s
		}
	}
	return storage.ChainSummary{ChainID: chainID}
}

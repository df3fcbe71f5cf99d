// Package server provides the ops HTTP server that runs alongside an
// extraction run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/sourcify-extractor/internal/middleware/logging"
	"github.com/pendergraft/sourcify-extractor/internal/observability/metrics"
	"github.com/pendergraft/sourcify-extractor/internal/storage"
)

// SummaryStore reads aggregated ledger outcomes.
type SummaryStore interface {
	SummarizeChains(ctx context.Context) ([]storage.ChainSummary, error)
}

// Server is the ops HTTP server
type Server struct {
	store   SummaryStore
	logger  *slog.Logger
	router  *chi.Mux
	runID   string
	started time.Time
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	RunID     string                 `json:"runId"`
	StartedAt string                 `json:"startedAt"`
	Uptime    string                 `json:"uptime"`
	Chains    []storage.ChainSummary `json:"chains"`
}

// New creates a new server
func New(store SummaryStore, runID string, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		logger:  logger,
		router:  chi.NewRouter(),
		runID:   runID,
		started: time.Now().UTC(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Debug("ops server stopped")
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Get("/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chains, err := s.store.SummarizeChains(r.Context())
	if err != nil {
		s.logger.Error("failed to summarize ledger", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read outcome ledger")
		return
	}
	if chains == nil {
		chains = []storage.ChainSummary{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		RunID:     s.runID,
		StartedAt: s.started.Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Chains:    chains,
	})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// Package orchestrator runs one chain worker per configured chain and waits
// for all of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/sourcify-extractor/internal/extractor"
	"github.com/pendergraft/sourcify-extractor/internal/observability/metrics"
)

// ChainExtractor processes a single chain.
type ChainExtractor interface {
	ExtractChain(ctx context.Context, chainID uint64) (*extractor.ChainReport, error)
}

// WorkerError reports a chain worker that crashed instead of returning.
type WorkerError struct {
	ChainID uint64
	Panic   any
	Stack   []byte
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("chain %d worker panicked: %v", e.ChainID, e.Panic)
}

// Summary aggregates the chain reports of a run, in configuration order.
type Summary struct {
	Chains           []extractor.ChainReport
	Addresses        int
	Verified         int
	Skipped          int
	Failed           int
	AlreadyProcessed int
	ListingFailures  int
	Duration         time.Duration
}

// Orchestrator fans chains out to workers
type Orchestrator struct {
	extractor ChainExtractor
	logger    *slog.Logger
}

// New creates a new Orchestrator
func New(x ChainExtractor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{extractor: x, logger: logger}
}

// Run starts one worker per chain and blocks until every worker has
// finished. Workers are independent: a failing chain never cancels the
// others. The returned error joins every structural failure, such as a
// worker panic or context cancellation; the summary is always returned.
func (o *Orchestrator) Run(ctx context.Context, chains []uint64) (*Summary, error) {
	start := time.Now()
	reports := make([]*extractor.ChainReport, len(chains))
	errs := make([]error, len(chains))

	// A plain Group never cancels siblings; Wait reports the first failure
	// and errs keeps the rest.
	var g errgroup.Group
	for i, chainID := range chains {
		g.Go(func() error {
			reports[i], errs[i] = o.runWorker(ctx, chainID)
			return errs[i]
		})
	}
	waitErr := g.Wait()

	summary := &Summary{Duration: time.Since(start)}
	for i, chainID := range chains {
		report := reports[i]
		if report == nil {
			report = &extractor.ChainReport{ChainID: chainID}
		}
		summary.add(report)
		o.logChain(report, errs[i])
		metrics.ChainFinished(chainStatus(report, errs[i]))
	}

	o.logger.Info("extraction finished",
		"chains", len(chains),
		"addresses", summary.Addresses,
		"verified", summary.Verified,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"already_processed", summary.AlreadyProcessed,
		"duration", summary.Duration.Round(time.Millisecond).String(),
	)

	if waitErr == nil {
		return summary, nil
	}
	return summary, errors.Join(errs...)
}

func (o *Orchestrator) runWorker(ctx context.Context, chainID uint64) (report *extractor.ChainReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkerError{ChainID: chainID, Panic: r, Stack: debug.Stack()}
		}
	}()

	o.logger.Debug("chain worker started", "chain_id", chainID)
	report, err = o.extractor.ExtractChain(ctx, chainID)
	if err != nil {
		return report, fmt.Errorf("chain %d: %w", chainID, err)
	}
	return report, nil
}

func (o *Orchestrator) logChain(report *extractor.ChainReport, err error) {
	attrs := []any{
		"chain_id", report.ChainID,
		"addresses", report.Addresses,
		"verified", report.Verified,
		"skipped", report.Skipped,
		"failed", report.Failed,
	}

	var workerErr *WorkerError
	switch {
	case errors.As(err, &workerErr):
		o.logger.Error("chain worker crashed", append(attrs, "error", err, "stack", string(workerErr.Stack))...)
	case err != nil:
		o.logger.Warn("chain worker stopped", append(attrs, "error", err)...)
	case report.ListingFailed:
		o.logger.Warn("chain listing unavailable", attrs...)
	default:
		o.logger.Info("chain summary", attrs...)
	}
}

func (s *Summary) add(r *extractor.ChainReport) {
	s.Chains = append(s.Chains, *r)
	s.Addresses += r.Addresses
	s.Verified += r.Verified
	s.Skipped += r.Skipped
	s.Failed += r.Failed
	s.AlreadyProcessed += r.AlreadyProcessed
	if r.ListingFailed {
		s.ListingFailures++
	}
}

func chainStatus(r *extractor.ChainReport, err error) string {
	var workerErr *WorkerError
	switch {
	case errors.As(err, &workerErr):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case err != nil:
		return "error"
	case r.ListingFailed:
		return "listing_failed"
	default:
		return "ok"
	}
}

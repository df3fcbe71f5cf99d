package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pendergraft/sourcify-extractor/internal/httpclient"
	"github.com/pendergraft/sourcify-extractor/internal/observability/metrics"
	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/internal/storage"
	"github.com/pendergraft/sourcify-extractor/internal/transform"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

// Extractor processes chains one address at a time. A single Extractor is
// shared by all chain workers.
type Extractor struct {
	registry      Registry
	verifier      Verifier
	ledger        Ledger
	logger        *slog.Logger
	runID         string
	skipProcessed bool
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLedger records every outcome in l.
func WithLedger(l Ledger) Option {
	return func(e *Extractor) {
		e.ledger = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithRunID tags ledger entries with the given run id.
func WithRunID(id string) Option {
	return func(e *Extractor) {
		e.runID = id
	}
}

// WithSkipProcessed skips addresses whose latest ledger outcome is verified
// or skipped. Requires a ledger.
func WithSkipProcessed(skip bool) Option {
	return func(e *Extractor) {
		e.skipProcessed = skip
	}
}

// New creates a new Extractor
func New(registry Registry, verifier Verifier, opts ...Option) *Extractor {
	e := &Extractor{
		registry: registry,
		verifier: verifier,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = storage.NewRunID()
	}
	return e
}

// ExtractChain lists the verified contracts of a chain and processes every
// address in listing order, full matches first. A failed listing is logged
// and treated as an empty chain. Per-contract errors are logged and never
// stop the iteration. Only context cancellation is returned.
func (e *Extractor) ExtractChain(ctx context.Context, chainID uint64) (*ChainReport, error) {
	logger := e.logger.With("chain_id", chainID)
	report := &ChainReport{ChainID: chainID}

	list, err := e.registry.ListContracts(ctx, chainID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		logger.Warn("failed to list contracts, skipping chain", "error", err)
		report.ListingFailed = true
		return report, nil
	}

	addresses := list.Addresses()
	report.Addresses = len(addresses)
	logger.Info("contracts listed", "full", len(list.Full), "partial", len(list.Partial))

	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(e.processAddress(ctx, logger, chainID, address))
	}

	logger.Info("chain processed",
		"addresses", report.Addresses,
		"verified", report.Verified,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// ExtractContract fetches one contract, converts it and forwards it for
// verification. Non-Solidity contracts return OutcomeSkipped with no error.
func (e *Extractor) ExtractContract(ctx context.Context, chainID uint64, address string) (Outcome, error) {
	outcome, _, err := e.extract(ctx, chainID, address)
	return outcome, err
}

func (e *Extractor) processAddress(ctx context.Context, logger *slog.Logger, chainID uint64, address string) Outcome {
	chain := strconv.FormatUint(chainID, 10)

	if e.alreadyProcessed(ctx, logger, chainID, address) {
		metrics.ContractProcessed(chain, string(OutcomeAlreadyProcessed), "")
		return OutcomeAlreadyProcessed
	}

	outcome, verificationStatus, err := e.extract(ctx, chainID, address)

	var reason, errMsg string
	if err != nil {
		reason = classify(err)
		errMsg = err.Error()
		logger.Warn("failed to process contract", "address", address, "reason", reason, "error", err)
	}
	metrics.ContractProcessed(chain, string(outcome), reason)

	if e.ledger != nil && ctx.Err() == nil {
		o := &storage.Outcome{
			RunID:              e.runID,
			ChainID:            chainID,
			Address:            address,
			Status:             string(outcome),
			Reason:             reason,
			Error:              errMsg,
			VerificationStatus: verificationStatus,
		}
		if err := e.ledger.RecordOutcome(ctx, o); err != nil {
			logger.Warn("failed to record outcome", "address", address, "error", err)
		}
	}

	return outcome
}

func (e *Extractor) alreadyProcessed(ctx context.Context, logger *slog.Logger, chainID uint64, address string) bool {
	if !e.skipProcessed || e.ledger == nil {
		return false
	}

	prev, err := e.ledger.GetOutcome(ctx, chainID, address)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("failed to read ledger", "address", address, "error", err)
		}
		return false
	}

	switch prev.Status {
	case storage.StatusVerified, storage.StatusSkipped:
		logger.Debug("contract already processed", "address", address, "status", prev.Status)
		return true
	default:
		return false
	}
}

func (e *Extractor) extract(ctx context.Context, chainID uint64, address string) (Outcome, string, error) {
	info, err := e.registry.GetFullMatch(ctx, chainID, address)
	if err != nil {
		return OutcomeFailed, "", fmt.Errorf("fetching contract info: %w", err)
	}

	req, err := transform.BuildRequest(info)
	if errors.Is(err, transform.ErrUnsupportedLanguage) {
		e.logger.Debug("skipping non-solidity contract",
			"chain_id", chainID, "address", address, "language", info.Language)
		return OutcomeSkipped, "", nil
	}
	if err != nil {
		return OutcomeFailed, "", fmt.Errorf("building verification request: %w", err)
	}

	start := time.Now()
	resp, err := e.verifier.VerifySolidityStandardJSON(ctx, req)
	if err != nil {
		metrics.VerificationRequest("error", time.Since(start))
		return OutcomeFailed, "", fmt.Errorf("forwarding verification request: %w", err)
	}
	metrics.VerificationRequest(strings.ToLower(resp.Status), time.Since(start))

	e.logger.Info("contract verification request sent",
		"chain_id", chainID, "address", address, "status", resp.Status)
	return OutcomeVerified, resp.Status, nil
}

// classify maps an extraction error to the reason label used in logs,
// metrics and the ledger.
func classify(err error) string {
	var (
		rpcErr       *ethbytecodedb.RPCError
		missingErr   *transform.MissingFieldError
		transformErr *transform.DecodeError
		registryErr  *sourcify.DecodeError
		statusErr    *httpclient.StatusError
		transportErr *httpclient.TransportError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &rpcErr):
		return "rpc"
	case errors.As(err, &missingErr):
		return "missing_field"
	case errors.As(err, &transformErr), errors.As(err, &registryErr):
		return "decode"
	case errors.As(err, &statusErr), errors.As(err, &transportErr):
		return "http"
	default:
		return "unknown"
	}
}

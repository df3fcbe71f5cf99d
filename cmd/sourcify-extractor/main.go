package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/sourcify-extractor/internal/config"
	"github.com/pendergraft/sourcify-extractor/internal/extractor"
	"github.com/pendergraft/sourcify-extractor/internal/httpclient"
	"github.com/pendergraft/sourcify-extractor/internal/observability/metrics"
	"github.com/pendergraft/sourcify-extractor/internal/orchestrator"
	"github.com/pendergraft/sourcify-extractor/internal/server"
	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/internal/storage"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sourcify-extractor",
		Short: "Submit Sourcify-verified contracts to eth-bytecode-db",
		Long: `Lists the verified contracts of each configured chain on Sourcify and
submits every Solidity contract to eth-bytecode-db for verification.

Settings come from an optional TOML or YAML file and from environment
variables prefixed with ` + config.EnvPrefix + `, which take precedence.

EXAMPLES:
  SOURCIFY_EXTRACTOR__CHAINS=1,137 \
  SOURCIFY_EXTRACTOR__DATABASE_URL=postgres://localhost/extractor \
  SOURCIFY_EXTRACTOR__ETH_BYTECODE_DB_URL=http://localhost:8050 \
    sourcify-extractor

  sourcify-extractor --config extractor.toml status
`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML or YAML config file")

	// Default behavior (no subcommand) is to run the extraction
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd.Context(), configPath)
	}

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newMigrateCmd(&configPath))
	rootCmd.AddCommand(newStatusCmd(&configPath))

	return rootCmd
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Extract every configured chain once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), *configPath)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the outcome ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath)
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-chain outcome counts from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

// Extraction

func runExtract(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	logger.Info("starting sourcify-extractor",
		"version", version,
		"chains", cfg.Extractor.Chains,
		"limit_requests_per_second", cfg.Sourcify.LimitRequestsPerSecond,
		"n_threads", cfg.Extractor.NThreads,
	)

	if cfg.Extractor.NThreads > 0 {
		runtime.GOMAXPROCS(cfg.Extractor.NThreads)
	}
	metrics.Init(cfg.Ops.MetricsEnabled, "sourcify-extractor")

	store, err := storage.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if cfg.Database.RunMigrations {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	runID := storage.NewRunID()
	timeout := time.Duration(cfg.Extractor.RequestTimeout) * time.Second

	// Shared by every chain worker
	httpClient := httpclient.New(httpclient.Config{
		RequestsPerSecond: cfg.Sourcify.LimitRequestsPerSecond,
		RetryBaseDelay:    time.Duration(cfg.Sourcify.RetryBaseDelayMS) * time.Millisecond,
		Timeout:           timeout,
	}, httpclient.WithLogger(logger))
	registry := sourcify.New(cfg.Sourcify.URL, httpClient)
	verifier := ethbytecodedb.New(cfg.EthBytecodeDB.URL, cfg.EthBytecodeDB.APIKey, ethbytecodedb.WithTimeout(timeout))

	x := extractor.New(registry, verifier,
		extractor.WithLedger(store),
		extractor.WithLogger(logger),
		extractor.WithRunID(runID),
		extractor.WithSkipProcessed(cfg.Extractor.SkipProcessed),
	)

	if cfg.Ops.Addr != "" {
		opsCtx, cancelOps := context.WithCancel(ctx)
		opsDone := make(chan struct{})
		go func() {
			defer close(opsDone)
			if err := server.New(store, runID, logger).ListenAndServe(opsCtx, cfg.Ops.Addr); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		defer func() {
			cancelOps()
			<-opsDone
		}()
	}

	summary, err := orchestrator.New(x, logger).Run(ctx, cfg.Extractor.Chains)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("extraction interrupted", "run_id", runID)
		}
		return fmt.Errorf("extraction failed: %w", err)
	}

	logger.Info("run complete",
		"run_id", runID,
		"verified", summary.Verified,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return nil
}

// Ledger commands

func openLedger(ctx context.Context, configPath string) (storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, config.ErrNoDatabaseURL
	}

	logger := setupLogger(config.LoggingConfig{Level: "error", Format: "text"}, os.Stderr)
	store, err := storage.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

func runMigrate(ctx context.Context, configPath string) error {
	store, err := openLedger(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Println("✅ Outcome ledger is up to date")
	return nil
}

func runStatus(ctx context.Context, configPath string, out io.Writer) error {
	store, err := openLedger(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.SummarizeChains(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	printStatus(out, summaries)
	return nil
}

func printStatus(out io.Writer, summaries []storage.ChainSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No outcomes recorded")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run an extraction with: sourcify-extractor run")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tVERIFIED\tSKIPPED\tFAILED\tTOTAL\tLAST UPDATED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\n", s.ChainID, s.Verified, s.Skipped, s.Failed, s.Total(), s.LastUpdated)
	}
	w.Flush()
}

// Logging

func setupLogger(cfg config.LoggingConfig, out *os.File) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	if useJSON(cfg.Format, out) {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// useJSON picks JSON output for "json", and for "auto" when out is not a terminal.
func useJSON(format string, out *os.File) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	default:
		return !term.IsTerminal(int(out.Fd()))
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

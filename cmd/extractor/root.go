package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/binance"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/config"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/events"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/extractor"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/gaps"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/logger"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/storage"
)

const (
	exitSuccess     = 0
	exitUsageError  = 1
	exitConfigError = 2
	exitRunError    = 3
	exitPartialFail = 4
)

var (
	flagConfig   string
	flagInterval string
	flagSymbols  []string
	flagWorkers  int
	flagLookback time.Duration
	flagDeadline time.Duration
	flagBackend  string
	flagDSN      string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "extractor",
	Short:         "Scheduled incremental extractor for Binance market data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to YAML config file")
	pf.StringVar(&flagInterval, "interval", "", "candle interval, e.g. 1m, 15m, 1h, 1d")
	pf.StringSliceVar(&flagSymbols, "symbols", nil, "symbols to extract, comma separated")
	pf.IntVar(&flagWorkers, "workers", 0, "max concurrent symbol extractions")
	pf.DurationVar(&flagLookback, "lookback", 0, "history horizon for first contact and backfill scans")
	pf.DurationVar(&flagDeadline, "deadline", 0, "soft run budget; unfinished symbols resume next run")
	pf.StringVar(&flagBackend, "storage", "", "storage backend: postgres, mongodb or memory")
	pf.StringVar(&flagDSN, "dsn", "", "storage connection string")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(extractCmd, backfillCmd, fundingCmd, tradesCmd)
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code, ok := err.(*exitError); ok {
			return code.code
		}
		return exitUsageError
	}
	return exitSuccess
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// runtime is everything a subcommand needs, assembled from config.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     storage.Adapter
	orch      *extractor.Orchestrator
	publisher events.Publisher
}

func (rt *runtime) close() {
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			rt.logger.Warn("closing publisher", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing storage", "error", err)
		}
	}
	if rt.logCloser != nil {
		rt.logCloser.Close()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	// Flags override file and environment.
	if flagInterval != "" {
		cfg.Extractor.Interval = flagInterval
	}
	if len(flagSymbols) > 0 {
		cfg.Extractor.Symbols = flagSymbols
	}
	if flagWorkers > 0 {
		cfg.Extractor.Workers = flagWorkers
	}
	if flagLookback > 0 {
		cfg.Extractor.Lookback = flagLookback
	}
	if flagDeadline > 0 {
		cfg.Extractor.Deadline = flagDeadline
	}
	if flagBackend != "" {
		cfg.Storage.Backend = flagBackend
	}
	if flagDSN != "" {
		cfg.Storage.DSN = flagDSN
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Extractor.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured; set --symbols or extractor.symbols")
	}
	return cfg, nil
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, &exitError{exitConfigError, err}
	}

	log, logCloser, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, &exitError{exitConfigError, err}
	}
	slog.SetDefault(log)

	interval, err := models.ParseInterval(cfg.Extractor.Interval)
	if err != nil {
		return nil, &exitError{exitConfigError, err}
	}

	store, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.DSN, log)
	if err != nil {
		return nil, &exitError{exitRunError, fmt.Errorf("opening storage: %w", err)}
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, &exitError{exitRunError, fmt.Errorf("initializing storage: %w", err)}
	}

	var publisher events.Publisher
	if cfg.Events.Brokers != "" {
		publisher, err = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.SymbolTopic, cfg.Events.RunTopic, log)
		if err != nil {
			store.Close()
			return nil, &exitError{exitRunError, fmt.Errorf("connecting event publisher: %w", err)}
		}
	} else {
		publisher = events.NewLogPublisher(log)
	}

	weights := binance.NewWeightLimiter(cfg.Exchange.WeightBudget, cfg.Exchange.WeightWindow)
	client := binance.NewClient(binance.ClientConfig{
		BaseURL:           cfg.Exchange.BaseURL,
		PageLimit:         cfg.Exchange.PageLimit,
		RequestTimeout:    cfg.Exchange.RequestTimeout,
		MaxAttempts:       cfg.Exchange.MaxAttempts,
		RateLimitAttempts: cfg.Exchange.RateLimitAttempts,
		RequestsPerSec:    cfg.Exchange.RequestsPerSec,
	}, weights, log)

	var detectorOpts []gaps.DetectorOption
	if cfg.Extractor.MaxGapAge > 0 {
		detectorOpts = append(detectorOpts, gaps.WithMaxGapAge(cfg.Extractor.MaxGapAge))
	}
	detector := gaps.NewDetector(store, log, detectorOpts...)

	orch := extractor.New(client, store, detector, publisher, extractor.Config{
		Interval:       interval,
		Symbols:        normalizeSymbols(cfg.Extractor.Symbols),
		Workers:        cfg.Extractor.Workers,
		OverlapBuckets: cfg.Extractor.OverlapBuckets,
		Lookback:       cfg.Extractor.Lookback,
		Deadline:       cfg.Extractor.Deadline,
		ChunkBuckets:   cfg.Extractor.ChunkBuckets,
	}, log)

	return &runtime{
		cfg:       cfg,
		logger:    log,
		logCloser: logCloser,
		store:     store,
		orch:      orch,
		publisher: publisher,
	}, nil
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// runWithSignals assembles the runtime, runs fn under SIGINT/SIGTERM
// cancellation and maps the summary to an exit code.
func runWithSignals(fn func(ctx context.Context, rt *runtime) (*extractor.RunSummary, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	summary, err := fn(ctx, rt)
	if err != nil {
		return &exitError{exitRunError, err}
	}
	return summaryExit(summary)
}

// summaryExit maps a run summary to the process exit status. Anything short
// of every symbol reaching success exits non-zero, deadline-truncated
// symbols included.
func summaryExit(summary *extractor.RunSummary) error {
	if failed := summary.Failed(); failed > 0 {
		return &exitError{exitPartialFail,
			fmt.Errorf("%d of %d symbols failed", failed, len(summary.Results))}
	}
	if incomplete := summary.Incomplete(); incomplete > 0 {
		return &exitError{exitPartialFail,
			fmt.Errorf("%d of %d symbols hit the run deadline before finishing", incomplete, len(summary.Results))}
	}
	return nil
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one incremental extraction cycle",
	Long: `Fetches every configured symbol from its last stored candle (minus a
safety overlap) up to the most recent closed bucket and writes the results.
Symbols with no stored data start from the lookback horizon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context, rt *runtime) (*extractor.RunSummary, error) {
			return rt.orch.Run(ctx)
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Detect and fill gaps in stored history",
	Long: `Scans the lookback window of every configured symbol for missing
candle buckets and fetches them oldest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context, rt *runtime) (*extractor.RunSummary, error) {
			return rt.orch.Backfill(ctx)
		})
	},
}

var fundingCmd = &cobra.Command{
	Use:   "funding",
	Short: "Extract funding-rate history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context, rt *runtime) (*extractor.RunSummary, error) {
			return rt.orch.ExtractFunding(ctx)
		})
	},
}

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Extract historical trades",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithSignals(func(ctx context.Context, rt *runtime) (*extractor.RunSummary, error) {
			return rt.orch.ExtractTrades(ctx)
		})
	},
}

// CLAUDE:SUMMARY CLI entry point for denicheur — analysis runs, cache purge, and the results API server.
// Command denicheur is the undervalued-listing detector.
//
// Usage:
//
//	denicheur -config denicheur.yaml -mode run -input batches.json
//	denicheur -config denicheur.yaml -mode purge
//	denicheur -config denicheur.yaml -mode serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/cachepg"
	"github.com/hazyhaar/denicheur/config"
	"github.com/hazyhaar/denicheur/dbopen"
	"github.com/hazyhaar/denicheur/engine"
	"github.com/hazyhaar/denicheur/httpapi"
	"github.com/hazyhaar/denicheur/llmvalue"
	"github.com/hazyhaar/denicheur/observability"
	"github.com/hazyhaar/denicheur/valuation"
)

func main() {
	configPath := flag.String("config", "", "path to denicheur.yaml config file")
	mode := flag.String("mode", "run", "run | purge | serve")
	inputPath := flag.String("input", "", "batch input file for run mode")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "log format: console, json")
	flag.Parse()

	// Optional: local development secrets (OPENAI_API_KEY etc).
	_ = godotenv.Load()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	var logger *slog.Logger
	if *logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *mode, *inputPath); err != nil {
		logger.Error("denicheur: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, mode, inputPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	switch mode {
	case "run":
		if inputPath == "" {
			return errors.New("run mode requires -input")
		}
		return runAnalysis(ctx, logger, cfg, inputPath)
	case "purge":
		return runPurge(ctx, logger, cfg)
	case "serve":
		return runServe(ctx, logger, cfg)
	}

	fmt.Fprintln(os.Stderr, "usage: denicheur -mode run|purge|serve [-config <file>] [-input <file>]")
	os.Exit(1)
	return nil
}

func runAnalysis(ctx context.Context, logger *slog.Logger, cfg *config.Config, inputPath string) error {
	batches, fetcher, err := loadInput(inputPath)
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	obsDB, err := dbopen.Open(cfg.Observability.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return err
	}
	metrics := observability.NewMetricsManager(obsDB, 100, 10*time.Second)
	defer metrics.Close()
	runLog := observability.NewRunLog(obsDB)

	strategy, err := buildStrategy(cfg, logger)
	if err != nil {
		return err
	}

	eng := engine.New(store, fetcher, strategy,
		engine.WithPolicy(cfg.Policy()),
		engine.WithStaleWindow(cfg.Freshness.StaleWindow),
		engine.WithLimiter(cfg.Limiter()),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
	)

	sum, runErr := eng.Run(ctx, batches)

	rec := summaryRecord(runLog.NewRunID(), "run", sum)
	if err := runLog.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("record run", "error", err)
	}
	metrics.RecordCount(observability.MetricRunDurationMs,
		float64(sum.FinishedAt.Sub(sum.StartedAt).Milliseconds()), "")

	logger.Info("run finished",
		"run_id", rec.RunID,
		"neighborhoods", sum.Neighborhoods,
		"skipped_fresh", sum.SkippedFresh,
		"price_updated", sum.PriceUpdated,
		"detail_fetched", sum.DetailFetched,
		"analyzed", sum.Analyzed,
		"undervalued", sum.Undervalued,
		"fetch_failures", sum.FetchFailures,
		"sold_marked", sum.SoldMarked,
		"failures", len(sum.Failures),
	)
	return runErr
}

func runPurge(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().Add(-cfg.Freshness.Retention)
	purged, err := store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("cache purged", "purged", purged, "cutoff", cutoff)

	obsDB, err := dbopen.Open(cfg.Observability.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return err
	}

	retentionDays := int(cfg.Observability.Retention / (24 * time.Hour))
	metrics := observability.NewMetricsManager(obsDB, 100, 10*time.Second)
	defer metrics.Close()
	if n, err := metrics.Cleanup(ctx, retentionDays); err != nil {
		return err
	} else if n > 0 {
		logger.Info("metrics cleaned", "deleted", n)
	}
	if n, err := observability.CleanupRuns(ctx, obsDB, retentionDays); err != nil {
		return err
	} else if n > 0 {
		logger.Info("runs cleaned", "deleted", n)
	}
	metrics.RecordCount(observability.MetricPurgedEntries, float64(purged), "")
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if cfg.Database.Backend != "sqlite" {
		return fmt.Errorf("serve mode requires the sqlite backend, got %q", cfg.Database.Backend)
	}
	store, err := cache.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	obsDB, err := dbopen.Open(cfg.Observability.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return err
	}
	runLog := observability.NewRunLog(obsDB)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(store, runLog, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving results api", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// storeCloser unifies the two backends: the engine only needs the
// engine.Store surface plus purge.
type storeCloser interface {
	engine.Store
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func openStore(ctx context.Context, cfg *config.Config) (storeCloser, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		st, err := cachepg.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres cache: %w", err)
		}
		return st, func() { st.Close() }, nil
	default:
		st, err := cache.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		return st, func() { st.Close() }, nil
	}
}

func buildStrategy(cfg *config.Config, logger *slog.Logger) (valuation.Strategy, error) {
	th := cfg.Valuation.Thresholds
	switch cfg.Valuation.Strategy {
	case "llm":
		key := cfg.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("llm strategy requires an openai api key")
		}
		var opts []llmvalue.Option
		if cfg.OpenAI.Model != "" {
			opts = append(opts, llmvalue.WithModel(cfg.OpenAI.Model))
		}
		return llmvalue.New(key, th, logger, opts...), nil
	default:
		return valuation.NewRulesBased(cfg.Valuation.Tables, th, logger), nil
	}
}

func summaryRecord(runID, mode string, sum *engine.RunSummary) *observability.RunRecord {
	rec := &observability.RunRecord{
		RunID:         runID,
		Mode:          mode,
		StartedAt:     sum.StartedAt.UnixMilli(),
		FinishedAt:    sum.FinishedAt.UnixMilli(),
		Neighborhoods: sum.Neighborhoods,
		SkippedFresh:  sum.SkippedFresh,
		PriceUpdated:  sum.PriceUpdated,
		DetailFetched: sum.DetailFetched,
		Analyzed:      sum.Analyzed,
		Undervalued:   sum.Undervalued,
		FetchFailures: sum.FetchFailures,
		SoldMarked:    sum.SoldMarked,
	}
	for _, f := range sum.Failures {
		rec.Failures = append(rec.Failures, observability.RunFailure{
			Scope:      f.Scope,
			Error:      f.Err.Error(),
			OccurredAt: f.At.UnixMilli(),
		})
	}
	return rec
}

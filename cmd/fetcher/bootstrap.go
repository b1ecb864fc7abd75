package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"stock-analysis-fetcher/internal/fetchlog"
	"stock-analysis-fetcher/internal/interfaces"
	"stock-analysis-fetcher/internal/logger"
	"stock-analysis-fetcher/internal/store"
	"stock-analysis-fetcher/internal/trace"
	"stock-analysis-fetcher/internal/types"
	"stock-analysis-fetcher/internal/zerodha"
	"stock-analysis-fetcher/internal/zerodha/zerodhaobs"
)

// initializeSystem loads .env, the logger, the config and the tracer
func initializeSystem(ctx context.Context, configPath string) (*store.Config, error) {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := store.LoadConfigOrDefault(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := trace.Init(cfg.Tracing.ServiceName, cfg.Tracing.ServiceVersion); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return cfg, nil
}

// initializeFetcher builds the service with observability
func initializeFetcher(cfg *store.Config) interfaces.StockFetcher {
	return zerodhaobs.Wrap(zerodha.NewService(cfg))
}

func shutdownTracer(ctx context.Context) {
	if err := trace.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "Failed to shutdown tracer", "error", err)
	}
}

// compressOldJournals gzips fetch journals if retention is configured
func compressOldJournals(ctx context.Context) {
	v := os.Getenv("FETCHER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Ignoring invalid FETCHER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := fetchlog.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old journals", "error", err)
	}
}

// recordFetch appends the report to the daily journal
func recordFetch(ctx context.Context, report types.StockReport, elapsed time.Duration) {
	if err := fetchlog.Append(fetchlog.FromReport(report, elapsed)); err != nil {
		logger.Warn(ctx, "Failed to write fetch journal", "error", err)
	}
}

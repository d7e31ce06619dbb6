// Command sweeper runs a single retry sweep and prints its report. It is
// meant to be invoked by an external scheduler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/Priya8975/agency-portal/internal/config"
	"github.com/Priya8975/agency-portal/internal/engine"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/Priya8975/agency-portal/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	ctx := context.Background()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	deliverer := worker.NewDeliverer(cfg.DeliveryTimeout, logger)
	reporter := worker.NewReporter(logger, nil)
	sweeper := worker.NewSweeper(pgStore, deliverer, worker.SweeperConfig{
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		Lease:       cfg.SweepClaimLease,
		Deadline:    cfg.SweepDeadline,
	}, logger)

	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()

		sweeper.WithLock(engine.NewSweepLock(redisStore.Client(), logger))
		if cfg.AutoDisableAfter > 0 {
			reporter.WithAutoDisable(engine.NewFailureTracker(redisStore.Client(), logger), pgStore, cfg.AutoDisableAfter)
		}
	}

	report := sweeper.WithObserver(reporter).RetryFailedDeliveries(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to write report", "error", err)
		os.Exit(1)
	}
}

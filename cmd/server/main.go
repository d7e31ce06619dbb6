package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/agency-portal/internal/api"
	"github.com/Priya8975/agency-portal/internal/config"
	"github.com/Priya8975/agency-portal/internal/engine"
	"github.com/Priya8975/agency-portal/internal/metrics"
	"github.com/Priya8975/agency-portal/internal/store"
	ws "github.com/Priya8975/agency-portal/internal/websocket"
	"github.com/Priya8975/agency-portal/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.Check{}

	// Initialize storage. Without a database the portal runs on an
	// in-memory store, which is only suitable for local development.
	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")

		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		st = pgStore
		checks["postgres"] = pgStore.Ping
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	deliverer := worker.NewDeliverer(cfg.DeliveryTimeout, logger)
	reporter := worker.NewReporter(logger, hub)
	sweeper := worker.NewSweeper(st, deliverer, worker.SweeperConfig{
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		Lease:       cfg.SweepClaimLease,
		Deadline:    cfg.SweepDeadline,
	}, logger)

	var (
		limiter *engine.RateLimiter
		tracker *engine.FailureTracker
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")
		checks["redis"] = redisStore.Ping

		limiter = engine.NewRateLimiter(redisStore.Client(), time.Minute, logger)
		tracker = engine.NewFailureTracker(redisStore.Client(), logger)
		sweeper.WithLock(engine.NewSweepLock(redisStore.Client(), logger))
		if cfg.AutoDisableAfter > 0 {
			reporter.WithAutoDisable(tracker, st, cfg.AutoDisableAfter)
		}
	}
	sweeper.WithObserver(reporter)

	fanout := engine.NewFanOutEngine(st, deliverer, logger).WithObserver(reporter)

	if cfg.SweepInterval > 0 {
		go worker.NewScheduler(sweeper, cfg.SweepInterval, logger).Start(ctx)
	}

	router := api.NewRouter(api.Deps{
		Store:          st,
		FanOut:         fanout,
		Sweeper:        sweeper,
		Catalog:        cfg.Catalog(),
		Hub:            hub,
		Tracker:        tracker,
		Limiter:        limiter,
		RateLimit:      cfg.APIRateLimit,
		InternalSecret: cfg.InternalAPISecret,
		HealthChecks:   checks,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SweepDeadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// Package main provides the entry point for the research trend service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/papersources/openalex"
	"github.com/helixir/research-trend-service/internal/pipeline"
	"github.com/helixir/research-trend-service/internal/scheduler"
	httpserver "github.com/helixir/research-trend-service/internal/server/http"
	"github.com/helixir/research-trend-service/internal/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-trend-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the publication store.
	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrationAutoRun {
		if err := database.EnsureSchema(db, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	metrics := observability.NewMetrics(config.AppName)

	source := openalex.New(openalex.ConfigFrom(cfg.OpenAlex), logger, metrics)

	// Progress goes to the log and to every SSE subscriber.
	progress := task.NewBroadcaster(logger)
	manager := pipeline.NewManager(
		db,
		source,
		artifact.NewLoader(cfg.Artifact, logger),
		pipeline.ParamsFromConfig(cfg),
		task.MultiReporter{task.NewLogReporter(logger), progress},
		logger,
		metrics,
	)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DefaultKeywords: cfg.Pipeline.Keywords,
	}
	httpSrv := httpserver.NewServer(httpCfg, manager, progress, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Scopes, manager, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	if sched != nil {
		sched.Start()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Str("store", db.Path()).
		Bool("scheduler", sched != nil)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-trend-service is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down research-trend-service")

	// A running chain stops at its next step boundary; the scheduler's tick returns
	// once that run has finalized.
	if manager.Cancel() {
		logger.Info().Msg("cancellation requested for the active pipeline run")
	}
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	manager.Finalize()

	logger.Info().Msg("research-trend-service shutdown complete")
	return runErr
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/scope"
)

// app holds what every subcommand needs: configuration, a logger and the store.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *database.DB
}

func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Tables own stdout; logs go to logOut.
	logger := observability.NewLoggerTo(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "console",
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}, logOut).With().Str("component", "cli").Logger()

	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.EnsureSchema(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close database")
	}
}

// combinationScope parses keywords and checks that index names one of its combinations.
func (a *app) combinationScope(keywords string, index int) (*scope.ResearchScope, error) {
	s, err := scope.Parse(a.db, keywords, scope.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= s.NumCombinations() {
		return nil, domain.NewValidationError("combination", fmt.Sprintf("index %d out of range [0, %d)", index, s.NumCombinations()))
	}
	return s, nil
}

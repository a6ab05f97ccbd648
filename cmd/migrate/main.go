// Package main provides a CLI tool for publication store migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/observability"
)

// options are the parsed command line flags.
type options struct {
	up         bool
	down       bool
	steps      int
	version    bool
	force      int
	drop       bool
	configPath string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, *flag.FlagSet, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.BoolVar(&opts.up, "up", false, "Bring the store to the latest schema, recovering a dirty version")
	fs.BoolVar(&opts.down, "down", false, "Roll back all migrations")
	fs.IntVar(&opts.steps, "steps", 0, "Run N migration steps (positive=up, negative=down)")
	fs.BoolVar(&opts.version, "version", false, "Print the current migration version")
	fs.IntVar(&opts.force, "force", -1, "Force set migration version")
	fs.BoolVar(&opts.drop, "drop", false, "Drop every table, including the migration history")
	fs.StringVar(&opts.configPath, "config", "", "Path to the config file")
	err := fs.Parse(args)
	return opts, fs, err
}

// action returns the single action the flags select.
func (o options) action() (string, error) {
	var chosen []string
	for name, set := range map[string]bool{
		"up":      o.up,
		"down":    o.down,
		"steps":   o.steps != 0,
		"version": o.version,
		"force":   o.force >= 0,
		"drop":    o.drop,
	} {
		if set {
			chosen = append(chosen, name)
		}
	}
	switch len(chosen) {
	case 0:
		return "", fmt.Errorf("no action specified, use one of -up, -down, -steps N, -version, -force V, -drop")
	case 1:
		return chosen[0], nil
	default:
		return "", fmt.Errorf("specify only one action at a time, got %d", len(chosen))
	}
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		return err
	}
	action, err := opts.action()
	if err != nil {
		fs.Usage()
		return err
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Str("store", cfg.Database.Path).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if action == "up" {
		if err := database.EnsureSchema(db, logger); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	}

	migrator, err := database.NewMigrator(db, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch action {
	case "down":
		err = migrator.Down()
	case "steps":
		err = migrator.Steps(opts.steps)
	case "force":
		err = migrator.Force(opts.force)
	case "drop":
		if err := migrator.Drop(); err != nil {
			return fmt.Errorf("drop: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}

	printVersion(migrator, logger)
	return nil
}

func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/database/migrations"
	"github.com/helixir/research-trend-service/internal/domain"
)

// Migrator applies the embedded schema migrations to a store.
type Migrator struct {
	db      *DB
	migrate *migrate.Migrate
	source  source.Driver
	logger  zerolog.Logger
}

// NewMigrator creates a migrator bound to db using the compiled-in migration files.
func NewMigrator(db *DB, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.db == nil {
		return nil, fmt.Errorf("database handle not initialized")
	}

	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.db, &sqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		db:      db,
		migrate: m,
		source:  src,
		logger:  logger,
	}, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("running database migrations...")

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Debug().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info().Msg("migrations completed successfully")
	return nil
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations...")

	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	m.logger.Info().Msg("migrations rolled back successfully")
	return nil
}

// Steps runs n migrations (positive = up, negative = down).
func (m *Migrator) Steps(n int) error {
	m.logger.Info().Int("steps", n).Msg("running migration steps...")

	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info().Msg("no more migrations available")
			return nil
		}
		return fmt.Errorf("failed to run migration steps: %w", err)
	}

	m.logger.Info().Int("steps", n).Msg("migration steps completed successfully")
	return nil
}

// Drop removes every table in the store, including the migration bookkeeping.
// The table list is read and closed before any DROP runs.
func (m *Migrator) Drop() error {
	m.logger.Warn().Msg("dropping all tables...")

	ctx := context.Background()
	names, err := m.tableNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}

	err = m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
				return fmt.Errorf("dropping %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}

	m.logger.Info().Int("tables", len(names)).Msg("all tables dropped")
	return nil
}

func (m *Migrator) tableNames(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Version returns the current migration version.
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Force sets the migration version without running migrations.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version...")
	return m.migrate.Force(version)
}

// Close releases the migration source. The store handle is owned by DB and stays open.
func (m *Migrator) Close() error {
	if err := m.source.Close(); err != nil {
		return fmt.Errorf("failed to close source: %w", err)
	}
	return nil
}

// EnsureSchema brings db to the latest schema version. It is idempotent.
// A dirty version left by an interrupted run is forced back one version and retried once.
func EnsureSchema(db *DB, logger zerolog.Logger) error {
	m, err := NewMigrator(db, logger)
	if err != nil {
		return domain.NewStorageError("migrate", "", err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err == nil {
		return nil
	} else if !isDirty(err) {
		return domain.NewStorageError("migrate", "", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil {
		return domain.NewStorageError("migrate", "version", verr)
	}
	if dirty {
		previous := int(version) - 1
		if previous < 1 {
			previous = -1
		}
		logger.Warn().
			Uint("version", version).
			Int("forced_to", previous).
			Msg("schema left dirty by an earlier attempt, retrying")
		if err := m.Force(previous); err != nil {
			return domain.NewStorageError("migrate", "force", err)
		}
	}

	if err := m.Up(); err != nil {
		return domain.NewStorageError("migrate", "", err)
	}
	return nil
}

func isDirty(err error) bool {
	var dirty migrate.ErrDirty
	return errors.As(err, &dirty)
}

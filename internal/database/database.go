// Package database provides connectivity and schema management for the SQLite publication store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	// Registers the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/domain"
)

// Database operational constants.
const (
	// HealthCheckTimeout is the maximum time to wait for a health check ping.
	HealthCheckTimeout = 5 * time.Second

	// MemoryPath selects a shared in-memory store instead of a file.
	MemoryPath = ":memory:"

	driverName = "sqlite"
)

// HealthStatus contains database health information.
type HealthStatus struct {
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	Path            string `json:"path"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	MaxOpen         int    `json:"max_open"`
}

// DB wraps the SQLite connection pool of a single store file.
type DB struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// DBTX is satisfied by both *DB and *sql.Tx so repositories can run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Compile-time checks.
var (
	_ DBTX = (*DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

// Open opens (creating when absent) the store file named by cfg.Path.
// Failures are reported as storage errors wrapping domain.ErrStorageUnavailable.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, domain.NewStorageError("open", "", fmt.Errorf("database path is required"))
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, domain.NewStorageError("open", "", err)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, domain.NewStorageError("open", "", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	if cfg.Path == MemoryPath {
		// An in-memory database lives as long as one of its connections.
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, domain.NewStorageError("open", "ping", err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Int("max_open_conns", maxOpen).
		Dur("busy_timeout", cfg.BusyTimeout).
		Msg("publication store opened")

	return &DB{
		db:     sqlDB,
		path:   cfg.Path,
		logger: logger,
	}, nil
}

func buildDSN(cfg *config.DatabaseConfig) (string, error) {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(ON)")
	if cfg.BusyTimeout > 0 {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}

	if cfg.Path == MemoryPath {
		// Each in-memory store gets its own name so separate opens never share state.
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		return "file:trendseer-" + uuid.NewString() + "?" + params.Encode(), nil
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return "file:" + filepath.ToSlash(absPath) + "?" + params.Encode(), nil
}

// SQL returns the underlying database handle.
func (db *DB) SQL() *sql.DB {
	return db.db
}

// Path returns the configured store path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the store.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	if err := db.db.Close(); err != nil {
		return err
	}
	db.logger.Info().Str("path", db.path).Msg("publication store closed")
	return nil
}

// Ping verifies the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Health returns store health information as a typed struct.
func (db *DB) Health(ctx context.Context) HealthStatus {
	stats := db.db.Stats()
	health := HealthStatus{
		Path:            db.path,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		MaxOpen:         stats.MaxOpenConnections,
	}

	pingCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	if err := db.db.PingContext(pingCtx); err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	} else {
		health.Status = "healthy"
	}

	return health
}

// WithTransaction executes fn within a transaction.
// The transaction is rolled back when fn returns an error or panics, and committed otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Error().
					Err(rbErr).
					Interface("panic", p).
					Msg("failed to rollback transaction after panic")
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().
				Err(rbErr).
				AnErr("original_error", err).
				Msg("failed to rollback transaction")
			return fmt.Errorf("transaction error: %w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ExecContext executes a statement without returning rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that is expected to return at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "store", "trends.db"),
		BusyTimeout:  time.Second,
		MaxOpenConns: 1,
	}
	db, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates missing directories", func(t *testing.T) {
		db := openTestDB(t)
		_, err := os.Stat(db.Path())
		require.NoError(t, err)
	})

	t.Run("in-memory stores are isolated", func(t *testing.T) {
		cfg := &config.DatabaseConfig{Path: MemoryPath, MaxOpenConns: 1}
		a, err := Open(context.Background(), cfg, zerolog.Nop())
		require.NoError(t, err)
		defer a.Close()
		b, err := Open(context.Background(), cfg, zerolog.Nop())
		require.NoError(t, err)
		defer b.Close()

		_, err = a.ExecContext(context.Background(), "CREATE TABLE only_in_a (x INTEGER)")
		require.NoError(t, err)

		var n int
		err = b.QueryRowContext(context.Background(),
			"SELECT COUNT(*) FROM sqlite_master WHERE name = 'only_in_a'").Scan(&n)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Open(context.Background(), &config.DatabaseConfig{}, zerolog.Nop())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	})

	t.Run("unusable location", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		cfg := &config.DatabaseConfig{Path: filepath.Join(blocker, "trends.db")}
		_, err := Open(context.Background(), cfg, zerolog.Nop())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

		var storageErr *domain.StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "open", storageErr.Op)
	})
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)

	health := db.Health(context.Background())
	assert.Equal(t, "healthy", health.Status)
	assert.Empty(t, health.Error)
	assert.Equal(t, 1, health.MaxOpen)

	require.NoError(t, db.Close())
	health = db.Health(context.Background())
	assert.Equal(t, "unhealthy", health.Status)
	assert.NotEmpty(t, health.Error)
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n))
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO items (id) VALUES (1)")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO items (id) VALUES (2)"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(tx *sql.Tx) error {
				_, _ = tx.ExecContext(ctx, "INSERT INTO items (id) VALUES (3)")
				panic("unexpected")
			})
		})
		assert.Equal(t, 1, count())
	})
}

func tableNames(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name != 'schema_migrations' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestEnsureSchema(t *testing.T) {
	expected := []string{
		"candidates", "derived_revisions", "openalex_queries", "openalex_tokens", "predictions",
		"pub_scope_terms", "pub_terms", "publications", "research_scopes", "scope_terms", "time_series",
	}

	t.Run("creates all tables and is idempotent", func(t *testing.T) {
		db := openTestDB(t)
		require.NoError(t, EnsureSchema(db, zerolog.Nop()))
		require.NoError(t, EnsureSchema(db, zerolog.Nop()))
		assert.Equal(t, expected, tableNames(t, db))
	})

	t.Run("accepts a store created before migrations existed", func(t *testing.T) {
		db := openTestDB(t)
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `CREATE TABLE publications (
			id INTEGER PRIMARY KEY, year INTEGER, title TEXT, abstract TEXT,
			source TEXT, language TEXT, authors TEXT, ref_ids TEXT)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, "INSERT INTO publications (id, year, title) VALUES (7, 2020, 'kept')")
		require.NoError(t, err)

		require.NoError(t, EnsureSchema(db, zerolog.Nop()))

		var title string
		require.NoError(t, db.QueryRowContext(ctx, "SELECT title FROM publications WHERE id = 7").Scan(&title))
		assert.Equal(t, "kept", title)
	})

	t.Run("recovers from a dirty version", func(t *testing.T) {
		db := openTestDB(t)
		require.NoError(t, EnsureSchema(db, zerolog.Nop()))

		_, err := db.ExecContext(context.Background(), "UPDATE schema_migrations SET dirty = 1")
		require.NoError(t, err)

		require.NoError(t, EnsureSchema(db, zerolog.Nop()))

		m, err := NewMigrator(db, zerolog.Nop())
		require.NoError(t, err)
		defer m.Close()
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.False(t, dirty)
		assert.Equal(t, uint(3), version)
	})

	t.Run("store stays usable after migrator close", func(t *testing.T) {
		db := openTestDB(t)
		require.NoError(t, EnsureSchema(db, zerolog.Nop()))
		require.NoError(t, db.Ping(context.Background()))
	})
}

func TestMigrator_DownAndSteps(t *testing.T) {
	db := openTestDB(t)

	m, err := NewMigrator(db, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up())
	require.NoError(t, m.Steps(-2))
	version, _, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.NotContains(t, tableNames(t, db), "derived_revisions")
	assert.NotContains(t, tableNames(t, db), "predictions")

	require.NoError(t, m.Down())
	assert.Empty(t, tableNames(t, db))
}

func TestNewMigrator_Validation(t *testing.T) {
	_, err := NewMigrator(nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")

	_, err = NewMigrator(&DB{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database handle not initialized")
}

func TestMigrator_Drop(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, EnsureSchema(db, zerolog.Nop()))

	m, err := NewMigrator(db, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	_, err = db.ExecContext(context.Background(), "INSERT INTO publications (id, year, title) VALUES (1, 2020, 'gone')")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Drop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("drop did not return on a single-connection store")
	}
	assert.Empty(t, tableNames(t, db))

	require.NoError(t, EnsureSchema(db, zerolog.Nop()), "a dropped store can be migrated again")
	assert.Contains(t, tableNames(t, db), "publications")
}

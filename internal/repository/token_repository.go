package repository

import (
	"context"
	"fmt"
	"time"
)

// TokenRepository stores fetch-attempt markers per combination and year.
type TokenRepository interface {
	// Mark records an attempt. Marking twice is a no-op.
	Mark(ctx context.Context, combination string, year int, at time.Time) error

	// Exists reports whether an attempt was recorded.
	Exists(ctx context.Context, combination string, year int) (bool, error)

	// Count returns how many attempts were recorded for combinations over [from, to].
	Count(ctx context.Context, combinations []string, from, to int) (int, error)
}

// Compile-time interface verification.
var _ TokenRepository = (*SqliteTokenRepository)(nil)

// SqliteTokenRepository is a SQLite implementation of TokenRepository.
type SqliteTokenRepository struct {
	db DBTX
}

// NewSqliteTokenRepository creates a new SQLite token repository.
func NewSqliteTokenRepository(db DBTX) *SqliteTokenRepository {
	return &SqliteTokenRepository{db: db}
}

// Mark records a fetch attempt.
func (r *SqliteTokenRepository) Mark(ctx context.Context, combination string, year int, at time.Time) error {
	query := `
		INSERT OR IGNORE INTO openalex_tokens (combination, year, update_time)
		VALUES (?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, combination, year, at.Unix()); err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// Exists reports whether a fetch attempt was recorded.
func (r *SqliteTokenRepository) Exists(ctx context.Context, combination string, year int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM openalex_tokens WHERE combination = ? AND year = ?)`
	if err := r.db.QueryRowContext(ctx, query, combination, year).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return exists, nil
}

// Count counts the recorded fetch attempts of combinations over [from, to].
func (r *SqliteTokenRepository) Count(ctx context.Context, combinations []string, from, to int) (int, error) {
	if len(combinations) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(combinations)+2)
	args = append(args, from, to)
	for _, c := range combinations {
		args = append(args, c)
	}

	query := `
		SELECT COUNT(*) FROM openalex_tokens
		WHERE year BETWEEN ? AND ? AND combination IN (` + placeholders(len(combinations)) + `)`

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return n, nil
}

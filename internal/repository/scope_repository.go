package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
)

// ScopeRecord is a registered research scope.
type ScopeRecord struct {
	Keywords     string    `json:"keywords"`
	Combinations string    `json:"combinations"`
	UpdateTime   time.Time `json:"update_time"`
}

// ScopeRepository stores research scopes.
type ScopeRepository interface {
	// Register inserts rec unless a scope with the same keywords exists.
	// It reports whether a row was inserted.
	Register(ctx context.Context, rec ScopeRecord) (bool, error)

	// Get returns the scope registered under keywords.
	// Returns domain.ErrNotFound if none is registered.
	Get(ctx context.Context, keywords string) (*ScopeRecord, error)

	// List returns all scopes, oldest first.
	List(ctx context.Context) ([]ScopeRecord, error)
}

// Compile-time interface verification.
var _ ScopeRepository = (*SqliteScopeRepository)(nil)

// SqliteScopeRepository is a SQLite implementation of ScopeRepository.
type SqliteScopeRepository struct {
	db DBTX
}

// NewSqliteScopeRepository creates a new SQLite scope repository.
func NewSqliteScopeRepository(db DBTX) *SqliteScopeRepository {
	return &SqliteScopeRepository{db: db}
}

// Register inserts a scope if absent.
func (r *SqliteScopeRepository) Register(ctx context.Context, rec ScopeRecord) (bool, error) {
	query := `
		INSERT OR IGNORE INTO research_scopes (keywords, combinations, update_time)
		VALUES (?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query, rec.Keywords, rec.Combinations, rec.UpdateTime.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to register scope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Get returns a registered scope.
func (r *SqliteScopeRepository) Get(ctx context.Context, keywords string) (*ScopeRecord, error) {
	query := `SELECT keywords, combinations, update_time FROM research_scopes WHERE keywords = ?`

	rec, err := scanScopeRecord(r.db.QueryRowContext(ctx, query, keywords))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("scope", keywords)
		}
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return rec, nil
}

// List returns all scopes ordered by registration time.
func (r *SqliteScopeRepository) List(ctx context.Context) ([]ScopeRecord, error) {
	query := `
		SELECT keywords, combinations, update_time
		FROM research_scopes
		ORDER BY update_time ASC, keywords ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []ScopeRecord
	for rows.Next() {
		rec, err := scanScopeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scopes: %w", err)
	}
	return scopes, nil
}

func scanScopeRecord(row rowScanner) (*ScopeRecord, error) {
	var (
		rec          ScopeRecord
		combinations sql.NullString
		updateTime   sql.NullInt64
	)
	if err := row.Scan(&rec.Keywords, &combinations, &updateTime); err != nil {
		return nil, err
	}
	rec.Combinations = combinations.String
	rec.UpdateTime = unixTime(updateTime.Int64)
	return &rec, nil
}

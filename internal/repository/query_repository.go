package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
)

// QueryRecord is the stored result of the last successful fetch for a combination and year.
type QueryRecord struct {
	Combination string
	Year        int
	UpdateTime  time.Time
	IDs         []uint64
	RefIDs      []uint64
}

// QueryRepository stores query records.
type QueryRepository interface {
	// Upsert writes rec, replacing any earlier record for the same combination and year.
	Upsert(ctx context.Context, rec QueryRecord) error

	// Get returns the record for combination and year.
	// Returns a *domain.QueryNotFoundError when none is stored.
	Get(ctx context.Context, combination string, year int) (*QueryRecord, error)

	// ListByYear returns the stored records of year for the given combinations.
	ListByYear(ctx context.Context, year int, combinations []string) ([]QueryRecord, error)
}

// Compile-time interface verification.
var _ QueryRepository = (*SqliteQueryRepository)(nil)

// SqliteQueryRepository is a SQLite implementation of QueryRepository.
type SqliteQueryRepository struct {
	db DBTX
}

// NewSqliteQueryRepository creates a new SQLite query repository.
func NewSqliteQueryRepository(db DBTX) *SqliteQueryRepository {
	return &SqliteQueryRepository{db: db}
}

// Upsert writes a query record.
func (r *SqliteQueryRepository) Upsert(ctx context.Context, rec QueryRecord) error {
	query := `
		INSERT OR REPLACE INTO openalex_queries (combination, year, update_time, ids, ref_ids)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.Combination,
		rec.Year,
		rec.UpdateTime.Unix(),
		domain.EncodeIDs(rec.IDs),
		domain.EncodeIDs(rec.RefIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert query record: %w", err)
	}
	return nil
}

// Get returns the record for combination and year.
func (r *SqliteQueryRepository) Get(ctx context.Context, combination string, year int) (*QueryRecord, error) {
	query := `
		SELECT combination, year, update_time, ids, ref_ids
		FROM openalex_queries
		WHERE combination = ? AND year = ?`

	rec, err := scanQueryRecord(r.db.QueryRowContext(ctx, query, combination, year))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewQueryNotFoundError(combination, year)
		}
		return nil, fmt.Errorf("failed to get query record: %w", err)
	}
	return rec, nil
}

// ListByYear returns stored records of year for the given combinations.
func (r *SqliteQueryRepository) ListByYear(ctx context.Context, year int, combinations []string) ([]QueryRecord, error) {
	if len(combinations) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(combinations)+1)
	args = append(args, year)
	for _, c := range combinations {
		args = append(args, c)
	}

	query := `
		SELECT combination, year, update_time, ids, ref_ids
		FROM openalex_queries
		WHERE year = ? AND combination IN (` + placeholders(len(combinations)) + `)
		ORDER BY combination`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list query records: %w", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		rec, err := scanQueryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueryRecord(row rowScanner) (*QueryRecord, error) {
	var (
		rec        QueryRecord
		updateTime sql.NullInt64
		ids, refs  sql.NullString
	)
	if err := row.Scan(&rec.Combination, &rec.Year, &updateTime, &ids, &refs); err != nil {
		return nil, err
	}

	var err error
	if rec.IDs, err = domain.DecodeIDs(ids.String); err != nil {
		return nil, fmt.Errorf("query record %s/%d ids: %w", rec.Combination, rec.Year, err)
	}
	if rec.RefIDs, err = domain.DecodeIDs(refs.String); err != nil {
		return nil, fmt.Errorf("query record %s/%d ref_ids: %w", rec.Combination, rec.Year, err)
	}
	rec.UpdateTime = unixTime(updateTime.Int64)
	return &rec, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
)

// TermRepository stores tokenised publication terms and per-scope biterm weights.
type TermRepository interface {
	// UpsertPubTerms stores the terms of one publication.
	UpsertPubTerms(ctx context.Context, id uint64, terms []string) error

	// GetPubTerms returns the stored terms of ids. Ids without terms are absent from the result.
	GetPubTerms(ctx context.Context, ids []uint64) (map[uint64][]string, error)

	// UpsertScopeTerms stores the weighted top biterms of a scope year.
	UpsertScopeTerms(ctx context.Context, keywords string, year int, biterms []domain.WeightedBiterm, at time.Time) error

	// GetScopeTerms returns the weighted biterms of a scope year.
	// Returns domain.ErrNotFound if the year has not been weighted.
	GetScopeTerms(ctx context.Context, keywords string, year int) ([]domain.WeightedBiterm, error)

	// UpsertPubScopeTerms stores the top biterms a publication carries within a scope.
	UpsertPubScopeTerms(ctx context.Context, id uint64, keywords string, year int, biterms []domain.Biterm, at time.Time) error

	// ListPubScopeTerms returns the biterms of every publication of a scope year.
	ListPubScopeTerms(ctx context.Context, keywords string, year int) (map[uint64][]domain.Biterm, error)
}

// Compile-time interface verification.
var _ TermRepository = (*SqliteTermRepository)(nil)

// SqliteTermRepository is a SQLite implementation of TermRepository.
type SqliteTermRepository struct {
	db DBTX
}

// NewSqliteTermRepository creates a new SQLite term repository.
func NewSqliteTermRepository(db DBTX) *SqliteTermRepository {
	return &SqliteTermRepository{db: db}
}

// UpsertPubTerms stores publication terms as space-joined text.
func (r *SqliteTermRepository) UpsertPubTerms(ctx context.Context, id uint64, terms []string) error {
	query := `INSERT OR REPLACE INTO pub_terms (id, terms) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, int64(id), strings.Join(terms, " ")); err != nil {
		return fmt.Errorf("failed to upsert terms of %d: %w", id, err)
	}
	return nil
}

// GetPubTerms returns stored publication terms.
func (r *SqliteTermRepository) GetPubTerms(ctx context.Context, ids []uint64) (map[uint64][]string, error) {
	out := make(map[uint64][]string, len(ids))
	for _, chunk := range chunkIDs(ids, idChunkSize) {
		query := `SELECT id, terms FROM pub_terms WHERE id IN (` + placeholders(len(chunk)) + `)`
		rows, err := r.db.QueryContext(ctx, query, idArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query terms: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var (
					id    int64
					terms sql.NullString
				)
				if err := rows.Scan(&id, &terms); err != nil {
					return err
				}
				out[uint64(id)] = strings.Fields(terms.String)
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("failed to read terms: %w", err)
		}
	}
	return out, nil
}

// UpsertScopeTerms stores weighted biterms for a scope year.
func (r *SqliteTermRepository) UpsertScopeTerms(ctx context.Context, keywords string, year int, biterms []domain.WeightedBiterm, at time.Time) error {
	query := `
		INSERT OR REPLACE INTO scope_terms (keywords, year, update_time, terms)
		VALUES (?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, keywords, year, at.Unix(), domain.EncodeWeightedBiterms(biterms)); err != nil {
		return fmt.Errorf("failed to upsert scope terms: %w", err)
	}
	return nil
}

// GetScopeTerms returns weighted biterms for a scope year.
func (r *SqliteTermRepository) GetScopeTerms(ctx context.Context, keywords string, year int) ([]domain.WeightedBiterm, error) {
	var terms sql.NullString
	query := `SELECT terms FROM scope_terms WHERE keywords = ? AND year = ?`
	if err := r.db.QueryRowContext(ctx, query, keywords, year).Scan(&terms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("scope terms", fmt.Sprintf("%s/%d", keywords, year))
		}
		return nil, fmt.Errorf("failed to get scope terms: %w", err)
	}
	biterms, err := domain.DecodeWeightedBiterms(terms.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scope terms: %w", err)
	}
	return biterms, nil
}

// UpsertPubScopeTerms stores the biterms of one publication within a scope.
func (r *SqliteTermRepository) UpsertPubScopeTerms(ctx context.Context, id uint64, keywords string, year int, biterms []domain.Biterm, at time.Time) error {
	query := `
		INSERT OR REPLACE INTO pub_scope_terms (id, scope_keywords, year, update_time, terms)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, int64(id), keywords, year, at.Unix(), domain.EncodeBiterms(biterms)); err != nil {
		return fmt.Errorf("failed to upsert publication scope terms of %d: %w", id, err)
	}
	return nil
}

// ListPubScopeTerms returns the biterms of every publication of a scope year.
func (r *SqliteTermRepository) ListPubScopeTerms(ctx context.Context, keywords string, year int) (map[uint64][]domain.Biterm, error) {
	query := `SELECT id, terms FROM pub_scope_terms WHERE scope_keywords = ? AND year = ?`
	rows, err := r.db.QueryContext(ctx, query, keywords, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list publication scope terms: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]domain.Biterm)
	for rows.Next() {
		var (
			id    int64
			terms sql.NullString
		)
		if err := rows.Scan(&id, &terms); err != nil {
			return nil, fmt.Errorf("failed to scan publication scope terms: %w", err)
		}
		biterms, err := domain.DecodeBiterms(terms.String)
		if err != nil {
			return nil, fmt.Errorf("publication %d: %w", id, err)
		}
		out[uint64(id)] = biterms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publication scope terms: %w", err)
	}
	return out, nil
}

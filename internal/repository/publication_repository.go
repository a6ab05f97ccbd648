package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/helixir/research-trend-service/internal/domain"
)

// PublicationRepository stores publications. Rows are inserted once and never updated.
type PublicationRepository interface {
	// InsertMissing inserts the publications whose id is not stored yet and
	// returns how many rows were added. Existing rows are left untouched.
	InsertMissing(ctx context.Context, pubs []domain.Publication) (int, error)

	// GetByIDs resolves ids to publications. Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []uint64) (domain.PublicationSet, error)

	// ExistingIDs returns the subset of ids that are stored.
	ExistingIDs(ctx context.Context, ids []uint64) (map[uint64]struct{}, error)

	// Count returns the number of stored publications.
	Count(ctx context.Context) (int64, error)
}

// Compile-time interface verification.
var _ PublicationRepository = (*SqlitePublicationRepository)(nil)

// SqlitePublicationRepository is a SQLite implementation of PublicationRepository.
type SqlitePublicationRepository struct {
	db DBTX
}

// NewSqlitePublicationRepository creates a new SQLite publication repository.
func NewSqlitePublicationRepository(db DBTX) *SqlitePublicationRepository {
	return &SqlitePublicationRepository{db: db}
}

const insertPublicationSQL = `
	INSERT OR IGNORE INTO publications (id, year, title, abstract, source, language, authors, ref_ids)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// InsertMissing inserts publications not already present.
func (r *SqlitePublicationRepository) InsertMissing(ctx context.Context, pubs []domain.Publication) (int, error) {
	inserted := 0
	for _, p := range pubs {
		res, err := r.db.ExecContext(ctx, insertPublicationSQL,
			int64(p.ID),
			p.Year,
			p.Title,
			p.Abstract,
			p.Source,
			p.Language,
			domain.EncodeAuthors(p.Authors),
			domain.EncodeIDs(p.RefIDs),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert publication %d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// GetByIDs resolves ids to publications.
func (r *SqlitePublicationRepository) GetByIDs(ctx context.Context, ids []uint64) (domain.PublicationSet, error) {
	set := make(domain.PublicationSet, len(ids))
	for _, chunk := range chunkIDs(ids, idChunkSize) {
		query := `
			SELECT id, year, title, abstract, source, language, authors, ref_ids
			FROM publications
			WHERE id IN (` + placeholders(len(chunk)) + `)`

		rows, err := r.db.QueryContext(ctx, query, idArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query publications: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				p, err := scanPublication(rows)
				if err != nil {
					return err
				}
				set[p.ID] = p
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("failed to read publications: %w", err)
		}
	}
	return set, nil
}

// ExistingIDs returns the stored subset of ids.
func (r *SqlitePublicationRepository) ExistingIDs(ctx context.Context, ids []uint64) (map[uint64]struct{}, error) {
	found := make(map[uint64]struct{}, len(ids))
	for _, chunk := range chunkIDs(ids, idChunkSize) {
		query := `SELECT id FROM publications WHERE id IN (` + placeholders(len(chunk)) + `)`
		rows, err := r.db.QueryContext(ctx, query, idArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query publication ids: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return err
				}
				found[uint64(id)] = struct{}{}
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("failed to read publication ids: %w", err)
		}
	}
	return found, nil
}

// Count returns the number of stored publications.
func (r *SqlitePublicationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM publications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count publications: %w", err)
	}
	return n, nil
}

func scanPublication(rows *sql.Rows) (domain.Publication, error) {
	var (
		id                                       int64
		year                                     sql.NullInt64
		title, abstract, source, language, names sql.NullString
		refs                                     sql.NullString
	)
	if err := rows.Scan(&id, &year, &title, &abstract, &source, &language, &names, &refs); err != nil {
		return domain.Publication{}, err
	}
	refIDs, err := domain.DecodeIDs(refs.String)
	if err != nil {
		return domain.Publication{}, fmt.Errorf("publication %d: %w", id, err)
	}
	return domain.Publication{
		ID:       uint64(id),
		Year:     int(year.Int64),
		Title:    title.String,
		Abstract: abstract.String,
		Source:   source.String,
		Language: language.String,
		Authors:  domain.DecodeAuthors(names.String),
		RefIDs:   refIDs,
	}, nil
}

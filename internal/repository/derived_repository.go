package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
)

// DerivedRepository stores the outputs of the identification, extraction and prediction tasks.
type DerivedRepository interface {
	// UpsertCandidates stores the ranked candidate ids of a scope year.
	UpsertCandidates(ctx context.Context, keywords string, year int, ids []uint64, at time.Time) error

	// GetCandidates returns the candidate ids of a scope year in rank order.
	// Returns domain.ErrNotFound if the year has not been identified.
	GetCandidates(ctx context.Context, keywords string, year int) ([]uint64, error)

	// UpsertTimeSeries stores the feature matrices of one candidate.
	UpsertTimeSeries(ctx context.Context, keywords string, ts domain.TimeSeries, at time.Time) error

	// ListTimeSeries returns the time series of a scope year ordered by id.
	ListTimeSeries(ctx context.Context, keywords string, year int) ([]domain.TimeSeries, error)

	// CountTimeSeries returns how many time series a scope year has.
	CountTimeSeries(ctx context.Context, keywords string, year int) (int, error)

	// UpsertPrediction stores the forecast of one candidate.
	UpsertPrediction(ctx context.Context, keywords string, p domain.Prediction, at time.Time) error

	// ListPredictions returns the predictions of a scope year, highest score first.
	ListPredictions(ctx context.Context, keywords string, year int) ([]domain.Prediction, error)

	// CountPredictions returns how many predictions a scope year has.
	CountPredictions(ctx context.Context, keywords string, year int) (int, error)

	// DeleteTimeSeries removes the time series of a scope year.
	DeleteTimeSeries(ctx context.Context, keywords string, year int) error

	// DeletePredictions removes the predictions of a scope year.
	DeletePredictions(ctx context.Context, keywords string, year int) error

	// SetRevision records the input revision a task's output of a scope year was computed from.
	SetRevision(ctx context.Context, keywords, task string, year int, revision int) error

	// GetRevision returns the recorded input revision of a task's output.
	// Returns domain.ErrNotFound if none was recorded.
	GetRevision(ctx context.Context, keywords, task string, year int) (int, error)
}

// Compile-time interface verification.
var _ DerivedRepository = (*SqliteDerivedRepository)(nil)

// SqliteDerivedRepository is a SQLite implementation of DerivedRepository.
type SqliteDerivedRepository struct {
	db DBTX
}

// NewSqliteDerivedRepository creates a new SQLite derived artifact repository.
func NewSqliteDerivedRepository(db DBTX) *SqliteDerivedRepository {
	return &SqliteDerivedRepository{db: db}
}

// UpsertCandidates stores candidate ids.
func (r *SqliteDerivedRepository) UpsertCandidates(ctx context.Context, keywords string, year int, ids []uint64, at time.Time) error {
	query := `
		INSERT OR REPLACE INTO candidates (keywords, year, update_time, ids)
		VALUES (?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, keywords, year, at.Unix(), domain.EncodeIDs(ids)); err != nil {
		return fmt.Errorf("failed to upsert candidates: %w", err)
	}
	return nil
}

// GetCandidates returns candidate ids in rank order.
func (r *SqliteDerivedRepository) GetCandidates(ctx context.Context, keywords string, year int) ([]uint64, error) {
	var ids sql.NullString
	query := `SELECT ids FROM candidates WHERE keywords = ? AND year = ?`
	if err := r.db.QueryRowContext(ctx, query, keywords, year).Scan(&ids); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("candidates", fmt.Sprintf("%s/%d", keywords, year))
		}
		return nil, fmt.Errorf("failed to get candidates: %w", err)
	}
	decoded, err := domain.DecodeIDs(ids.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	return decoded, nil
}

// UpsertTimeSeries stores a JSON-encoded time series.
func (r *SqliteDerivedRepository) UpsertTimeSeries(ctx context.Context, keywords string, ts domain.TimeSeries, at time.Time) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to marshal time series: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO time_series (keywords, year, id, update_time, data)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, keywords, ts.Year, int64(ts.ID), at.Unix(), data); err != nil {
		return fmt.Errorf("failed to upsert time series of %d: %w", ts.ID, err)
	}
	return nil
}

// ListTimeSeries returns the time series of a scope year.
func (r *SqliteDerivedRepository) ListTimeSeries(ctx context.Context, keywords string, year int) ([]domain.TimeSeries, error) {
	query := `SELECT data FROM time_series WHERE keywords = ? AND year = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, keywords, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list time series: %w", err)
	}
	defer rows.Close()

	var series []domain.TimeSeries
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan time series: %w", err)
		}
		var ts domain.TimeSeries
		if err := json.Unmarshal(data, &ts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal time series: %w", err)
		}
		series = append(series, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating time series: %w", err)
	}
	return series, nil
}

// CountTimeSeries counts the time series of a scope year.
func (r *SqliteDerivedRepository) CountTimeSeries(ctx context.Context, keywords string, year int) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM time_series WHERE keywords = ? AND year = ?`, keywords, year)
}

// UpsertPrediction stores a JSON-encoded prediction with its score.
func (r *SqliteDerivedRepository) UpsertPrediction(ctx context.Context, keywords string, p domain.Prediction, at time.Time) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO predictions (keywords, year, id, update_time, score, data)
		VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, keywords, p.Year, int64(p.ID), at.Unix(), p.Score, data); err != nil {
		return fmt.Errorf("failed to upsert prediction of %d: %w", p.ID, err)
	}
	return nil
}

// ListPredictions returns the ranked predictions of a scope year.
func (r *SqliteDerivedRepository) ListPredictions(ctx context.Context, keywords string, year int) ([]domain.Prediction, error) {
	query := `SELECT data FROM predictions WHERE keywords = ? AND year = ? ORDER BY score DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, keywords, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		var p domain.Prediction
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return preds, nil
}

// CountPredictions counts the predictions of a scope year.
func (r *SqliteDerivedRepository) CountPredictions(ctx context.Context, keywords string, year int) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM predictions WHERE keywords = ? AND year = ?`, keywords, year)
}

// DeleteTimeSeries removes the time series of a scope year.
func (r *SqliteDerivedRepository) DeleteTimeSeries(ctx context.Context, keywords string, year int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM time_series WHERE keywords = ? AND year = ?`, keywords, year); err != nil {
		return fmt.Errorf("failed to delete time series: %w", err)
	}
	return nil
}

// DeletePredictions removes the predictions of a scope year.
func (r *SqliteDerivedRepository) DeletePredictions(ctx context.Context, keywords string, year int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM predictions WHERE keywords = ? AND year = ?`, keywords, year); err != nil {
		return fmt.Errorf("failed to delete predictions: %w", err)
	}
	return nil
}

// SetRevision records the input revision of a task's output.
func (r *SqliteDerivedRepository) SetRevision(ctx context.Context, keywords, task string, year int, revision int) error {
	query := `
		INSERT OR REPLACE INTO derived_revisions (keywords, task, year, revision)
		VALUES (?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, keywords, task, year, revision); err != nil {
		return fmt.Errorf("failed to set %s revision: %w", task, err)
	}
	return nil
}

// GetRevision returns the recorded input revision of a task's output.
func (r *SqliteDerivedRepository) GetRevision(ctx context.Context, keywords, task string, year int) (int, error) {
	query := `SELECT revision FROM derived_revisions WHERE keywords = ? AND task = ? AND year = ?`

	var revision int
	err := r.db.QueryRowContext(ctx, query, keywords, task, year).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s revision: %w", task, err)
	}
	return revision, nil
}

func (r *SqliteDerivedRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

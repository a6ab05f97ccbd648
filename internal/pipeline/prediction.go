package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
)

// Prediction applies the trained model to every time series of each year in [y1, y2].
// A candidate's score is the sum of its predicted topic share over the horizon.
// The task has no steps when the model artifact cannot be loaded.
type Prediction struct {
	*base
	loader  *artifact.Loader
	pending pendingList[int]

	mu    sync.Mutex
	model *artifact.Model
}

// NewPrediction creates the prediction task.
func NewPrediction(b *base, loader *artifact.Loader) *Prediction {
	return &Prediction{base: b, loader: loader}
}

// Name implements task.Task.
func (p *Prediction) Name() string { return NamePrediction }

// Finished implements task.Task.
func (p *Prediction) Finished(ctx context.Context) bool { return false }

// NumSteps implements task.Task.
func (p *Prediction) NumSteps(ctx context.Context) int {
	if _, err := p.loadModel(ctx); err != nil {
		p.logger.Warn().Err(err).Str("model_uri", p.params.ModelURI).Msg("prediction model unavailable, skipping prediction")
		return p.pending.set(nil)
	}
	return p.pending.set(p.pendingYears(ctx, p.params.FirstSeriesYear(), p.params.YearTo, func(ctx context.Context, y int) (bool, error) {
		input, err := p.derived.GetRevision(ctx, p.keywords(), outputTimeSeries, y)
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return p.upToDate(ctx, outputPredictions, y, input)
	}))
}

// DoStep implements task.Task.
func (p *Prediction) DoStep(ctx context.Context, stepID int) error {
	year, ok := p.pending.at(stepID)
	if !ok {
		return fmt.Errorf("prediction step %d out of range", stepID)
	}
	model, err := p.loadModel(ctx)
	if err != nil {
		return err
	}
	revision, err := p.revisionOf(ctx, outputTimeSeries, year)
	if err != nil {
		return err
	}

	series, err := p.derived.ListTimeSeries(ctx, p.keywords(), year)
	if err != nil {
		return fmt.Errorf("loading time series of %d: %w", year, err)
	}

	preds := make([]domain.Prediction, 0, len(series))
	for _, ts := range series {
		out, err := model.Predict(ts.X)
		if err != nil {
			return fmt.Errorf("predicting %d/%d: %w", year, ts.ID, err)
		}
		preds = append(preds, domain.Prediction{
			ID:        ts.ID,
			Year:      year,
			Score:     score(out),
			Predicted: out,
		})
	}

	now := p.now()
	err = p.scope.DB().WithTransaction(ctx, func(tx *sql.Tx) error {
		derived := repository.NewSqliteDerivedRepository(tx)
		if err := derived.DeletePredictions(ctx, p.keywords(), year); err != nil {
			return err
		}
		for _, pred := range preds {
			if err := derived.UpsertPrediction(ctx, p.keywords(), pred, now); err != nil {
				return err
			}
		}
		return derived.SetRevision(ctx, p.keywords(), outputPredictions, year, revision)
	})
	if err != nil {
		return domain.NewStorageError("predict_trends", "INSERT OR REPLACE INTO predictions", err)
	}

	p.logger.Info().Int("year", year).Int("predictions", len(preds)).Msg("trends predicted")
	return nil
}

// Load returns the predictions of year, highest score first.
func (p *Prediction) Load(ctx context.Context, year int) ([]domain.Prediction, error) {
	return p.derived.ListPredictions(ctx, p.keywords(), year)
}

// loadModel loads the artifact once and checks it fits the chain parameters.
func (p *Prediction) loadModel(ctx context.Context) (*artifact.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model, nil
	}
	if p.loader == nil {
		return nil, fmt.Errorf("no artifact loader configured")
	}

	model, err := artifact.LoadModel(ctx, p.loader, p.params.ModelURI)
	if err != nil {
		return nil, err
	}
	if model.Window != p.params.Window {
		return nil, fmt.Errorf("model window %d does not match pipeline window %d", model.Window, p.params.Window)
	}
	p.model = model
	return model, nil
}

// score sums the predicted topic share column.
func score(predicted [][]float64) float64 {
	var s float64
	for _, row := range predicted {
		if len(row) > 0 {
			s += row[0]
		}
	}
	return s
}

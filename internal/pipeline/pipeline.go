// Package pipeline implements the task chain that turns a research scope into trend
// predictions: corpus acquisition, biterm weighting, candidate identification,
// time-series extraction and prediction.
//
// Each task derives its step count from the work still missing in the store and
// persists the output of every step, so a chain interrupted by cancellation or a crash
// resumes where it stopped on the next run.
//
// Every derived output records the input revision it was computed from: the scope's
// token count for biterm weighting, and the revision of the upstream output for the
// tasks after it. A year whose recorded revision is behind its input is pending again,
// so data acquired by a later run flows through the whole chain.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/artifact"
	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/papersources"
	"github.com/helixir/research-trend-service/internal/repository"
	"github.com/helixir/research-trend-service/internal/scope"
	"github.com/helixir/research-trend-service/internal/task"
)

// Task labels reported as progress.
const (
	NameAcquisition    = "Acquiring publications"
	NameWeighting      = "Weighting biterms"
	NameIdentification = "Identifying candidates"
	NameTimeSeries     = "Extracting time series"
	NamePrediction     = "Predicting trends"
)

// Params are the chain parameters.
type Params struct {
	// YearFrom (y0) and YearTo (y2) bound the acquired years, inclusive.
	YearFrom int
	YearTo   int

	// Window is the number of observed years of a time series.
	Window int

	// Horizon is the number of forecast years.
	Horizon int

	// Biterms is the number of top-weighted biterms kept per year.
	Biterms int

	// Candidates is the number of candidates kept per year.
	Candidates int

	// MaxResults caps the publications fetched per combination and year.
	MaxResults int

	// FrontierBatchSize is the number of ids resolved per frontier request.
	FrontierBatchSize int

	// FrontierConcurrency bounds parallel frontier requests.
	FrontierConcurrency int

	// ModelURI locates the prediction model artifact.
	ModelURI string
}

// ParamsFromConfig collects the chain parameters of cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		YearFrom:            cfg.Pipeline.YearFrom,
		YearTo:              cfg.Pipeline.YearTo,
		Window:              cfg.Pipeline.Window,
		Horizon:             cfg.Pipeline.Horizon,
		Biterms:             cfg.Pipeline.Biterms,
		Candidates:          cfg.Pipeline.Candidates,
		MaxResults:          cfg.OpenAlex.MaxResults,
		FrontierBatchSize:   cfg.OpenAlex.FrontierBatchSize,
		FrontierConcurrency: cfg.OpenAlex.FrontierConcurrency,
		ModelURI:            cfg.Pipeline.ModelURI,
	}
}

// FirstSeriesYear returns y1 = y0 + Window - 1, the first year with a full observation window.
func (p Params) FirstSeriesYear() int {
	return p.YearFrom + p.Window - 1
}

// years returns [from, to] inclusive.
func years(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}

// Build returns the ordered task chain for s.
// A nil source disables acquisition and a nil loader disables prediction.
func Build(params Params, s *scope.ResearchScope, source papersources.PublicationSource, loader *artifact.Loader, logger zerolog.Logger, metrics *observability.Metrics) []task.Task {
	b := newBase(params, s, logger, metrics)
	return []task.Task{
		NewAcquisition(b, source),
		NewWeighting(b),
		NewIdentification(b),
		NewTimeSeries(b),
		NewPrediction(b, loader),
	}
}

// base carries the dependencies shared by every task of a chain.
type base struct {
	params  Params
	scope   *scope.ResearchScope
	terms   *repository.SqliteTermRepository
	derived *repository.SqliteDerivedRepository
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func newBase(params Params, s *scope.ResearchScope, logger zerolog.Logger, metrics *observability.Metrics) *base {
	return &base{
		params:  params,
		scope:   s,
		terms:   repository.NewSqliteTermRepository(s.DB()),
		derived: repository.NewSqliteDerivedRepository(s.DB()),
		logger:  observability.WithScopeContext(logger, s.Keywords()),
		metrics: metrics,
		now:     time.Now,
	}
}

func (b *base) keywords() string {
	return b.scope.Keywords()
}

// pendingList holds the work units computed by the last NumSteps call.
type pendingList[T any] struct {
	mu    sync.Mutex
	items []T
}

func (p *pendingList[T]) set(items []T) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
	return len(items)
}

func (p *pendingList[T]) at(i int) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if i < 0 || i >= len(p.items) {
		return zero, false
	}
	return p.items[i], true
}

// pendingYears returns the years of [from, to] for which done reports false.
// A year whose check fails is treated as pending so its step reports the error.
func (b *base) pendingYears(ctx context.Context, from, to int, done func(ctx context.Context, year int) (bool, error)) []int {
	var out []int
	for _, y := range years(from, to) {
		ok, err := done(ctx, y)
		if err != nil {
			b.logger.Warn().Err(err).Int("year", y).Msg("failed to check year, treating as pending")
		}
		if !ok {
			out = append(out, y)
		}
	}
	return out
}

// Output keys under which derived revisions are recorded.
const (
	outputScopeTerms  = "scope_terms"
	outputCandidates  = "candidates"
	outputTimeSeries  = "time_series"
	outputPredictions = "predictions"
)

// acquiredRevision is the input revision of biterm weighting.
func (b *base) acquiredRevision(ctx context.Context) (int, error) {
	return b.scope.QueriedCount(ctx, b.params.YearFrom, b.params.YearTo)
}

// revisionOf returns the revision recorded for output of year, or 0 when it has none.
func (b *base) revisionOf(ctx context.Context, output string, year int) (int, error) {
	rev, err := b.derived.GetRevision(ctx, b.keywords(), output, year)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	return rev, err
}

// upToDate reports whether output of year was computed from at least revision input.
func (b *base) upToDate(ctx context.Context, output string, year, input int) (bool, error) {
	rev, err := b.derived.GetRevision(ctx, b.keywords(), output, year)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rev >= input, nil
}

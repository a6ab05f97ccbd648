package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/papersources"
	"github.com/helixir/research-trend-service/internal/scope"
)

const (
	defaultFrontierBatchSize   = 50
	defaultFrontierConcurrency = 4
)

// queryPair is one (combination, year) acquisition unit.
type queryPair struct {
	Index int
	Year  int
}

// Acquisition fetches the publications of every (combination, year) pair without a
// token, stores them with their citation frontier, then marks the pair as queried.
// A pair whose step fails keeps no token and is retried on the next run.
type Acquisition struct {
	*base
	source  papersources.PublicationSource
	pending pendingList[queryPair]
}

// NewAcquisition creates the acquisition task. A nil or disabled source finishes it immediately.
func NewAcquisition(b *base, source papersources.PublicationSource) *Acquisition {
	return &Acquisition{base: b, source: source}
}

// Name implements task.Task.
func (a *Acquisition) Name() string { return NameAcquisition }

// Finished implements task.Task.
func (a *Acquisition) Finished(ctx context.Context) bool {
	if a.source == nil || !a.source.IsEnabled() {
		a.logger.Debug().Msg("publication source disabled, skipping acquisition")
		return true
	}
	return false
}

// NumSteps implements task.Task.
func (a *Acquisition) NumSteps(ctx context.Context) int {
	var pairs []queryPair
	for _, y := range years(a.params.YearFrom, a.params.YearTo) {
		for i := 0; i < a.scope.NumCombinations(); i++ {
			queried, err := a.scope.AlreadyQueried(ctx, i, y)
			if err != nil {
				a.logger.Warn().Err(err).Int("combination", i).Int("year", y).Msg("failed to read token, treating as pending")
			}
			if !queried {
				pairs = append(pairs, queryPair{Index: i, Year: y})
			}
		}
	}
	return a.pending.set(pairs)
}

// DoStep implements task.Task.
func (a *Acquisition) DoStep(ctx context.Context, stepID int) error {
	pair, ok := a.pending.at(stepID)
	if !ok {
		return fmt.Errorf("acquisition step %d out of range", stepID)
	}
	combination := a.scope.CombinationAt(pair.Index)
	logger := observability.WithCombinationContext(a.logger, combination, pair.Year)

	pubs, err := papersources.SearchAll(ctx, a.source, papersources.SearchParams{
		Query:      CombinationQuery(combination),
		Year:       pair.Year,
		MaxResults: a.params.MaxResults,
	})
	if err != nil {
		return fmt.Errorf("searching %s for %s/%d: %w", a.source.Name(), combination, pair.Year, err)
	}
	a.metrics.RecordPublicationsFetched(len(pubs))

	if err := a.scope.PersistFetchResult(ctx, pair.Index, pair.Year, pubs); err != nil {
		return err
	}

	fetched, err := a.fetchFrontier(ctx, pair)
	if err != nil {
		return fmt.Errorf("fetching citation frontier of %s/%d: %w", combination, pair.Year, err)
	}

	if err := a.scope.MarkQueried(ctx, pair.Index, pair.Year); err != nil {
		return err
	}

	logger.Info().
		Int("publications", len(pubs)).
		Int("frontier", fetched).
		Msg("combination acquired")
	return nil
}

// fetchFrontier resolves the missing referenced ids of pair in concurrent batches and
// stores what the source returns. It returns the number of publications fetched.
func (a *Acquisition) fetchFrontier(ctx context.Context, pair queryPair) (int, error) {
	missing, err := a.scope.MissingReferencedIds(ctx, pair.Index, pair.Year)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	batchSize := a.params.FrontierBatchSize
	if batchSize <= 0 {
		batchSize = defaultFrontierBatchSize
	}
	concurrency := a.params.FrontierConcurrency
	if concurrency <= 0 {
		concurrency = defaultFrontierConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var fetched atomic.Int64
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			pubs, err := a.source.GetByIDs(gctx, batch)
			if err != nil {
				return err
			}
			if _, err := a.scope.StorePublications(gctx, pubs); err != nil {
				return err
			}
			fetched.Add(int64(len(pubs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(fetched.Load()), err
	}

	a.metrics.RecordFrontierFetched(int(fetched.Load()))
	return int(fetched.Load()), nil
}

// Load returns the cached corpus of year across all combinations.
func (a *Acquisition) Load(ctx context.Context, year int) (domain.PublicationSet, error) {
	return a.scope.CorpusForYear(ctx, year)
}

// CombinationQuery turns a combination "a&b" into the phrase query `"a" "b"`.
func CombinationQuery(combination string) string {
	terms := strings.Split(combination, scope.CombinationSeparator)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, "") + `"`
	}
	return strings.Join(terms, " ")
}

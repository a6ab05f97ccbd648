package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
)

// TimeSeries extracts, for every candidate of each year y in [y1, y2], two matrices:
//
//	X: Window rows over years y-W+1..y
//	Y: up to Horizon rows over years y+1..min(y+H, y2)
//
// Column 0 is the share of a year's corpus sharing a biterm with the candidate's topic;
// column 1 is the number of that year's publications citing the candidate.
type TimeSeries struct {
	*base
	pending pendingList[int]
}

// NewTimeSeries creates the time-series extraction task.
func NewTimeSeries(b *base) *TimeSeries {
	return &TimeSeries{base: b}
}

// Name implements task.Task.
func (t *TimeSeries) Name() string { return NameTimeSeries }

// Finished implements task.Task.
func (t *TimeSeries) Finished(ctx context.Context) bool { return false }

// NumSteps implements task.Task. Years without identified candidates are not pending.
func (t *TimeSeries) NumSteps(ctx context.Context) int {
	return t.pending.set(t.pendingYears(ctx, t.params.FirstSeriesYear(), t.params.YearTo, func(ctx context.Context, y int) (bool, error) {
		input, err := t.derived.GetRevision(ctx, t.keywords(), outputCandidates, y)
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return t.upToDate(ctx, outputTimeSeries, y, input)
	}))
}

// yearFeatures is the per-year data the features are computed from.
type yearFeatures struct {
	corpus domain.PublicationSet
	topics map[uint64][]domain.Biterm
}

// DoStep implements task.Task.
func (t *TimeSeries) DoStep(ctx context.Context, stepID int) error {
	year, ok := t.pending.at(stepID)
	if !ok {
		return fmt.Errorf("time series step %d out of range", stepID)
	}
	revision, err := t.revisionOf(ctx, outputCandidates, year)
	if err != nil {
		return err
	}

	candidates, err := t.derived.GetCandidates(ctx, t.keywords(), year)
	if err != nil {
		return fmt.Errorf("loading candidates of %d: %w", year, err)
	}

	first := year - t.params.Window + 1
	last := year + t.params.Horizon
	if last > t.params.YearTo {
		last = t.params.YearTo
	}

	data := make(map[int]yearFeatures, last-first+1)
	for _, y := range years(first, last) {
		corpus, err := t.scope.CorpusForYear(ctx, y)
		if err != nil {
			return err
		}
		topics, err := t.terms.ListPubScopeTerms(ctx, t.keywords(), y)
		if err != nil {
			return fmt.Errorf("loading publication biterms of %d: %w", y, err)
		}
		data[y] = yearFeatures{corpus: corpus, topics: topics}
	}

	topicOf := data[year].topics
	series := make([]domain.TimeSeries, 0, len(candidates))
	for _, id := range candidates {
		topic := bitermSet(topicOf[id])
		ts := domain.TimeSeries{
			ID:   id,
			Year: year,
			X:    make([][]float64, 0, t.params.Window),
			Y:    make([][]float64, 0, last-year),
		}
		for _, y := range years(first, year) {
			ts.X = append(ts.X, features(id, topic, data[y]))
		}
		for _, y := range years(year+1, last) {
			ts.Y = append(ts.Y, features(id, topic, data[y]))
		}
		series = append(series, ts)
	}

	now := t.now()
	err = t.scope.DB().WithTransaction(ctx, func(tx *sql.Tx) error {
		derived := repository.NewSqliteDerivedRepository(tx)
		if err := derived.DeleteTimeSeries(ctx, t.keywords(), year); err != nil {
			return err
		}
		for _, ts := range series {
			if err := derived.UpsertTimeSeries(ctx, t.keywords(), ts, now); err != nil {
				return err
			}
		}
		return derived.SetRevision(ctx, t.keywords(), outputTimeSeries, year, revision)
	})
	if err != nil {
		return domain.NewStorageError("extract_time_series", "INSERT OR REPLACE INTO time_series", err)
	}

	t.logger.Info().
		Int("year", year).
		Int("series", len(series)).
		Msg("time series extracted")
	return nil
}

// Load returns the time series of year ordered by candidate id.
func (t *TimeSeries) Load(ctx context.Context, year int) ([]domain.TimeSeries, error) {
	return t.derived.ListTimeSeries(ctx, t.keywords(), year)
}

func bitermSet(biterms []domain.Biterm) map[domain.Biterm]struct{} {
	set := make(map[domain.Biterm]struct{}, len(biterms))
	for _, b := range biterms {
		set[b] = struct{}{}
	}
	return set
}

// features returns the [topic share, citations] row of candidate id in one year.
// The candidate itself is not counted. Missing years yield zeros.
func features(id uint64, topic map[domain.Biterm]struct{}, year yearFeatures) []float64 {
	var sharing, citing int
	for pid, pub := range year.corpus {
		if pid == id {
			continue
		}
		if pub.Cites(id) {
			citing++
		}
		if len(topic) == 0 {
			continue
		}
		for _, b := range year.topics[pid] {
			if _, ok := topic[b]; ok {
				sharing++
				break
			}
		}
	}

	share := 0.0
	if n := len(year.corpus); n > 0 {
		share = float64(sharing) / float64(n)
	}
	return []float64{share, float64(citing)}
}

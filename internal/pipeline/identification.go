package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
)

// Identification picks the candidate publications of each year in [y1, y2].
//
// Publications are ranked by the number of citations they receive from the scope's
// cached corpus over [y0, y2], then by the number of top biterms they carry, then by id.
// A candidate's topic is its set of top biterms.
type Identification struct {
	*base
	pending pendingList[int]
}

// NewIdentification creates the candidate identification task.
func NewIdentification(b *base) *Identification {
	return &Identification{base: b}
}

// Name implements task.Task.
func (t *Identification) Name() string { return NameIdentification }

// Finished implements task.Task.
func (t *Identification) Finished(ctx context.Context) bool { return false }

// NumSteps implements task.Task.
func (t *Identification) NumSteps(ctx context.Context) int {
	return t.pending.set(t.pendingYears(ctx, t.params.FirstSeriesYear(), t.params.YearTo, func(ctx context.Context, y int) (bool, error) {
		input, err := t.revisionOf(ctx, outputScopeTerms, y)
		if err != nil {
			return false, err
		}
		return t.upToDate(ctx, outputCandidates, y, input)
	}))
}

// DoStep implements task.Task.
func (t *Identification) DoStep(ctx context.Context, stepID int) error {
	year, ok := t.pending.at(stepID)
	if !ok {
		return fmt.Errorf("identification step %d out of range", stepID)
	}
	revision, err := t.revisionOf(ctx, outputScopeTerms, year)
	if err != nil {
		return err
	}

	corpus, err := t.scope.CorpusForYear(ctx, year)
	if err != nil {
		return err
	}
	topics, err := t.terms.ListPubScopeTerms(ctx, t.keywords(), year)
	if err != nil {
		return fmt.Errorf("loading publication biterms: %w", err)
	}
	citations, err := t.citationCounts(ctx)
	if err != nil {
		return err
	}

	candidates := RankCandidates(corpus.IDs(), citations, topics, t.params.Candidates)
	err = t.scope.DB().WithTransaction(ctx, func(tx *sql.Tx) error {
		derived := repository.NewSqliteDerivedRepository(tx)
		if err := derived.UpsertCandidates(ctx, t.keywords(), year, candidates, t.now()); err != nil {
			return err
		}
		return derived.SetRevision(ctx, t.keywords(), outputCandidates, year, revision)
	})
	if err != nil {
		return domain.NewStorageError("identify_candidates", "INSERT OR REPLACE INTO candidates", err)
	}

	t.logger.Info().
		Int("year", year).
		Int("publications", len(corpus)).
		Int("candidates", len(candidates)).
		Msg("candidates identified")
	return nil
}

// citationCounts counts, for every cited id, the publications of the cached corpus
// over [y0, y2] citing it.
func (t *Identification) citationCounts(ctx context.Context) (map[uint64]int, error) {
	counts := make(map[uint64]int)
	for _, y := range years(t.params.YearFrom, t.params.YearTo) {
		corpus, err := t.scope.CorpusForYear(ctx, y)
		if err != nil {
			return nil, err
		}
		for _, pub := range corpus {
			for _, ref := range pub.RefIDs {
				counts[ref]++
			}
		}
	}
	return counts, nil
}

// Load returns the candidate ids of year in rank order.
func (t *Identification) Load(ctx context.Context, year int) ([]uint64, error) {
	return t.derived.GetCandidates(ctx, t.keywords(), year)
}

// RankCandidates orders ids by citations, then by topic size, then by id, and keeps the first n.
func RankCandidates(ids []uint64, citations map[uint64]int, topics map[uint64][]domain.Biterm, n int) []uint64 {
	ranked := append([]uint64(nil), ids...)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if citations[a] != citations[b] {
			return citations[a] > citations[b]
		}
		if len(topics[a]) != len(topics[b]) {
			return len(topics[a]) > len(topics[b])
		}
		return a < b
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	if ranked == nil {
		ranked = []uint64{}
	}
	return ranked
}

package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
)

// Weighting scores the biterms of each year's corpus and keeps the top K.
//
// A biterm's weight is df × log(N/df + 1), where df is the number of publications of
// the year containing both terms and N the corpus size. A year is weighted again once
// the scope holds tokens its last weighting did not see.
type Weighting struct {
	*base
	pending pendingList[int]
}

// NewWeighting creates the biterm weighting task.
func NewWeighting(b *base) *Weighting {
	return &Weighting{base: b}
}

// Name implements task.Task.
func (w *Weighting) Name() string { return NameWeighting }

// Finished implements task.Task.
func (w *Weighting) Finished(ctx context.Context) bool { return false }

// NumSteps implements task.Task.
func (w *Weighting) NumSteps(ctx context.Context) int {
	input, err := w.acquiredRevision(ctx)
	return w.pending.set(w.pendingYears(ctx, w.params.YearFrom, w.params.YearTo, func(ctx context.Context, y int) (bool, error) {
		if err != nil {
			return false, err
		}
		return w.upToDate(ctx, outputScopeTerms, y, input)
	}))
}

// DoStep implements task.Task.
func (w *Weighting) DoStep(ctx context.Context, stepID int) error {
	year, ok := w.pending.at(stepID)
	if !ok {
		return fmt.Errorf("weighting step %d out of range", stepID)
	}
	revision, err := w.acquiredRevision(ctx)
	if err != nil {
		return err
	}

	corpus, err := w.scope.CorpusForYear(ctx, year)
	if err != nil {
		return err
	}
	ids := corpus.IDs()

	tokens, err := w.terms.GetPubTerms(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading publication terms: %w", err)
	}

	pubBiterms := make(map[uint64][]domain.Biterm, len(ids))
	newTerms := make(map[uint64][]string)
	for _, id := range ids {
		toks, ok := tokens[id]
		if !ok {
			pub := corpus[id]
			toks = Tokenize(pub.Text())
			newTerms[id] = toks
		}
		pubBiterms[id] = Biterms(toks)
	}

	top := TopBiterms(pubBiterms, w.params.Biterms)
	inTop := make(map[domain.Biterm]struct{}, len(top))
	for _, b := range top {
		inTop[b.Biterm] = struct{}{}
	}

	now := w.now()
	err = w.scope.DB().WithTransaction(ctx, func(tx *sql.Tx) error {
		terms := repository.NewSqliteTermRepository(tx)
		for _, id := range ids {
			if toks, ok := newTerms[id]; ok {
				if err := terms.UpsertPubTerms(ctx, id, toks); err != nil {
					return err
				}
			}
			var kept []domain.Biterm
			for _, b := range pubBiterms[id] {
				if _, ok := inTop[b]; ok {
					kept = append(kept, b)
				}
			}
			if err := terms.UpsertPubScopeTerms(ctx, id, w.keywords(), year, kept, now); err != nil {
				return err
			}
		}
		if err := terms.UpsertScopeTerms(ctx, w.keywords(), year, top, now); err != nil {
			return err
		}
		return repository.NewSqliteDerivedRepository(tx).SetRevision(ctx, w.keywords(), outputScopeTerms, year, revision)
	})
	if err != nil {
		return domain.NewStorageError("weight_biterms", "INSERT OR REPLACE INTO scope_terms", err)
	}

	w.logger.Info().
		Int("year", year).
		Int("publications", len(ids)).
		Int("biterms", len(top)).
		Msg("biterms weighted")
	return nil
}

// Load returns the weighted top biterms of year.
func (w *Weighting) Load(ctx context.Context, year int) ([]domain.WeightedBiterm, error) {
	return w.terms.GetScopeTerms(ctx, w.keywords(), year)
}

// TopBiterms weights the biterms of a corpus and returns the k heaviest, ordered by
// descending weight and then by biterm.
func TopBiterms(pubBiterms map[uint64][]domain.Biterm, k int) []domain.WeightedBiterm {
	n := float64(len(pubBiterms))
	df := make(map[domain.Biterm]int)
	for _, biterms := range pubBiterms {
		for _, b := range biterms {
			df[b]++
		}
	}

	weighted := make([]domain.WeightedBiterm, 0, len(df))
	for b, count := range df {
		f := float64(count)
		weighted = append(weighted, domain.WeightedBiterm{
			Biterm: b,
			Weight: f * math.Log(n/f+1),
		})
	}
	sort.Slice(weighted, func(i, j int) bool {
		if weighted[i].Weight != weighted[j].Weight {
			return weighted[i].Weight > weighted[j].Weight
		}
		if weighted[i].A != weighted[j].A {
			return weighted[i].A < weighted[j].A
		}
		return weighted[i].B < weighted[j].B
	})

	if k >= 0 && len(weighted) > k {
		weighted = weighted[:k]
	}
	return weighted
}

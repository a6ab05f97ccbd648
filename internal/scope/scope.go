// Package scope implements the research scope: two keyword groups whose cross product
// defines the topic combinations, and the incremental publication cache built for them.
//
// A scope answers, per combination and year, whether a fetch was attempted, which
// publications the last fetch returned, and which referenced publications are still
// missing from the store (the citation frontier). Every persistence step is committed
// immediately so acquisition can resume after a crash or cancellation.
package scope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/repository"
)

// CombinationSeparator joins the two terms of a combination.
const CombinationSeparator = domain.CombinationSeparator

// ResearchScope is a canonical pair of keyword groups bound to a publication store.
// It is safe for concurrent use; all state lives in the store.
type ResearchScope struct {
	db       *database.DB
	kws1     []string
	kws2     []string
	keywords string

	publications repository.PublicationRepository
	queries      repository.QueryRepository
	tokens       repository.TokenRepository
	scopes       repository.ScopeRepository

	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a ResearchScope.
type Option func(*ResearchScope)

// WithLogger sets the scope logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *ResearchScope) {
		s.logger = logger
	}
}

// WithMetrics records store operation metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *ResearchScope) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source of update timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ResearchScope) {
		s.now = now
	}
}

// New builds a canonical scope from two keyword groups.
// Keywords are normalized, deduplicated and sorted. Both groups must be non-empty.
func New(db *database.DB, kws1, kws2 []string, opts ...Option) (*ResearchScope, error) {
	if db == nil {
		return nil, domain.NewValidationError("db", "store is required")
	}

	k1 := domain.NormalizeKeywords(kws1)
	k2 := domain.NormalizeKeywords(kws2)
	if len(k1) == 0 {
		return nil, domain.NewValidationError("kws1", "first keyword group is empty")
	}
	if len(k2) == 0 {
		return nil, domain.NewValidationError("kws2", "second keyword group is empty")
	}

	s := &ResearchScope{
		db:           db,
		kws1:         k1,
		kws2:         k2,
		keywords:     domain.JoinKeywordList(k1) + domain.KeywordGroupSeparator + domain.JoinKeywordList(k2),
		publications: repository.NewSqlitePublicationRepository(db),
		queries:      repository.NewSqliteQueryRepository(db),
		tokens:       repository.NewSqliteTokenRepository(db),
		scopes:       repository.NewSqliteScopeRepository(db),
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.WithScopeContext(s.logger, s.keywords)
	return s, nil
}

// Parse builds a scope from its "k1a,k1b;k2a,k2b" serialization.
// The string must split into exactly two groups.
func Parse(db *database.DB, keywords string, opts ...Option) (*ResearchScope, error) {
	groups := strings.Split(keywords, domain.KeywordGroupSeparator)
	if len(groups) != 2 {
		return nil, domain.NewValidationError("keywords",
			fmt.Sprintf("expected two %q-separated keyword groups, got %d", domain.KeywordGroupSeparator, len(groups)))
	}
	return New(db, strings.Split(groups[0], domain.KeywordSeparator), strings.Split(groups[1], domain.KeywordSeparator), opts...)
}

// Canonicalize serializes the unordered pair (a, b) with the smaller term first.
func Canonicalize(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + CombinationSeparator + b
}

// DB returns the store the scope is bound to.
func (s *ResearchScope) DB() *database.DB {
	return s.db
}

// Keywords returns the canonical "k1a,k1b;k2a,k2b" serialization.
func (s *ResearchScope) Keywords() string {
	return s.keywords
}

// Keywords1 returns a copy of the first keyword group.
func (s *ResearchScope) Keywords1() []string {
	return append([]string(nil), s.kws1...)
}

// Keywords2 returns a copy of the second keyword group.
func (s *ResearchScope) Keywords2() []string {
	return append([]string(nil), s.kws2...)
}

// NumCombinations returns |kws1| x |kws2|.
func (s *ResearchScope) NumCombinations() int {
	return len(s.kws1) * len(s.kws2)
}

// CombinationAt returns the canonical combination at index modulo NumCombinations.
// Index i maps to kws1[i1], kws2[i2] with i = i1 + |kws1|*i2.
func (s *ResearchScope) CombinationAt(index int) string {
	n := s.NumCombinations()
	i := ((index % n) + n) % n
	return Canonicalize(s.kws1[i%len(s.kws1)], s.kws2[i/len(s.kws1)])
}

// CombinationList returns every combination, kws1 terms outermost. A combination's
// position in the list is not the index CombinationAt takes.
func (s *ResearchScope) CombinationList() []string {
	out := make([]string, 0, s.NumCombinations())
	for _, a := range s.kws1 {
		for _, b := range s.kws2 {
			out = append(out, Canonicalize(a, b))
		}
	}
	return out
}

// Combinations returns the comma-joined combination space stored with the scope record.
func (s *ResearchScope) Combinations() string {
	return strings.Join(s.CombinationList(), domain.KeywordSeparator)
}

// EnsureStorable creates the store schema if absent. It is idempotent and safe to retry.
func (s *ResearchScope) EnsureStorable(ctx context.Context) error {
	defer s.observe("ensure_storable", time.Now())
	if err := s.db.Ping(ctx); err != nil {
		return s.storageFailure("ensure_storable", "ping", err)
	}
	if err := database.EnsureSchema(s.db, s.logger); err != nil {
		s.logger.Error().Err(err).Msg("failed to create store schema")
		return err
	}
	return nil
}

// Register records the scope. An existing record is never overwritten.
func (s *ResearchScope) Register(ctx context.Context) error {
	defer s.observe("register", time.Now())
	inserted, err := s.scopes.Register(ctx, repository.ScopeRecord{
		Keywords:     s.keywords,
		Combinations: s.Combinations(),
		UpdateTime:   s.now(),
	})
	if err != nil {
		return s.storageFailure("register", "INSERT OR IGNORE INTO research_scopes", err)
	}
	if inserted {
		s.logger.Info().Int("combinations", s.NumCombinations()).Msg("research scope registered")
	}
	return nil
}

// AlreadyQueried reports whether a fetch was attempted for the combination and year,
// regardless of whether it found publications.
func (s *ResearchScope) AlreadyQueried(ctx context.Context, index, year int) (bool, error) {
	combination := s.CombinationAt(index)
	ok, err := s.tokens.Exists(ctx, combination, year)
	if err != nil {
		return false, s.storageFailure("already_queried", "SELECT FROM openalex_tokens", err)
	}
	return ok, nil
}

// QueriedCount returns how many (combination, year) pairs over [from, to] hold a token.
// It only grows, so derived outputs use it as their input revision.
func (s *ResearchScope) QueriedCount(ctx context.Context, from, to int) (int, error) {
	n, err := s.tokens.Count(ctx, s.CombinationList(), from, to)
	if err != nil {
		return 0, s.storageFailure("queried_count", "SELECT COUNT(*) FROM openalex_tokens", err)
	}
	return n, nil
}

// MarkQueried records a fetch attempt for the combination and year. It is idempotent.
func (s *ResearchScope) MarkQueried(ctx context.Context, index, year int) error {
	defer s.observe("mark_queried", time.Now())
	combination := s.CombinationAt(index)
	if err := s.tokens.Mark(ctx, combination, year, s.now()); err != nil {
		return s.storageFailure("mark_queried", "INSERT OR IGNORE INTO openalex_tokens", err)
	}
	return nil
}

// LoadCached returns the publications of the last stored fetch for the combination and year.
// Returns a *domain.QueryNotFoundError when no fetch result is stored.
func (s *ResearchScope) LoadCached(ctx context.Context, index, year int) (domain.PublicationSet, error) {
	defer s.observe("load_cached", time.Now())
	rec, err := s.queries.Get(ctx, s.CombinationAt(index), year)
	if err != nil {
		if errors.Is(err, domain.ErrQueryNotFound) {
			return nil, err
		}
		return nil, s.storageFailure("load_cached", "SELECT FROM openalex_queries", err)
	}

	pubs, err := s.publications.GetByIDs(ctx, rec.IDs)
	if err != nil {
		return nil, s.storageFailure("load_cached", "SELECT FROM publications", err)
	}
	for _, id := range rec.IDs {
		if _, ok := pubs[id]; !ok {
			return nil, domain.NewNotFoundError("publication", fmt.Sprintf("%d", id))
		}
	}
	return pubs, nil
}

// PersistFetchResult stores the publications not yet present and replaces the query record
// of the combination and year with the full id set and the union of referenced ids.
// Both writes commit together; a failed call leaves the store unchanged and may be retried.
func (s *ResearchScope) PersistFetchResult(ctx context.Context, index, year int, pubs []domain.Publication) error {
	defer s.observe("persist_fetch_result", time.Now())
	combination := s.CombinationAt(index)
	set := domain.NewPublicationSet(pubs)

	var inserted int
	statement := "INSERT OR IGNORE INTO publications"
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		n, err := repository.NewSqlitePublicationRepository(tx).InsertMissing(ctx, pubs)
		if err != nil {
			return err
		}
		inserted = n

		statement = "INSERT OR REPLACE INTO openalex_queries"
		return repository.NewSqliteQueryRepository(tx).Upsert(ctx, repository.QueryRecord{
			Combination: combination,
			Year:        year,
			UpdateTime:  s.now(),
			IDs:         set.IDs(),
			RefIDs:      set.RefIDUnion(),
		})
	})
	if err != nil {
		storageErr := domain.NewPartialWriteError("persist_fetch_result", statement, err)
		s.logger.Error().
			Err(err).
			Str("combination", combination).
			Int("year", year).
			Str("statement", statement).
			Msg("failed to persist fetch result")
		return storageErr
	}

	s.metrics.RecordPublicationsStored(inserted)
	logger := observability.WithCombinationContext(s.logger, combination, year)
	logger.Debug().
		Int("publications", len(set)).
		Int("inserted", inserted).
		Msg("fetch result persisted")
	return nil
}

// MissingReferencedIds returns, in ascending order, the ids referenced by the stored fetch
// result of the combination and year that are not yet in the store.
// Returns a *domain.QueryNotFoundError when no fetch result is stored.
func (s *ResearchScope) MissingReferencedIds(ctx context.Context, index, year int) ([]uint64, error) {
	defer s.observe("missing_referenced_ids", time.Now())
	rec, err := s.queries.Get(ctx, s.CombinationAt(index), year)
	if err != nil {
		if errors.Is(err, domain.ErrQueryNotFound) {
			return nil, err
		}
		return nil, s.storageFailure("missing_referenced_ids", "SELECT FROM openalex_queries", err)
	}
	if len(rec.RefIDs) == 0 {
		return []uint64{}, nil
	}

	existing, err := s.publications.ExistingIDs(ctx, rec.RefIDs)
	if err != nil {
		return nil, s.storageFailure("missing_referenced_ids", "SELECT id FROM publications", err)
	}

	missing := make([]uint64, 0, len(rec.RefIDs)-len(existing))
	for _, id := range rec.RefIDs {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

// StorePublications inserts publications that belong to no fetch result, such as the
// citation frontier. Existing rows are left untouched. It returns the number inserted.
func (s *ResearchScope) StorePublications(ctx context.Context, pubs []domain.Publication) (int, error) {
	defer s.observe("store_publications", time.Now())
	var inserted int
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		n, err := repository.NewSqlitePublicationRepository(tx).InsertMissing(ctx, pubs)
		inserted = n
		return err
	})
	if err != nil {
		return 0, s.storageFailure("store_publications", "INSERT OR IGNORE INTO publications", err)
	}
	s.metrics.RecordPublicationsStored(inserted)
	return inserted, nil
}

// Publications resolves ids to stored publications. Unknown ids are skipped.
func (s *ResearchScope) Publications(ctx context.Context, ids []uint64) (domain.PublicationSet, error) {
	pubs, err := s.publications.GetByIDs(ctx, ids)
	if err != nil {
		return nil, s.storageFailure("publications", "SELECT FROM publications", err)
	}
	return pubs, nil
}

// CorpusForYear returns the union of the cached publications of every combination for year.
func (s *ResearchScope) CorpusForYear(ctx context.Context, year int) (domain.PublicationSet, error) {
	defer s.observe("corpus_for_year", time.Now())
	records, err := s.queries.ListByYear(ctx, year, s.CombinationList())
	if err != nil {
		return nil, s.storageFailure("corpus_for_year", "SELECT FROM openalex_queries", err)
	}

	seen := make(map[uint64]struct{})
	var ids []uint64
	for _, rec := range records {
		for _, id := range rec.IDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return s.Publications(ctx, ids)
}

// ListScopes returns every registered scope, oldest first.
func ListScopes(ctx context.Context, db *database.DB) ([]repository.ScopeRecord, error) {
	scopes, err := repository.NewSqliteScopeRepository(db).List(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list_scopes", "SELECT FROM research_scopes", err)
	}
	if scopes == nil {
		scopes = []repository.ScopeRecord{}
	}
	return scopes, nil
}

func (s *ResearchScope) storageFailure(op, statement string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Str("statement", statement).Msg("store operation failed")
	return domain.NewStorageError(op, statement, err)
}

func (s *ResearchScope) observe(op string, start time.Time) {
	s.metrics.RecordStoreOperation(op, time.Since(start).Seconds())
}

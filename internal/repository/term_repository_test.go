package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/domain"
)

func TestSqliteTermRepository_PubTerms(t *testing.T) {
	ctx := context.Background()
	repo := NewSqliteTermRepository(setupTestDB(t))

	require.NoError(t, repo.UpsertPubTerms(ctx, 1, []string{"neural", "network"}))
	require.NoError(t, repo.UpsertPubTerms(ctx, 2, nil))

	got, err := repo.GetPubTerms(ctx, []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"neural", "network"}, got[1])
	assert.Empty(t, got[2])
	_, ok := got[3]
	assert.False(t, ok)
}

func TestSqliteTermRepository_ScopeTerms(t *testing.T) {
	ctx := context.Background()
	repo := NewSqliteTermRepository(setupTestDB(t))
	now := time.Now()

	_, err := repo.GetScopeTerms(ctx, "ai;law", 2020)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	weighted := []domain.WeightedBiterm{
		{Biterm: domain.NewBiterm("court", "model"), Weight: 3.5},
		{Biterm: domain.NewBiterm("ai", "court"), Weight: 1.25},
	}
	require.NoError(t, repo.UpsertScopeTerms(ctx, "ai;law", 2020, weighted, now))

	got, err := repo.GetScopeTerms(ctx, "ai;law", 2020)
	require.NoError(t, err)
	assert.Equal(t, weighted, got)

	t.Run("empty weighting is stored", func(t *testing.T) {
		require.NoError(t, repo.UpsertScopeTerms(ctx, "ai;law", 2019, nil, now))

		got, err := repo.GetScopeTerms(ctx, "ai;law", 2019)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSqliteTermRepository_PubScopeTerms(t *testing.T) {
	ctx := context.Background()
	repo := NewSqliteTermRepository(setupTestDB(t))
	now := time.Now()

	require.NoError(t, repo.UpsertPubScopeTerms(ctx, 1, "ai;law", 2020,
		[]domain.Biterm{domain.NewBiterm("court", "model")}, now))
	require.NoError(t, repo.UpsertPubScopeTerms(ctx, 2, "ai;law", 2020, nil, now))
	require.NoError(t, repo.UpsertPubScopeTerms(ctx, 3, "ai;law", 2021,
		[]domain.Biterm{domain.NewBiterm("ai", "court")}, now))

	got, err := repo.ListPubScopeTerms(ctx, "ai;law", 2020)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []domain.Biterm{{A: "court", B: "model"}}, got[1])
	assert.Empty(t, got[2])
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBiterm_Canonical(t *testing.T) {
	assert.Equal(t, NewBiterm("law", "ai"), NewBiterm("ai", "law"))
	assert.Equal(t, "ai law", NewBiterm("law", "ai").String())
}

func TestDecodeBiterms(t *testing.T) {
	got, err := DecodeBiterms("ai law,health model")
	require.NoError(t, err)
	assert.Equal(t, []Biterm{{A: "ai", B: "law"}, {A: "health", B: "model"}}, got)

	empty, err := DecodeBiterms("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeBiterms("lonely")
	assert.Error(t, err)
}

func TestWeightedBiterms(t *testing.T) {
	in := []WeightedBiterm{
		{Biterm: NewBiterm("network", "neural"), Weight: 2.5},
		{Biterm: NewBiterm("ai", "law"), Weight: 1},
	}
	encoded := EncodeWeightedBiterms(in)
	assert.Equal(t, "network neural:2.5,ai law:1", encoded)

	decoded, err := DecodeWeightedBiterms(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, decoded)

	_, err = DecodeWeightedBiterms("ai law")
	assert.Error(t, err)
	_, err = DecodeWeightedBiterms("ai law:heavy")
	assert.Error(t, err)
}

func TestRankPredictions(t *testing.T) {
	preds := []Prediction{
		{ID: 3, Score: 1},
		{ID: 1, Score: 2},
		{ID: 2, Score: 1},
	}
	RankPredictions(preds)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{preds[0].ID, preds[1].ID, preds[2].ID})
}

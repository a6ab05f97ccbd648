package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Biterm is an unordered pair of terms co-occurring in one publication.
// A is always lexicographically smaller than B.
type Biterm struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewBiterm orders the two terms canonically.
func NewBiterm(x, y string) Biterm {
	if y < x {
		x, y = y, x
	}
	return Biterm{A: x, B: y}
}

// String returns the "a b" form.
func (b Biterm) String() string {
	return b.A + " " + b.B
}

// ParseBiterm parses the "a b" form.
func ParseBiterm(s string) (Biterm, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || a == "" || b == "" {
		return Biterm{}, fmt.Errorf("malformed biterm %q", s)
	}
	return NewBiterm(a, b), nil
}

// WeightedBiterm is a biterm with its corpus weight.
type WeightedBiterm struct {
	Biterm
	Weight float64 `json:"weight"`
}

// EncodeBiterms joins biterms as comma-separated "a b" entries.
func EncodeBiterms(biterms []Biterm) string {
	parts := make([]string, len(biterms))
	for i, b := range biterms {
		parts[i] = b.String()
	}
	return strings.Join(parts, listSeparator)
}

// DecodeBiterms parses the output of EncodeBiterms.
func DecodeBiterms(s string) ([]Biterm, error) {
	if strings.TrimSpace(s) == "" {
		return []Biterm{}, nil
	}
	parts := strings.Split(s, listSeparator)
	out := make([]Biterm, 0, len(parts))
	for _, part := range parts {
		b, err := ParseBiterm(part)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeWeightedBiterms joins weighted biterms as comma-separated "a b:weight" entries.
func EncodeWeightedBiterms(biterms []WeightedBiterm) string {
	parts := make([]string, len(biterms))
	for i, b := range biterms {
		parts[i] = b.String() + ":" + strconv.FormatFloat(b.Weight, 'g', -1, 64)
	}
	return strings.Join(parts, listSeparator)
}

// DecodeWeightedBiterms parses the output of EncodeWeightedBiterms.
func DecodeWeightedBiterms(s string) ([]WeightedBiterm, error) {
	if strings.TrimSpace(s) == "" {
		return []WeightedBiterm{}, nil
	}
	parts := strings.Split(s, listSeparator)
	out := make([]WeightedBiterm, 0, len(parts))
	for _, part := range parts {
		pair, weight, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed weighted biterm %q", part)
		}
		b, err := ParseBiterm(pair)
		if err != nil {
			return nil, err
		}
		w, err := strconv.ParseFloat(weight, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed weight in %q: %w", part, err)
		}
		out = append(out, WeightedBiterm{Biterm: b, Weight: w})
	}
	return out, nil
}

// TimeSeries holds the feature matrices of one candidate publication.
// X has one row per year of the observation window, Y one row per forecast year.
// Both have two columns: biterm share and citation count.
type TimeSeries struct {
	ID   uint64      `json:"id"`
	Year int         `json:"year"`
	X    [][]float64 `json:"x"`
	Y    [][]float64 `json:"y"`
}

// Prediction is the model forecast for one candidate publication.
type Prediction struct {
	ID        uint64      `json:"id"`
	Year      int         `json:"year"`
	Score     float64     `json:"score"`
	Predicted [][]float64 `json:"predicted"`
}

// RankPredictions orders predictions by descending score, then ascending id.
func RankPredictions(preds []Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].ID < preds[j].ID
	})
}

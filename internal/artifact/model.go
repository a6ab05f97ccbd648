package artifact

import (
	"context"
	"encoding/json"
	"fmt"
)

// NumFeatures is the column count of time-series matrices.
const NumFeatures = 2

// Model is a per-feature linear autoregression over a window of years.
//
// For feature f the next value is Bias[f] + sum_j Weights[f][j] * x[t-Window+j][f].
// Predict rolls the recurrence forward Horizon steps.
type Model struct {
	Window  int                    `json:"window"`
	Horizon int                    `json:"horizon"`
	Weights [NumFeatures][]float64 `json:"weights"`
	Bias    [NumFeatures]float64   `json:"bias"`
}

// ParseModel decodes and validates a JSON model artifact.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModel reads and parses the artifact at uri.
func LoadModel(ctx context.Context, loader *Loader, uri string) (*Model, error) {
	data, err := loader.Read(ctx, uri)
	if err != nil {
		return nil, err
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", uri, err)
	}
	return m, nil
}

// Validate checks the model dimensions.
func (m *Model) Validate() error {
	if m.Window <= 0 {
		return fmt.Errorf("model window must be positive, got %d", m.Window)
	}
	if m.Horizon <= 0 {
		return fmt.Errorf("model horizon must be positive, got %d", m.Horizon)
	}
	for f, w := range m.Weights {
		if len(w) != m.Window {
			return fmt.Errorf("model feature %d has %d weights, want %d", f, len(w), m.Window)
		}
	}
	return nil
}

// Predict returns a Horizon×NumFeatures matrix continuing x, which must have
// Window rows of NumFeatures columns.
func (m *Model) Predict(x [][]float64) ([][]float64, error) {
	if len(x) != m.Window {
		return nil, fmt.Errorf("input has %d rows, model window is %d", len(x), m.Window)
	}

	series := make([][]float64, 0, m.Window+m.Horizon)
	for i, row := range x {
		if len(row) != NumFeatures {
			return nil, fmt.Errorf("input row %d has %d columns, want %d", i, len(row), NumFeatures)
		}
		series = append(series, row)
	}

	out := make([][]float64, m.Horizon)
	for h := 0; h < m.Horizon; h++ {
		offset := len(series) - m.Window
		next := make([]float64, NumFeatures)
		for f := 0; f < NumFeatures; f++ {
			v := m.Bias[f]
			for j, w := range m.Weights[f] {
				v += w * series[offset+j][f]
			}
			next[f] = v
		}
		series = append(series, next)
		out[h] = next
	}
	return out, nil
}

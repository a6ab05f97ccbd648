package httpserver

import (
	"strings"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/repository"
	"github.com/helixir/research-trend-service/internal/scope"
)

type scopeResponse struct {
	Keywords     string    `json:"keywords"`
	Combinations []string  `json:"combinations"`
	UpdateTime   time.Time `json:"update_time,omitzero"`
}

type listScopesResponse struct {
	Scopes     []scopeResponse `json:"scopes"`
	TotalCount int             `json:"total_count"`
}

type combinationYearResponse struct {
	Keywords     string                `json:"keywords"`
	Combination  string                `json:"combination"`
	Year         int                   `json:"year"`
	Publications []publicationResponse `json:"publications"`
	Frontier     []uint64              `json:"frontier"`
}

type publicationResponse struct {
	ID       uint64   `json:"id"`
	Year     int      `json:"year"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Source   string   `json:"source,omitempty"`
	Language string   `json:"language,omitempty"`
	Authors  []string `json:"authors"`
	RefIDs   []uint64 `json:"ref_ids"`
}

type startPipelineResponse struct {
	RunID    string `json:"run_id"`
	Keywords string `json:"keywords"`
	Message  string `json:"message"`
}

type cancelPipelineResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type predictionsResponse struct {
	Keywords    string              `json:"keywords"`
	Year        int                 `json:"year"`
	Predictions []domain.Prediction `json:"predictions"`
}

func scopeToResponse(s *scope.ResearchScope) scopeResponse {
	return scopeResponse{
		Keywords:     s.Keywords(),
		Combinations: s.CombinationList(),
	}
}

func scopeRecordToResponse(rec repository.ScopeRecord) scopeResponse {
	combinations := []string{}
	for _, c := range strings.Split(rec.Combinations, domain.KeywordSeparator) {
		if c = strings.TrimSpace(c); c != "" {
			combinations = append(combinations, c)
		}
	}
	return scopeResponse{
		Keywords:     rec.Keywords,
		Combinations: combinations,
		UpdateTime:   rec.UpdateTime,
	}
}

// publicationsToResponse returns the publications of set ordered by id.
func publicationsToResponse(set domain.PublicationSet) []publicationResponse {
	out := make([]publicationResponse, 0, len(set))
	for _, id := range set.IDs() {
		p := set[id]
		resp := publicationResponse{
			ID:       p.ID,
			Year:     p.Year,
			Title:    p.Title,
			Abstract: p.Abstract,
			Source:   p.Source,
			Language: p.Language,
			Authors:  p.Authors,
			RefIDs:   p.RefIDs,
		}
		if resp.Authors == nil {
			resp.Authors = []string{}
		}
		if resp.RefIDs == nil {
			resp.RefIDs = []uint64{}
		}
		out = append(out, resp)
	}
	return out
}

// Package papersources provides clients for bibliographic sources.
//
// A PublicationSource returns domain.Publication values with numeric ids and the ids
// of the publications they cite, which is what the acquisition pipeline and the citation
// frontier need. Transport concerns (rate limiting, retries, request metrics) live in
// HTTPClient and are shared by every source.
//
// Example usage:
//
//	source := openalex.New(cfg, logger, metrics)
//	pubs, err := papersources.SearchAll(ctx, source, papersources.SearchParams{
//		Query:      `"ai" "health"`,
//		Year:       2020,
//		MaxResults: 1000,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/research-trend-service/internal/domain"
)

// SearchParams defines a search for publications.
type SearchParams struct {
	// Query is the full-text search string (required).
	Query string

	// Year restricts results to one publication year. Zero applies no year filter.
	Year int

	// MaxResults caps the total number of publications SearchAll collects.
	// Zero uses the source default.
	MaxResults int

	// PerPage is the page size of a single request. Zero uses the source default.
	PerPage int

	// Cursor continues a paged search. Empty starts a new one.
	Cursor string
}

// SearchResult is one page of search results.
type SearchResult struct {
	// Publications contains the publications of this page.
	Publications []domain.Publication

	// TotalResults is the number of matches reported by the source.
	TotalResults int

	// NextCursor continues the search. Empty when there are no more pages.
	NextCursor string

	// Source names the source that produced the page.
	Source string

	// SearchDuration is the time taken by the request, including retries.
	SearchDuration time.Duration
}

// HasMore reports whether another page is available.
func (r *SearchResult) HasMore() bool {
	return r.NextCursor != ""
}

// PublicationSource is implemented by every bibliographic source client.
type PublicationSource interface {
	// Search returns one page of publications matching params.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// GetByIDs resolves publication ids. Ids unknown to the source are skipped.
	GetByIDs(ctx context.Context, ids []uint64) ([]domain.Publication, error)

	// Name returns a human-readable name used in logs and metrics.
	Name() string

	// IsEnabled reports whether the source may be queried.
	IsEnabled() bool
}

// SearchAll follows the cursor of a search until it is exhausted or MaxResults
// publications were collected.
func SearchAll(ctx context.Context, source PublicationSource, params SearchParams) ([]domain.Publication, error) {
	var pubs []domain.Publication
	params.Cursor = ""
	for {
		page, err := source.Search(ctx, params)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, page.Publications...)

		if params.MaxResults > 0 && len(pubs) >= params.MaxResults {
			return pubs[:params.MaxResults], nil
		}
		if !page.HasMore() || len(page.Publications) == 0 {
			return pubs, nil
		}
		params.Cursor = page.NextCursor
	}
}

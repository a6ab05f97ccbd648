package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/papersources"
)

// newTestClient creates a client configured for testing with the given server URL.
func newTestClient(serverURL string) *Client {
	cfg := Config{
		BaseURL:   serverURL,
		Email:     "test@example.com",
		Timeout:   5 * time.Second,
		RateLimit: 100,
		BurstSize: 100,
		PerPage:   2,
		Enabled:   true,
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:     SourceName,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
		UserAgent:  "TestClient/1.0",
		Logger:     zerolog.Nop(),
	})

	return NewWithHTTPClient(cfg, httpClient, zerolog.Nop())
}

func strPtr(s string) *string { return &s }

func sampleWork(id uint64, refs ...uint64) Work {
	refWorks := make([]string, len(refs))
	for i, r := range refs {
		refWorks[i] = openAlexIDPrefix + FormatWorkID(r)
	}
	return Work{
		ID:              openAlexIDPrefix + FormatWorkID(id),
		DisplayName:     "Work " + strconv.FormatUint(id, 10),
		PublicationYear: 2020,
		Language:        "en",
		Authorships: []Authorship{
			{AuthorPosition: "first", Author: AuthorInfo{DisplayName: "Ada Lovelace"}},
			{AuthorPosition: "last", Author: AuthorInfo{DisplayName: "Alan Turing"}},
		},
		PrimaryLocation: &Location{Source: &Source{DisplayName: "Nature"}},
		ReferencedWorks: refWorks,
		AbstractInvertedIndex: map[string][]int{
			"machine":  {0},
			"learning": {1},
			"in":       {2},
			"health":   {3},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNew(t *testing.T) {
	client := New(Config{Enabled: true}, zerolog.Nop(), nil)

	require.NotNil(t, client)
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)
	assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
	assert.Equal(t, DefaultBurstSize, client.config.BurstSize)
	assert.Equal(t, DefaultPerPage, client.PerPage())
	assert.Equal(t, "OpenAlex", client.Name())
	assert.True(t, client.IsEnabled())
}

func TestConfig_applyDefaults(t *testing.T) {
	cfg := Config{PerPage: 500}
	cfg.applyDefaults()
	assert.Equal(t, DefaultPerPage, cfg.PerPage, "oversized pages fall back to the default")

	cfg = Config{PerPage: 25, BaseURL: "http://localhost"}
	cfg.applyDefaults()
	assert.Equal(t, 25, cfg.PerPage)
	assert.Equal(t, "http://localhost", cfg.BaseURL)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.OpenAlexConfig{
		Enabled:    true,
		APIKey:     "key",
		BaseURL:    "http://localhost",
		Email:      "ops@example.org",
		Timeout:    5 * time.Second,
		RateLimit:  2,
		Burst:      3,
		MaxRetries: 1,
		PerPage:    50,
	})

	assert.Equal(t, Config{
		BaseURL:    "http://localhost",
		Email:      "ops@example.org",
		APIKey:     "key",
		Timeout:    5 * time.Second,
		RateLimit:  2,
		BurstSize:  3,
		MaxRetries: 1,
		PerPage:    50,
		Enabled:    true,
	}, cfg)
}

func TestClient_Search(t *testing.T) {
	t.Run("sends query, year filter and cursor", func(t *testing.T) {
		var got url.Values
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/works", r.URL.Path)
			got = r.URL.Query()
			writeJSON(t, w, SearchResponse{
				Meta:    Meta{Count: 3, NextCursor: strPtr("next-page")},
				Results: []Work{sampleWork(1, 5), sampleWork(2)},
			})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{
			Query: `"ai" "health"`,
			Year:  2020,
		})
		require.NoError(t, err)

		assert.Equal(t, `"ai" "health"`, got.Get("search"))
		assert.Equal(t, "publication_year:2020", got.Get("filter"))
		assert.Equal(t, "*", got.Get("cursor"))
		assert.Equal(t, "2", got.Get("per_page"))
		assert.Equal(t, "test@example.com", got.Get("mailto"))
		assert.Equal(t, selectFields, got.Get("select"))
		assert.Empty(t, got.Get("api_key"))

		assert.Equal(t, 3, result.TotalResults)
		assert.Equal(t, "next-page", result.NextCursor)
		assert.True(t, result.HasMore())
		assert.Equal(t, SourceName, result.Source)
		require.Len(t, result.Publications, 2)
		assert.Equal(t, uint64(1), result.Publications[0].ID)
		assert.Equal(t, []uint64{5}, result.Publications[0].RefIDs)
	})

	t.Run("rejects an empty query", func(t *testing.T) {
		_, err := newTestClient("http://127.0.0.1:0").Search(context.Background(), papersources.SearchParams{Query: "  "})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("null cursor ends paging", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, SearchResponse{Meta: Meta{Count: 1}, Results: []Work{sampleWork(7)}})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.NoError(t, err)
		assert.False(t, result.HasMore())
	})

	t.Run("non-200 is an external API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("invalid api key"))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "invalid api key")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"meta":`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
	})
}

func TestSearchAll_FollowsCursor(t *testing.T) {
	var mu sync.Mutex
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		mu.Lock()
		cursors = append(cursors, cursor)
		mu.Unlock()

		switch cursor {
		case "*":
			writeJSON(t, w, SearchResponse{Meta: Meta{Count: 3, NextCursor: strPtr("c2")}, Results: []Work{sampleWork(1), sampleWork(2)}})
		case "c2":
			writeJSON(t, w, SearchResponse{Meta: Meta{Count: 3, NextCursor: strPtr("c3")}, Results: []Work{sampleWork(3)}})
		default:
			writeJSON(t, w, SearchResponse{Meta: Meta{Count: 3, NextCursor: strPtr("c4")}})
		}
	}))
	defer server.Close()

	pubs, err := papersources.SearchAll(context.Background(), newTestClient(server.URL), papersources.SearchParams{Query: "x", Year: 2020})
	require.NoError(t, err)

	ids := make([]uint64, len(pubs))
	for i, p := range pubs {
		ids[i] = p.ID
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.Equal(t, []string{"*", "c2", "c3"}, cursors, "an empty page stops paging")
}

func TestSearchAll_MaxResults(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, SearchResponse{Meta: Meta{Count: 100, NextCursor: strPtr("more")}, Results: []Work{sampleWork(uint64(2*calls - 1)), sampleWork(uint64(2 * calls))}})
	}))
	defer server.Close()

	pubs, err := papersources.SearchAll(context.Background(), newTestClient(server.URL), papersources.SearchParams{Query: "x", MaxResults: 3})
	require.NoError(t, err)
	assert.Len(t, pubs, 3)
	assert.Equal(t, 2, calls)
}

func TestClient_GetByIDs(t *testing.T) {
	t.Run("batches the openalex filter", func(t *testing.T) {
		var filters []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			filter := r.URL.Query().Get("filter")
			filters = append(filters, filter)

			var works []Work
			for _, wid := range strings.Split(strings.TrimPrefix(filter, "openalex:"), "|") {
				id, ok := ParseWorkID(wid)
				assert.True(t, ok)
				if id%2 == 0 {
					works = append(works, sampleWork(id))
				}
			}
			writeJSON(t, w, SearchResponse{Results: works})
		}))
		defer server.Close()

		ids := make([]uint64, MaxIDsPerRequest+3)
		for i := range ids {
			ids[i] = uint64(i + 1)
		}

		pubs, err := newTestClient(server.URL).GetByIDs(context.Background(), ids)
		require.NoError(t, err)

		require.Len(t, filters, 2)
		assert.True(t, strings.HasPrefix(filters[0], "openalex:W1|W2|"))
		assert.Equal(t, "openalex:W51|W52|W53", filters[1])
		assert.Len(t, pubs, (MaxIDsPerRequest+3)/2, "unknown ids are skipped")
	})

	t.Run("no ids, no requests", func(t *testing.T) {
		pubs, err := newTestClient("http://127.0.0.1:0").GetByIDs(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, pubs)
	})
}

func TestWorkToPublication(t *testing.T) {
	work := sampleWork(2741809807, 1, 2)
	work.ReferencedWorks = append(work.ReferencedWorks, "https://openalex.org/A999")

	pub, ok := workToPublication(&work)
	require.True(t, ok)

	assert.Equal(t, domain.Publication{
		ID:       2741809807,
		Year:     2020,
		Title:    "Work 2741809807",
		Abstract: "machine learning in health",
		Source:   "Nature",
		Language: "en",
		Authors:  []string{"Ada Lovelace", "Alan Turing"},
		RefIDs:   []uint64{1, 2},
	}, pub)

	t.Run("falls back to title", func(t *testing.T) {
		w := sampleWork(3)
		w.DisplayName = ""
		w.Title = "Raw title"
		w.PrimaryLocation = nil
		pub, ok := workToPublication(&w)
		require.True(t, ok)
		assert.Equal(t, "Raw title", pub.Title)
		assert.Empty(t, pub.Source)
	})

	t.Run("rejects non-numeric ids", func(t *testing.T) {
		_, ok := workToPublication(&Work{ID: "https://openalex.org/Wabc"})
		assert.False(t, ok)
	})
}

func TestParseWorkID(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"https://openalex.org/W2741809807", 2741809807, true},
		{"W42", 42, true},
		{" w7 ", 7, true},
		{"A42", 0, false},
		{"W", 0, false},
		{"", 0, false},
		{"W-1", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseWorkID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "W42", FormatWorkID(42))
}

func TestReconstructAbstract(t *testing.T) {
	assert.Empty(t, reconstructAbstract(nil))
	assert.Equal(t, "a rose is a rose", reconstructAbstract(map[string][]int{
		"a":    {0, 3},
		"rose": {1, 4},
		"is":   {2},
	}))
}

func TestClient_APIKey(t *testing.T) {
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.URL.Query().Get("api_key")
		writeJSON(t, w, SearchResponse{})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.config.APIKey = "premium"

	_, err := client.Search(context.Background(), papersources.SearchParams{Query: "x"})
	require.NoError(t, err)
	assert.Equal(t, "premium", key)
}

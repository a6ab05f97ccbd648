package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/config"
	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
	"github.com/helixir/research-trend-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPerPage is the default page size.
	DefaultPerPage = 200

	// MaxPerPage is the largest page the API serves.
	MaxPerPage = 200

	// MaxIDsPerRequest bounds the ids of a single openalex: filter.
	MaxIDsPerRequest = 50

	// SourceName identifies the source in logs, metrics and errors.
	SourceName = "openalex"

	// openAlexIDPrefix is the URL prefix of work ids.
	openAlexIDPrefix = "https://openalex.org/"

	// maxBodyBytes caps decoded response bodies.
	maxBodyBytes = 10 << 20
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	BaseURL string

	// Email is the contact address for the polite pool (mailto parameter).
	// See: https://docs.openalex.org/how-to-use-the-api/rate-limits-and-authentication
	Email string

	// APIKey is the optional premium key.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the retry count for 429, 5xx and network failures.
	MaxRetries int

	// PerPage is the default page size, at most 200.
	PerPage int

	// Enabled indicates whether this source may be queried.
	Enabled bool
}

// ConfigFrom maps the service configuration onto a client Config.
func ConfigFrom(c config.OpenAlexConfig) Config {
	return Config{
		BaseURL:    c.BaseURL,
		Email:      c.Email,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		BurstSize:  c.Burst,
		MaxRetries: c.MaxRetries,
		PerPage:    c.PerPage,
		Enabled:    c.Enabled,
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.PerPage <= 0 || c.PerPage > MaxPerPage {
		c.PerPage = DefaultPerPage
	}
}

// Client implements papersources.PublicationSource for OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	logger     zerolog.Logger
}

// Ensure Client implements PublicationSource.
var _ papersources.PublicationSource = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "openalex").Logger()

	userAgent := "Helixir-TrendSeer/1.0"
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:     SourceName,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: cfg.MaxRetries,
		UserAgent:  userAgent,
		Logger:     logger,
		Metrics:    metrics,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Search returns one page of works matching params.Query, optionally restricted to
// params.Year. An empty params.Cursor starts a new cursor-paged search.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	startTime := time.Now()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	searchResp, err := c.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	pubs := c.worksToPublications(searchResp.Results)

	var nextCursor string
	if searchResp.Meta.NextCursor != nil && len(searchResp.Results) > 0 {
		nextCursor = *searchResp.Meta.NextCursor
	}

	c.logger.Debug().
		Str("query", params.Query).
		Int("year", params.Year).
		Int("results", len(pubs)).
		Int("total", searchResp.Meta.Count).
		Msg("openalex search page")

	return &papersources.SearchResult{
		Publications:   pubs,
		TotalResults:   searchResp.Meta.Count,
		NextCursor:     nextCursor,
		Source:         SourceName,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByIDs resolves works by numeric id in batches of MaxIDsPerRequest.
// Ids unknown to OpenAlex are absent from the result.
func (c *Client) GetByIDs(ctx context.Context, ids []uint64) ([]domain.Publication, error) {
	pubs := make([]domain.Publication, 0, len(ids))
	for start := 0; start < len(ids); start += MaxIDsPerRequest {
		end := start + MaxIDsPerRequest
		if end > len(ids) {
			end = len(ids)
		}

		fetchURL, err := c.buildGetByIDsURL(ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("building fetch URL: %w", err)
		}

		resp, err := c.fetch(ctx, fetchURL)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, c.worksToPublications(resp.Results)...)
	}
	return pubs, nil
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return "OpenAlex"
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// PerPage returns the configured page size.
func (c *Client) PerPage() int {
	return c.config.PerPage
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(SourceName, resp.StatusCode, string(body), nil)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &searchResp, nil
}

// buildSearchURL constructs the /works search URL.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := c.baseQuery()
	query.Set("search", params.Query)
	if params.Year > 0 {
		query.Set("filter", "publication_year:"+strconv.Itoa(params.Year))
	}

	perPage := params.PerPage
	if perPage <= 0 {
		perPage = c.config.PerPage
	}
	if params.MaxResults > 0 && params.MaxResults < perPage {
		perPage = params.MaxResults
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	query.Set("per_page", strconv.Itoa(perPage))

	cursor := params.Cursor
	if cursor == "" {
		cursor = "*"
	}
	query.Set("cursor", cursor)

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// buildGetByIDsURL constructs a /works URL filtering on a batch of work ids.
func (c *Client) buildGetByIDsURL(ids []uint64) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	workIDs := make([]string, len(ids))
	for i, id := range ids {
		workIDs[i] = FormatWorkID(id)
	}

	query := c.baseQuery()
	query.Set("filter", "openalex:"+strings.Join(workIDs, "|"))
	query.Set("per_page", strconv.Itoa(len(ids)))

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

func (c *Client) baseQuery() url.Values {
	query := url.Values{}
	query.Set("select", selectFields)
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}
	if c.config.APIKey != "" {
		query.Set("api_key", c.config.APIKey)
	}
	return query
}

func (c *Client) worksToPublications(works []Work) []domain.Publication {
	pubs := make([]domain.Publication, 0, len(works))
	for i := range works {
		pub, ok := workToPublication(&works[i])
		if !ok {
			c.logger.Debug().Str("work_id", works[i].ID).Msg("skipping work without a numeric id")
			continue
		}
		pubs = append(pubs, pub)
	}
	return pubs
}

// workToPublication converts a Work. It reports false when the work id is not numeric.
func workToPublication(work *Work) (domain.Publication, bool) {
	id, ok := ParseWorkID(work.ID)
	if !ok {
		return domain.Publication{}, false
	}

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	authors := make([]string, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		if name := strings.TrimSpace(authorship.Author.DisplayName); name != "" {
			authors = append(authors, name)
		}
	}

	var source string
	if work.PrimaryLocation != nil && work.PrimaryLocation.Source != nil {
		source = work.PrimaryLocation.Source.DisplayName
	}

	refIDs := make([]uint64, 0, len(work.ReferencedWorks))
	for _, ref := range work.ReferencedWorks {
		if refID, ok := ParseWorkID(ref); ok {
			refIDs = append(refIDs, refID)
		}
	}

	return domain.Publication{
		ID:       id,
		Year:     work.PublicationYear,
		Title:    title,
		Abstract: reconstructAbstract(work.AbstractInvertedIndex),
		Source:   source,
		Language: work.Language,
		Authors:  authors,
		RefIDs:   refIDs,
	}, true
}

// ParseWorkID extracts the numeric part of a work id such as
// "https://openalex.org/W2741809807" or "W2741809807".
func ParseWorkID(id string) (uint64, bool) {
	id = strings.TrimPrefix(strings.TrimSpace(id), openAlexIDPrefix)
	if len(id) < 2 || (id[0] != 'W' && id[0] != 'w') {
		return 0, false
	}
	n, err := strconv.ParseUint(id[1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatWorkID renders a numeric id as a short work id.
func FormatWorkID(id uint64) string {
	return "W" + strconv.FormatUint(id, 10)
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index format.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	if totalPairs > maxAbstractWords {
		return ""
	}
	pairs := make([]posWord, 0, totalPairs)

	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	var builder strings.Builder
	builder.Grow(totalPairs * 7)
	for i, pair := range pairs {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(pair.word)
	}

	return builder.String()
}

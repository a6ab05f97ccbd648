package papersources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
)

func testClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Millisecond
	}
	cfg.Logger = zerolog.Nop()
	return NewHTTPClient(cfg)
}

func get(t *testing.T, c *HTTPClient, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "Helixir-TrendSeer/1.0", client.config.UserAgent)
		assert.Equal(t, "unknown", client.config.Source)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, time.Second, client.config.RetryDelay)
		assert.Equal(t, 10.0, client.RateLimiter().Rate())
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{
			Source:     "openalex",
			Timeout:    15 * time.Second,
			RateLimit:  5,
			BurstSize:  3,
			MaxRetries: 2,
			UserAgent:  "TestAgent/1.0",
		})

		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, "openalex", client.config.Source)
		assert.Equal(t, 2, client.config.MaxRetries)
		assert.Equal(t, 5.0, client.RateLimiter().Rate())
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets User-Agent", func(t *testing.T) {
		var agent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent = r.Header.Get("User-Agent")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		resp, err := get(t, testClient(HTTPClientConfig{UserAgent: "TestAgent/2.0"}), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"status":"ok"}`, string(body))
		assert.Equal(t, "TestAgent/2.0", agent)
	})

	t.Run("preserves an explicit User-Agent", func(t *testing.T) {
		var agent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent = r.Header.Get("User-Agent")
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "CustomAgent/3.0")

		resp, err := testClient(HTTPClientConfig{}).Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "CustomAgent/3.0", agent)
	})

	t.Run("returns client errors without retrying", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		resp, err := get(t, testClient(HTTPClientConfig{}), server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestHTTPClient_RetryOn429(t *testing.T) {
	t.Run("retries, throttles and restores", func(t *testing.T) {
		var calls atomic.Int32
		var rateDuringRetry float64
		var client *HTTPClient
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			rateDuringRetry = client.RateLimiter().Rate()
			_, _ = w.Write([]byte("success"))
		}))
		defer server.Close()

		client = testClient(HTTPClientConfig{RateLimit: 80, MaxRetries: 3})
		resp, err := get(t, client, server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 20.0, rateDuringRetry, "rate halved on each 429")
		assert.Equal(t, 80.0, client.RateLimiter().Rate(), "rate restored after success")
	})

	t.Run("returns a rate limit error when retries are exhausted", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		metrics := observability.NewMetrics("httpclient_ratelimit_test")
		client := testClient(HTTPClientConfig{Source: "openalex", MaxRetries: 2, Metrics: metrics})

		resp, err := get(t, client, server.URL+"/works")
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Equal(t, int32(3), calls.Load())

		var rlErr *domain.RateLimitError
		require.True(t, errors.As(err, &rlErr))
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, 1.0, testutil.ToFloat64(
			metrics.SourceRequestsFailed.WithLabelValues("openalex", "/works", "rate_limited")))
	})
}

func TestHTTPClient_RetryOn5xx(t *testing.T) {
	t.Run("recovers after a transient failure", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		resp, err := get(t, testClient(HTTPClientConfig{}), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("reports service unavailable when retries are exhausted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := get(t, testClient(HTTPClientConfig{MaxRetries: 1}), server.URL)
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(HTTPClientConfig{MaxRetries: 5, RetryDelay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPClient_RetryResendsBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("payload"))
	require.NoError(t, err)

	resp, err := testClient(HTTPClientConfig{}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestHTTPClient_getRetryDelay(t *testing.T) {
	client := testClient(HTTPClientConfig{RetryDelay: 2 * time.Second})

	tests := []struct {
		name       string
		retryAfter string
		want       time.Duration
	}{
		{"no header", "", 2 * time.Second},
		{"seconds", "5", 5 * time.Second},
		{"zero seconds", "0", 2 * time.Second},
		{"garbage", "soon", 2 * time.Second},
		{"past date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			assert.Equal(t, tt.want, client.getRetryDelay(resp))
		})
	}

	t.Run("future date", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
		delay := client.getRetryDelay(resp)
		assert.Greater(t, delay, 20*time.Second)
		assert.LessOrEqual(t, delay, 30*time.Second)
	})
}

func TestHTTPClient_shouldRetry(t *testing.T) {
	client := testClient(HTTPClientConfig{})

	assert.True(t, client.shouldRetry(http.StatusTooManyRequests))
	assert.True(t, client.shouldRetry(http.StatusInternalServerError))
	assert.True(t, client.shouldRetry(http.StatusGatewayTimeout))
	assert.False(t, client.shouldRetry(http.StatusOK))
	assert.False(t, client.shouldRetry(http.StatusNotFound))
}

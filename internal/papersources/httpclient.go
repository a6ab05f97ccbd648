package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/domain"
	"github.com/helixir/research-trend-service/internal/observability"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the source in logs, metrics and errors.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Logger receives retry and throttling diagnostics.
	Logger zerolog.Logger

	// Metrics records request counts and durations. May be nil.
	Metrics *observability.Metrics
}

// HTTPClient wraps http.Client with rate limiting, retries and request metrics.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client waits on the limiter before each attempt and retries 429 and 5xx
// responses as well as network errors.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Source == "" {
		cfg.Source = "unknown"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-TrendSeer/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// RateLimiter returns the client's limiter.
func (c *HTTPClient) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// Do executes an HTTP request with rate limiting and retries.
//
// Exhausted retries on 429 return a *domain.RateLimitError. Exhausted retries on 5xx
// return a *domain.ExternalAPIError wrapping domain.ErrServiceUnavailable. Any other
// status is returned to the caller with its body open.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	endpoint := req.URL.Path
	start := time.Now()
	defer func() {
		c.config.Metrics.RecordSourceRequest(c.config.Source, endpoint, time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "cancelled")
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "cancelled")
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			c.config.Logger.Warn().Err(err).Int("attempt", attempt+1).Str("endpoint", endpoint).Msg("source request failed")
			if attempt < c.config.MaxRetries {
				if err := c.waitForRetry(req.Context(), c.config.RetryDelay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "network")
			return nil, lastErr
		}

		if !c.shouldRetry(resp.StatusCode) {
			if resp.StatusCode < 300 {
				c.rateLimiter.Restore()
			} else {
				c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "status_"+strconv.Itoa(resp.StatusCode))
			}
			return resp, nil
		}

		retryDelay := c.getRetryDelay(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimiter.Throttle()
			c.config.Logger.Warn().
				Float64("rate", c.rateLimiter.Rate()).
				Dur("retry_after", retryDelay).
				Msg("source rate limited, throttling")
		}

		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt < c.config.MaxRetries {
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			if err := c.waitForRetry(req.Context(), retryDelay); err != nil {
				return nil, err
			}
			if err := c.resetRequestBody(req); err != nil {
				return nil, fmt.Errorf("cannot retry request: %w", err)
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "rate_limited")
			return nil, domain.NewRateLimitError(c.config.Source, retryDelay)
		}
		c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "server_error")
		return nil, domain.NewExternalAPIError(c.config.Source, resp.StatusCode,
			fmt.Sprintf("max retries exhausted after %d attempts", c.config.MaxRetries+1),
			domain.ErrServiceUnavailable)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// shouldRetry returns true for 429 and 5xx.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// getRetryDelay honours Retry-After (seconds or HTTP date), falling back to RetryDelay.
func (c *HTTPClient) getRetryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
}

// waitForRetry waits for delay unless ctx is done first.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody rewinds the request body for a retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

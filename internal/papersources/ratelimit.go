package papersources

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// minThrottledRate is the floor a throttled limiter never drops below.
const minThrottledRate = 0.1

// RateLimiter wraps a token bucket limiter for requests to one source. When the source
// answers with 429 the rate is halved until Restore is called after a success.
// It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	base      float64
	throttled bool
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests with the given burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		base:    ratePerSecond,
	}
}

// Wait blocks until a request is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Throttle halves the current rate, down to minThrottledRate.
func (r *RateLimiter) Throttle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := float64(r.limiter.Limit()) / 2
	if next < minThrottledRate {
		next = minThrottledRate
	}
	r.limiter.SetLimit(rate.Limit(next))
	r.throttled = true
}

// Restore returns a throttled limiter to its configured rate.
func (r *RateLimiter) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.throttled {
		return
	}
	r.limiter.SetLimit(rate.Limit(r.base))
	r.throttled = false
}

// Rate returns the current requests per second.
func (r *RateLimiter) Rate() float64 {
	return float64(r.limiter.Limit())
}

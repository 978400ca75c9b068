package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// RequestLimiter caps the request rate against the provider with a token bucket
type RequestLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewRequestLimiter creates a limiter allowing rps requests per second with
// the given burst. A non-positive rps disables limiting.
func NewRequestLimiter(rps float64, burst int) *RequestLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RequestLimiter{
		limiter: rate.NewLimiter(limit, burst),
		limit:   limit,
		burst:   burst,
	}
}

// Allow reports whether a request may proceed now, consuming a token if so
func (rl *RequestLimiter) Allow() bool {
	rl.mu.Lock()
	l := rl.limiter
	rl.mu.Unlock()
	return l.Allow()
}

// Wait blocks until a token is available
func (rl *RequestLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	l := rl.limiter
	rl.mu.Unlock()
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Reset refills the bucket
func (rl *RequestLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter = rate.NewLimiter(rl.limit, rl.burst)
}

// BurstPacer pauses the crawl loop after every run of consecutive
// successful requests. The pause interval only ever grows.
type BurstPacer struct {
	burst    int
	interval time.Duration
	count    int
}

// NewBurstPacer creates a pacer that asks for a pause of interval after
// burst counted requests
func NewBurstPacer(burst int, interval time.Duration) *BurstPacer {
	if burst <= 0 {
		burst = 1
	}
	return &BurstPacer{burst: burst, interval: interval}
}

// Due reports whether the next request must be preceded by a pause
func (p *BurstPacer) Due() bool {
	return p.count >= p.burst
}

// Reset zeroes the consecutive request count after a pause
func (p *BurstPacer) Reset() {
	p.count = 0
}

// Record counts one successful request
func (p *BurstPacer) Record() {
	p.count++
}

// Force makes the next request wait regardless of the count
func (p *BurstPacer) Force() {
	p.count = p.burst
}

// Grow permanently lengthens the pause interval
func (p *BurstPacer) Grow(d time.Duration) {
	if d > 0 {
		p.interval += d
	}
}

// Interval returns the current pause length
func (p *BurstPacer) Interval() time.Duration {
	return p.interval
}

// Count returns the consecutive request count
func (p *BurstPacer) Count() int {
	return p.count
}

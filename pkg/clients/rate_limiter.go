// Package clients holds shared pieces of the remote archive clients.
package clients

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces outgoing requests.
type RateLimiter interface {
	// Allow reports whether a request may start now and consumes a token
	// if so.
	Allow() bool

	// Wait blocks until a request may start or ctx is done.
	Wait(ctx context.Context) error

	// Stats returns counters for logging.
	Stats() RateLimiterStats
}

// RateLimiterStats describes the limiter state.
type RateLimiterStats struct {
	Rate     float64
	Burst    int
	Allowed  int64
	Canceled int64
	Waited   time.Duration
}

// NewRateLimiter returns a token bucket limiter allowing rate requests per
// second with bursts of up to burst requests. A non-positive rate disables
// limiting.
func NewRateLimiter(rate float64, burst int) RateLimiter {
	if rate <= 0 {
		return unlimited{}
	}
	if burst < 1 {
		burst = 1
	}
	return NewTokenBucket(rate, burst)
}

// TokenBucket implements the token bucket algorithm. Tokens are added at a
// constant rate and consumed by requests.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time
	now      func() time.Time

	allowed  int64
	canceled int64
	waited   time.Duration
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow implements RateLimiter.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		tb.allowed++
		return true
	}
	return false
}

// Wait implements RateLimiter.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	start := tb.now()
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.allowed++
			tb.waited += tb.now().Sub(start)
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		delay := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			tb.mu.Lock()
			tb.canceled++
			tb.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Stats implements RateLimiter.
func (tb *TokenBucket) Stats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return RateLimiterStats{
		Rate:     tb.rate,
		Burst:    tb.burst,
		Allowed:  tb.allowed,
		Canceled: tb.canceled,
		Waited:   tb.waited,
	}
}

// refill adds tokens for the time elapsed since the last call. Callers hold
// mu.
func (tb *TokenBucket) refill() {
	now := tb.now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastTime = now
}

type unlimited struct{}

func (unlimited) Allow() bool                { return true }
func (unlimited) Wait(context.Context) error { return nil }
func (unlimited) Stats() RateLimiterStats    { return RateLimiterStats{} }

package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBucket(rate float64, burst int) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(rate, burst)
	tb.now = clock.now
	tb.lastTime = clock.t
	return tb, clock
}

func TestTokenBucketBurstThenRefill(t *testing.T) {
	tb, clock := newTestBucket(2, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d", i)
	}
	assert.False(t, tb.Allow())

	clock.t = clock.t.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	// refill is capped at the burst size
	clock.t = clock.t.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow())
	}
	assert.False(t, tb.Allow())

	stats := tb.Stats()
	assert.EqualValues(t, 7, stats.Allowed)
	assert.Equal(t, 3, stats.Burst)
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, tb.Stats().Canceled)
}

func TestTokenBucketWaitPaces(t *testing.T) {
	tb := NewTokenBucket(100, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, tb.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestNewRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

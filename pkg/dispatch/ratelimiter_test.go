package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(5, 1000)
	limiter.now = clock.Now

	for i := range 5 {
		require.NoError(t, limiter.Allow("trigger-1"), "call %d", i+1)
		clock.Advance(time.Second)
	}

	err := limiter.Allow("trigger-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))

	var limitErr *RateLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 60, limitErr.RetryAfterSeconds)
	assert.Equal(t, "minute", limitErr.Window)

	assert.NoError(t, limiter.Allow("trigger-2"), "keys are independent")

	clock.Advance(time.Minute)
	assert.NoError(t, limiter.Allow("trigger-1"), "window slides")
}

func TestRateLimiter_HourWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(100, 3)
	limiter.now = clock.Now

	for range 3 {
		require.NoError(t, limiter.Allow("trigger-1"))
		clock.Advance(2 * time.Minute)
	}

	var limitErr *RateLimitError
	require.True(t, errors.As(limiter.Allow("trigger-1"), &limitErr))
	assert.Equal(t, 3600, limitErr.RetryAfterSeconds)

	clock.Advance(time.Hour)
	assert.NoError(t, limiter.Allow("trigger-1"))
	assert.Len(t, limiter.events["trigger-1"], 1, "entries older than an hour are pruned")
}

func TestRateLimiter_RejectionRecordsNothing(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(1, 1000)
	limiter.now = clock.Now

	require.NoError(t, limiter.Allow("k"))
	require.Error(t, limiter.Allow("k"))
	require.Error(t, limiter.Allow("k"))
	assert.Len(t, limiter.events["k"], 1)

	limiter.Reset("k")
	assert.NoError(t, limiter.Allow("k"))
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, -1)
	assert.Equal(t, DefaultPerMinute, limiter.perMinute)
	assert.Equal(t, DefaultPerHour, limiter.perHour)
}

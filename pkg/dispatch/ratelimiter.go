package dispatch

import (
	"sync"
	"time"
)

// Default sliding window thresholds.
const (
	DefaultPerMinute = 100
	DefaultPerHour   = 1000
)

// RateLimiter counts dispatches per key over sliding minute and hour windows.
// State is process local.
type RateLimiter struct {
	perMinute int
	perHour   int
	now       func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewRateLimiter creates a limiter. Non-positive thresholds use the defaults.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}

	if perHour <= 0 {
		perHour = DefaultPerHour
	}

	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
		events:    make(map[string][]time.Time),
	}
}

// Allow records a dispatch for key unless a window is full. A rejection
// returns a *RateLimitError and records nothing.
func (l *RateLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.events[key], now.Add(-time.Hour))

	lastMinute := 0
	minuteAgo := now.Add(-time.Minute)

	for _, at := range kept {
		if at.After(minuteAgo) {
			lastMinute++
		}
	}

	switch {
	case lastMinute >= l.perMinute:
		l.events[key] = kept

		return &RateLimitError{Key: key, Window: "minute", RetryAfterSeconds: 60}
	case len(kept) >= l.perHour:
		l.events[key] = kept

		return &RateLimitError{Key: key, Window: "hour", RetryAfterSeconds: 3600}
	}

	l.events[key] = append(kept, now)

	return nil
}

// Reset forgets every recorded dispatch for key.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.events, key)
}

// prune drops timestamps at or before cutoff. Timestamps are appended in order.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}

	return events[i:]
}

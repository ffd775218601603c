package authapi

import (
	"strconv"
	"sync"
	"time"
)

// loginLimiter throttles login attempts per key (client IP or normalized
// identifier) over a sliding window. State is in-process; a horizontally
// scaled deployment throttles per instance.
type loginLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &loginLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records an attempt for key and reports whether it is permitted.
func (l *loginLimiter) Allow(key string, now time.Time) bool {
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

func retryAfterHeader(window time.Duration) string {
	return strconv.FormatInt(int64(window.Seconds()), 10)
}

package route

import (
	"sync"
	"time"
)

// DefaultMinIntervals is the per-platform minimum inter-request interval.
// Platforms not listed are unlimited.
var DefaultMinIntervals = map[string]time.Duration{
	"notion": 330 * time.Millisecond,
	"trello": 100 * time.Millisecond,
	"chat":   time.Second,
	"drive":  100 * time.Millisecond,
	"sheets": 100 * time.Millisecond,
}

// RateLimiter enforces a minimum interval between dispatches per platform.
type RateLimiter struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	lastRun   map[string]time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter. A nil intervals map uses the defaults.
func NewRateLimiter(intervals map[string]time.Duration) *RateLimiter {
	if intervals == nil {
		intervals = DefaultMinIntervals
	}
	return &RateLimiter{
		intervals: intervals,
		lastRun:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (rl *RateLimiter) SetClock(now func() time.Time) { rl.now = now }

// Allow reports whether platform may dispatch now, and records the
// dispatch when it may. Unknown platforms always pass.
func (rl *RateLimiter) Allow(platform string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	interval, limited := rl.intervals[platform]
	if !limited {
		return true
	}

	now := rl.now()
	if last, ok := rl.lastRun[platform]; ok && now.Sub(last) < interval {
		return false
	}
	rl.lastRun[platform] = now
	return true
}

// NextAllowed returns when platform may dispatch again. Zero time means
// immediately.
func (rl *RateLimiter) NextAllowed(platform string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	interval, limited := rl.intervals[platform]
	if !limited {
		return time.Time{}
	}
	last, ok := rl.lastRun[platform]
	if !ok {
		return time.Time{}
	}
	return last.Add(interval)
}

package channels

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimitWindow is the trailing window for per-actor request counting.
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultRateLimitMax is the max engagement attempts per actor within a window.
	DefaultRateLimitMax = 10
)

// RateLimiter counts engagement attempts per actor over a trailing window.
// Each actor keeps the timestamps of its accepted requests; Allow prunes
// them before deciding, so correctness never depends on Sweep.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	windows map[string][]time.Time
}

// NewRateLimiter creates a limiter admitting max requests per window per actor.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return &RateLimiter{
		window:  window,
		max:     max,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Allow prunes the actor's window, then records the request and returns true
// if the actor is below the limit. A rejected request is not recorded.
func (r *RateLimiter) Allow(actorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stamps := r.prune(r.windows[actorID], now)

	if len(stamps) >= r.max {
		r.windows[actorID] = stamps
		return false
	}

	r.windows[actorID] = append(stamps, now)
	return true
}

// Remaining returns how many more requests the actor may make right now.
func (r *RateLimiter) Remaining(actorID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.max - len(r.prune(r.windows[actorID], r.now()))
	if n < 0 {
		return 0
	}
	return n
}

// Sweep drops actors whose windows are empty after pruning and returns how
// many were removed. It only bounds memory.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for actor, stamps := range r.windows {
		stamps = r.prune(stamps, now)
		if len(stamps) == 0 {
			delete(r.windows, actor)
			removed++
			continue
		}
		r.windows[actor] = stamps
	}
	return removed
}

// Len returns the number of tracked actors.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// prune drops timestamps that fell out of the window. Timestamps are
// appended in order, so the first one still inside marks the cut.
func (r *RateLimiter) prune(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	kept := make([]time.Time, len(stamps)-i, max(len(stamps)-i, r.max))
	copy(kept, stamps[i:])
	return kept
}

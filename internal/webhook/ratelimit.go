// Package webhook provides the shared guards applied to every webhook-style
// HTTP endpoint: rate limiting, anomaly counting, replay dedup, and bounded
// body reading. All state is safe for concurrent use; the process-wide
// singletons live with their owning channel module and are passed into
// monitors as dependencies.
package webhook

import (
	"sync"
	"time"
)

// Rate limiter defaults.
const (
	DefaultRateWindow      = 60 * time.Second
	DefaultRateMaxRequests = 120
	DefaultMaxTrackedKeys  = 4096
)

type rateEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter is a fixed-window per-key rate limiter with a hard cap on
// tracked keys. Rotating source keys cannot grow it past the cap: pruning
// first drops stale windows, then clears the table entirely (graceful
// degradation — an attacker flushing the table only resets counting).
type RateLimiter struct {
	window      time.Duration
	maxRequests int
	maxKeys     int

	mu      sync.Mutex
	entries map[string]*rateEntry
}

// NewRateLimiter creates a limiter with the given bounds. Zero values fall
// back to the defaults.
func NewRateLimiter(window time.Duration, maxRequests, maxKeys int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultRateMaxRequests
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxTrackedKeys
	}
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		maxKeys:     maxKeys,
		entries:     make(map[string]*rateEntry),
	}
}

// IsRateLimited records a hit for key at now and reports whether the key has
// exceeded its window allowance.
func (r *RateLimiter) IsRateLimited(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		if len(r.entries) >= r.maxKeys {
			r.entries = make(map[string]*rateEntry)
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateEntry{windowStart: now, count: 1}
		return false
	}

	e.count++
	return e.count > r.maxRequests
}

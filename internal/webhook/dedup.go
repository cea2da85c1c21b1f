package webhook

import (
	"sync"
	"time"
)

// Replay dedup defaults.
const (
	DefaultReplayWindow  = 5 * time.Minute
	DefaultReplayMaxKeys = 5000
)

// DedupCache is a replay cache keyed by (event name, message id) style keys.
// First sight within the window returns true; replays return false.
type DedupCache struct {
	window  time.Duration
	maxKeys int

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupCache creates a replay cache. Zero values use the defaults.
func NewDedupCache(window time.Duration, maxKeys int) *DedupCache {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	if maxKeys <= 0 {
		maxKeys = DefaultReplayMaxKeys
	}
	return &DedupCache{window: window, maxKeys: maxKeys, seen: make(map[string]time.Time)}
}

// CheckDedup records key at now and reports whether it was first sight
// within the replay window.
func (d *DedupCache) CheckDedup(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return false
	}

	if len(d.seen) >= d.maxKeys {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
		if len(d.seen) >= d.maxKeys {
			d.seen = make(map[string]time.Time)
		}
	}

	d.seen[key] = now
	return true
}

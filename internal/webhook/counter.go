package webhook

import (
	"log/slog"
	"sync"
	"time"
)

// Counter defaults.
const (
	DefaultCounterMaxKeys = 4096
	DefaultLogEvery       = 25
)

type counterEntry struct {
	count     int
	expiresAt time.Time // zero = no TTL
}

// Counter is a bounded per-key counter with optional TTL pruning on insert.
type Counter struct {
	maxKeys int
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*counterEntry
}

// NewCounter creates a bounded counter. ttl <= 0 disables expiry.
func NewCounter(maxKeys int, ttl time.Duration) *Counter {
	if maxKeys <= 0 {
		maxKeys = DefaultCounterMaxKeys
	}
	return &Counter{maxKeys: maxKeys, ttl: ttl, entries: make(map[string]*counterEntry)}
}

// Increment bumps a key and returns the new count.
func (c *Counter) Increment(key string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxKeys {
		if c.ttl > 0 {
			for k, e := range c.entries {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
		}
		if len(c.entries) >= c.maxKeys {
			c.entries = make(map[string]*counterEntry)
		}
	}

	e, ok := c.entries[key]
	if !ok || (!e.expiresAt.IsZero() && now.After(e.expiresAt)) {
		e = &counterEntry{}
		if c.ttl > 0 {
			e.expiresAt = now.Add(c.ttl)
		}
		c.entries[key] = e
	}
	e.count++
	return e.count
}

// anomalyStatuses are the status codes worth counting per endpoint.
func anomalyStatus(code int) bool {
	switch code {
	case 401, 403, 413, 415, 429:
		return true
	}
	return code >= 500
}

// AnomalyTracker counts guard violations per key and logs at a cadence.
// It never blocks the next request; its only output is the periodic log line.
type AnomalyTracker struct {
	counter  *Counter
	logEvery int
}

// NewAnomalyTracker creates a tracker logging every logEvery increments
// (default 25).
func NewAnomalyTracker(logEvery int) *AnomalyTracker {
	if logEvery <= 0 {
		logEvery = DefaultLogEvery
	}
	return &AnomalyTracker{
		counter:  NewCounter(DefaultCounterMaxKeys, 24*time.Hour),
		logEvery: logEvery,
	}
}

// Record counts an anomalous response for key. messageFn builds the log
// message from the running count; it is only invoked on the logging cadence.
func (a *AnomalyTracker) Record(key string, statusCode int, log *slog.Logger, messageFn func(count int) string) {
	if !anomalyStatus(statusCode) {
		return
	}
	count := a.counter.Increment(key, time.Now())
	if count%a.logEvery != 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	msg := ""
	if messageFn != nil {
		msg = messageFn(count)
	}
	if msg == "" {
		msg = "webhook anomalies"
	}
	log.Warn(msg, "key", key, "status", statusCode, "count", count)
}

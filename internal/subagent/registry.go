package subagent

import (
	"sync"
	"time"
)

// RunEntry tracks one live or recently ended child run.
type RunEntry struct {
	SessionKey       string
	ParentSessionKey string
	AgentID          string
	Runtime          string
	Cleanup          string // keep | delete

	// ExpectsCompletionMessage marks runs whose parent should receive an
	// announce when the child finishes.
	ExpectsCompletionMessage bool

	StartedAt time.Time
	EndedAt   time.Time // zero while running

	// AnnounceRetries counts completed announce attempts.
	AnnounceRetries int
}

// Active reports whether the run has not ended yet.
func (e *RunEntry) Active() bool { return e.EndedAt.IsZero() }

// Registry is the in-memory subagent run table.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*RunEntry // session key → entry
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunEntry)}
}

// Register adds a run, stamping StartedAt if unset.
func (r *Registry) Register(entry *RunEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	r.runs[entry.SessionKey] = entry
}

// Get returns the entry for sessionKey, or nil.
func (r *Registry) Get(sessionKey string) *RunEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[sessionKey]
}

// MarkEnded stamps the run as finished. Unknown keys are ignored.
func (r *Registry) MarkEnded(sessionKey string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[sessionKey]; ok && e.EndedAt.IsZero() {
		e.EndedAt = at
	}
}

// Remove drops a run from the table.
func (r *Registry) Remove(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, sessionKey)
}

// ActiveDescendants counts live runs whose parent is parentSessionKey.
func (r *Registry) ActiveDescendants(parentSessionKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.runs {
		if e.ParentSessionKey == parentSessionKey && e.Active() {
			n++
		}
	}
	return n
}

// List snapshots all entries.
func (r *Registry) List() []RunEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunEntry, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, *e)
	}
	return out
}

package approvals

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AutoDecider may short-circuit an approval at registration time. Returning
// nil means a human has to decide.
type AutoDecider func(Request) *string

type pendingApproval struct {
	req       Request
	expiresAt time.Time
	decided   bool
	decision  string
	done      chan struct{}
}

// Broker is the gateway-side approval table. Decisions are serialized per
// id: the first Decide wins, later ones are rejected.
type Broker struct {
	auto   AutoDecider
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

func NewBroker(auto AutoDecider, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		auto:    auto,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*pendingApproval),
	}
}

// Register records the request and returns its expiry. The entry is in the
// table before this returns, so a decision arriving immediately after the
// caller reports "pending" always finds its target. Registration is
// idempotent: a retried register for a live id returns the existing entry,
// decision included, instead of resetting it.
func (b *Broker) Register(req Request) RegisterResponse {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	expiresAt := b.now().Add(timeout)

	if b.auto != nil {
		if d := b.auto(req); d != nil {
			b.logger.Info("exec approval auto-decided", "id", req.ID, "decision", *d)
			return RegisterResponse{ID: req.ID, ExpiresAtMs: expiresAt.UnixMilli(), Decision: d}
		}
	}

	b.mu.Lock()
	if existing, ok := b.pending[req.ID]; ok && b.now().Before(existing.expiresAt) {
		resp := RegisterResponse{ID: req.ID, ExpiresAtMs: existing.expiresAt.UnixMilli()}
		if existing.decided {
			decision := existing.decision
			resp.Decision = &decision
		}
		b.mu.Unlock()
		b.logger.Debug("exec approval re-registered", "id", req.ID, "decided", resp.Decision != nil)
		return resp
	}
	b.pending[req.ID] = &pendingApproval{
		req:       req,
		expiresAt: expiresAt,
		done:      make(chan struct{}),
	}
	b.mu.Unlock()

	b.logger.Info("exec approval registered",
		"id", req.ID, "command", req.Command, "host", req.Host, "expiresAt", expiresAt)
	return RegisterResponse{ID: req.ID, ExpiresAtMs: expiresAt.UnixMilli()}
}

// Decide resolves a pending approval. Unknown or expired ids, and ids that
// already carry a decision, return ErrNotFound.
func (b *Broker) Decide(id, decision string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[id]
	if !ok || p.decided || b.now().After(p.expiresAt) {
		return ErrNotFound
	}
	p.decided = true
	p.decision = decision
	close(p.done)
	b.logger.Info("exec approval decided", "id", id, "decision", decision)
	return nil
}

// WaitDecision blocks until the approval is decided, expires, or ctx ends.
func (b *Broker) WaitDecision(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return "", ErrNotFound
	}
	// decided/decision are written under b.mu; read them before releasing it.
	if p.decided {
		decision := p.decision
		b.mu.Unlock()
		return decision, nil
	}
	b.mu.Unlock()

	remaining := p.expiresAt.Sub(b.now())
	if remaining <= 0 {
		b.drop(id)
		return "", ErrNotFound
	}
	expiry := time.NewTimer(remaining)
	defer expiry.Stop()

	select {
	case <-p.done:
		return p.decision, nil
	case <-expiry.C:
		b.drop(id)
		return "", ErrNotFound
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending lists undecided, unexpired requests.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		if !p.decided && now.Before(p.expiresAt) {
			out = append(out, p.req)
		}
	}
	return out
}

// Sweep drops decided and expired entries. The gateway calls it on a timer.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for id, p := range b.pending {
		if p.decided || now.After(p.expiresAt) {
			delete(b.pending, id)
			n++
		}
	}
	return n
}

// SweepLoop runs Sweep every minute until ctx is cancelled.
func (b *Broker) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				b.logger.Debug("approval entries swept", "count", n)
			}
		}
	}
}

func (b *Broker) drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

package subagent

import "time"

// Cleanup decision kinds.
const (
	CleanupDeferDescendants = "defer-descendants"
	CleanupGiveUp           = "give-up"
	CleanupRetry            = "retry"
)

// Default announce timing, overridable per CleanupInput.
const (
	DefaultAnnounceExpiryMs               = int64(10 * 60 * 1000)
	DefaultAnnounceCompletionHardExpiryMs = int64(30 * 60 * 1000)
	DefaultMaxAnnounceRetryCount          = 3
	DefaultDeferDescendantDelayMs         = int64(15 * 1000)
	DefaultAnnounceRetryDelayMs           = int64(5 * 1000)
)

// CleanupInput describes a run that just ended (or an announce attempt that
// just failed) and the policy knobs for deciding what happens next.
type CleanupInput struct {
	Entry                *RunEntry
	Now                  time.Time
	ActiveDescendantRuns int

	AnnounceExpiryMs               int64
	AnnounceCompletionHardExpiryMs int64
	MaxAnnounceRetryCount          int
	DeferDescendantDelayMs         int64

	// ResolveAnnounceRetryDelayMs maps a retry ordinal to its delay.
	// Nil uses the default flat delay.
	ResolveAnnounceRetryDelayMs func(retryCount int) int64
}

// CleanupDecision tells the caller how to proceed with a finished run.
type CleanupDecision struct {
	Kind          string `json:"kind"`
	Reason        string `json:"reason,omitempty"`
	DelayMs       int64  `json:"delayMs,omitempty"`
	RetryCount    int    `json:"retryCount,omitempty"`
	ResumeDelayMs int64  `json:"resumeDelayMs,omitempty"`
}

// DecideCleanup resolves what to do when a child run ends.
//
// Runs that owe the parent a completion message first wait for their own
// descendants (bounded by the hard expiry), then retry the announce up to
// the retry cap. Runs with no completion obligation are given up once the
// plain announce window passes.
func DecideCleanup(in CleanupInput) CleanupDecision {
	expiry := in.AnnounceExpiryMs
	if expiry <= 0 {
		expiry = DefaultAnnounceExpiryMs
	}
	hardExpiry := in.AnnounceCompletionHardExpiryMs
	if hardExpiry <= 0 {
		hardExpiry = DefaultAnnounceCompletionHardExpiryMs
	}
	maxRetries := in.MaxAnnounceRetryCount
	if maxRetries <= 0 {
		maxRetries = DefaultMaxAnnounceRetryCount
	}
	deferDelay := in.DeferDescendantDelayMs
	if deferDelay <= 0 {
		deferDelay = DefaultDeferDescendantDelayMs
	}
	resolveDelay := in.ResolveAnnounceRetryDelayMs
	if resolveDelay == nil {
		resolveDelay = func(int) int64 { return DefaultAnnounceRetryDelayMs }
	}

	ref := in.Entry.EndedAt
	if ref.IsZero() {
		ref = in.Entry.StartedAt
	}
	elapsedMs := in.Now.Sub(ref).Milliseconds()

	if in.Entry.ExpectsCompletionMessage {
		pastHardExpiry := elapsedMs >= hardExpiry
		if in.ActiveDescendantRuns > 0 && !pastHardExpiry {
			return CleanupDecision{Kind: CleanupDeferDescendants, DelayMs: deferDelay}
		}
		if pastHardExpiry {
			return CleanupDecision{Kind: CleanupGiveUp, Reason: "expiry"}
		}
		retry := in.Entry.AnnounceRetries + 1
		if retry > maxRetries {
			return CleanupDecision{Kind: CleanupGiveUp, Reason: "retry-limit", RetryCount: in.Entry.AnnounceRetries}
		}
		return CleanupDecision{Kind: CleanupRetry, RetryCount: retry, ResumeDelayMs: resolveDelay(retry)}
	}

	if elapsedMs >= expiry {
		return CleanupDecision{Kind: CleanupGiveUp, Reason: "expiry", RetryCount: 1}
	}
	return CleanupDecision{Kind: CleanupRetry, RetryCount: 1, ResumeDelayMs: resolveDelay(1)}
}

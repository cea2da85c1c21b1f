// Package approvals implements the two-phase exec approval protocol:
// register the request first, then wait for a decision on a separate call.
// The broker is the gateway-side table; the coordinator is the agent-side
// client that drives both phases.
package approvals

import (
	"errors"
	"strings"
	"time"
)

// Default bounds. Registration is a quick RPC; the decision wait is long
// because a human is on the other end.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDecisionTimeout = 10 * time.Minute
)

// ErrNotFound is returned when an approval id is unknown or already expired.
// The agent treats it as "no decision" and falls back to ask.
var ErrNotFound = errors.New("approval expired or not found")

// IsNotFound matches ErrNotFound including errors that crossed an RPC
// boundary and survive only as text.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return strings.Contains(err.Error(), ErrNotFound.Error())
}

// TurnSource identifies the conversation the command originated from.
type TurnSource struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Request is the exec.approval.request payload.
type Request struct {
	ID           string            `json:"id"`
	Command      string            `json:"command"`
	CommandArgv  []string          `json:"commandArgv,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Cwd          string            `json:"cwd"`
	NodeID       string            `json:"nodeId,omitempty"`
	Host         string            `json:"host"` // gateway | node
	Security     string            `json:"security"`
	Ask          string            `json:"ask"`
	AgentID      string            `json:"agentId,omitempty"`
	ResolvedPath string            `json:"resolvedPath,omitempty"`
	SessionKey   string            `json:"sessionKey,omitempty"`
	TurnSource   *TurnSource       `json:"turnSource,omitempty"`
	TimeoutMs    int64             `json:"timeoutMs,omitempty"`
	TwoPhase     bool              `json:"twoPhase"`
}

// RegisterResponse answers phase 1. Decision is set when the gateway could
// resolve immediately (auto-approval rules); the client then skips phase 2.
type RegisterResponse struct {
	ID          string  `json:"id"`
	ExpiresAtMs int64   `json:"expiresAtMs"`
	Decision    *string `json:"decision,omitempty"`
}

// Package agent runs conversational model turns for routed messages,
// cron ticks, and subagent announce flows. The runtime resolves a provider,
// replays session history, executes tool calls, and persists the sanitized
// transcript.
package agent

import (
	"context"

	"github.com/openclaw/openclaw/internal/providers"
)

// ModelChoice names one (provider, model) pair in a fallback chain.
type ModelChoice struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// RunRequest is the input for one agent turn.
type RunRequest struct {
	SessionKey string
	RunID      string

	Message    string
	Channel    string
	ChatID     string
	PeerKind   string // "direct" or "group"
	SenderID   string // individual sender, preserved in group chats
	MediaPaths []string

	Provider string // empty = runner default
	Model    string // empty = provider default

	// Fresh sessions never forward a stored CLI session id.
	NewSession   bool
	CLISessionID string

	ExtraSystemPrompt string
	HistoryLimit      int // max prior user turns replayed, 0 = unlimited
}

// RunResult is the output of a completed turn.
type RunResult struct {
	Content    string           `json:"content"`
	RunID      string           `json:"runId"`
	Model      string           `json:"model"`
	Provider   string           `json:"provider"`
	Iterations int              `json:"iterations"`
	Usage      *providers.Usage `json:"usage,omitempty"`
}

// Runtime executes agent turns. Implemented by Runner; cron and the subagent
// orchestrator take the interface so tests can substitute a recorder.
type Runtime interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// ToolResult is what a tool execution hands back to the loop.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Async   bool // fire-and-forget tools (spawns, announces)
}

// ToolExecutor supplies tool schemas and executes calls. The tools package
// implements this; a nil executor runs the turn without tools.
type ToolExecutor interface {
	Definitions() []providers.ToolDefinition
	Execute(ctx context.Context, call providers.ToolCall, req RunRequest) ToolResult
}

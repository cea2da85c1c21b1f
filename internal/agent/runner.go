package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/openclaw/internal/providers"
	"github.com/openclaw/openclaw/internal/sessions"
)

const (
	defaultMaxIterations = 20
	defaultMaxTokens     = 8192
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Providers       *providers.Registry
	Sessions        *sessions.Store
	Tools           ToolExecutor // nil = no tools
	DefaultProvider string
	SystemPrompt    string
	MaxIterations   int
	TranscriptDir   string // empty = no transcript files
}

// Runner is the provider-backed Runtime. Session history is held in memory
// per session key; the sanitized transcript is appended to disk after each
// completed turn.
type Runner struct {
	providers       *providers.Registry
	sessions        *sessions.Store
	tools           ToolExecutor
	defaultProvider string
	systemPrompt    string
	maxIterations   int
	transcriptDir   string

	histMu  sync.Mutex
	history map[string][]providers.Message
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Runner{
		providers:       cfg.Providers,
		sessions:        cfg.Sessions,
		tools:           cfg.Tools,
		defaultProvider: cfg.DefaultProvider,
		systemPrompt:    cfg.SystemPrompt,
		maxIterations:   cfg.MaxIterations,
		transcriptDir:   cfg.TranscriptDir,
		history:         make(map[string][]providers.Message),
	}
}

// Run executes one turn: replay history, iterate model + tool calls until the
// model stops requesting tools, then persist history, transcript, and session
// metadata. On error nothing is persisted, so a pre-run model record written
// by the caller survives intact.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = r.defaultProvider
	}
	provider, err := r.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	messages := r.buildMessages(req)

	pending := make([]providers.Message, 0, 4)
	userMsg := providers.Message{Role: "user", Content: req.Message}
	if imgs := loadImages(req.MediaPaths); len(imgs) > 0 {
		userMsg.Images = imgs
	}
	pending = append(pending, userMsg)
	messages = append(messages, userMsg)

	var toolDefs []providers.ToolDefinition
	if r.tools != nil {
		toolDefs = r.tools.Definitions()
	}

	var totalUsage providers.Usage
	var finalContent string
	iteration := 0
	hadAsyncTool := false

	for iteration < r.maxIterations {
		iteration++
		slog.Debug("agent iteration",
			"session", req.SessionKey, "iteration", iteration, "messages", len(messages))

		resp, err := provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    model,
			Options:  map[string]interface{}{"max_tokens": defaultMaxTokens},
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}
		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)
		pending = append(pending, assistantMsg)

		for _, tc := range resp.ToolCalls {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			started := time.Now()
			result := r.executeTool(ctx, tc, req)
			if result.Async {
				hadAsyncTool = true
			}
			if result.IsError {
				slog.Warn("tool error",
					"session", req.SessionKey, "tool", tc.Name,
					"error", truncate(result.ForLLM, 200))
			} else {
				slog.Debug("tool call done",
					"session", req.SessionKey, "tool", tc.Name,
					"elapsed", time.Since(started).Round(time.Millisecond))
			}
			toolMsg := providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			pending = append(pending, toolMsg)
		}
	}

	finalContent = SanitizeAssistantContent(finalContent)
	isSilent := IsSilentReply(finalContent)
	if finalContent == "" && hadAsyncTool {
		finalContent = "..."
	}

	pending = append(pending, providers.Message{Role: "assistant", Content: finalContent})

	r.appendHistory(req.SessionKey, pending)
	r.writeTranscript(req.SessionKey, pending)

	if r.sessions != nil {
		err := r.sessions.Update(req.SessionKey, func(e *sessions.Entry) {
			e.Model = model
			e.ModelProvider = provider.Name()
			e.LastProvider = provider.Name()
			e.SystemSent = true
		})
		if err != nil {
			slog.Warn("session metadata persist failed", "session", req.SessionKey, "error", err)
		}
	}

	if isSilent {
		slog.Info("silent reply token, suppressing delivery", "session", req.SessionKey)
		finalContent = ""
	}

	return &RunResult{
		Content:    finalContent,
		RunID:      req.RunID,
		Model:      model,
		Provider:   provider.Name(),
		Iterations: iteration,
		Usage:      &totalUsage,
	}, nil
}

func (r *Runner) executeTool(ctx context.Context, tc providers.ToolCall, req RunRequest) ToolResult {
	if r.tools == nil {
		return ToolResult{ForLLM: fmt.Sprintf("tool %q is not available", tc.Name), IsError: true}
	}
	return r.tools.Execute(ctx, tc, req)
}

// ResetSession drops the in-memory history for a session key. Used when a
// fresh session is forced (cron forceNew, /new command).
func (r *Runner) ResetSession(sessionKey string) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	delete(r.history, sessionKey)
}

func (r *Runner) buildMessages(req RunRequest) []providers.Message {
	system := r.systemPrompt
	if req.ExtraSystemPrompt != "" {
		if system != "" {
			system += "\n\n"
		}
		system += req.ExtraSystemPrompt
	}

	var messages []providers.Message
	if system != "" {
		messages = append(messages, providers.Message{Role: "system", Content: system})
	}

	r.histMu.Lock()
	history := r.history[req.SessionKey]
	if req.NewSession {
		history = nil
		delete(r.history, req.SessionKey)
	}
	r.histMu.Unlock()

	messages = append(messages, trimHistory(history, req.HistoryLimit)...)
	return messages
}

func (r *Runner) appendHistory(sessionKey string, msgs []providers.Message) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history[sessionKey] = append(r.history[sessionKey], msgs...)
}

// trimHistory keeps the suffix of history containing at most limit user
// turns. Tool/assistant messages travel with the user turn that produced
// them.
func trimHistory(history []providers.Message, limit int) []providers.Message {
	if limit <= 0 {
		return history
	}
	userTurns := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			userTurns++
			if userTurns == limit {
				return history[i:]
			}
		}
	}
	return history
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package subagent spawns isolated child agent sessions and binds them to
// either the parent conversation or a freshly created thread. The
// orchestrator owns policy checks, session minting, binding, and the initial
// task dispatch; actually running the child is the gateway's job.
package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
)

// Runtime kinds for spawned children.
const (
	RuntimeSubagent = "subagent"
	RuntimeACP      = "acp"
)

// Spawn modes.
const (
	ModeRun     = "run"
	ModeSession = "session"
)

const (
	maxAttachments = 50
	// Attachment payloads travel by value; cap each at what a 10MB file
	// becomes after base64 expansion.
	maxAttachmentBytes = 10 * 1024 * 1024 * 2 / 3
)

// Attachment is a snapshot-by-value file handed to the child.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

// SpawnRequest mirrors the sessions_spawn tool surface.
type SpawnRequest struct {
	Task              string       `json:"task"`
	Runtime           string       `json:"runtime,omitempty"` // subagent | acp
	AgentID           string       `json:"agentId,omitempty"`
	Mode              string       `json:"mode,omitempty"` // run | session
	Thread            bool         `json:"thread,omitempty"`
	Cwd               string       `json:"cwd,omitempty"`
	Model             string       `json:"model,omitempty"`
	Thinking          string       `json:"thinking,omitempty"`
	RunTimeoutSeconds int          `json:"runTimeoutSeconds,omitempty"`
	Cleanup           string       `json:"cleanup,omitempty"` // keep | delete
	Sandbox           string       `json:"sandbox,omitempty"` // inherit | require
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// Origin identifies the conversation the spawn came from.
type Origin struct {
	Channel              string
	AccountID            string
	To                   string // delivery target of the parent, e.g. "channel:parent-channel"
	ParentConversationID string
	ParentSessionKey     string
}

// SpawnResult is the orchestrator's answer to the tool layer.
type SpawnResult struct {
	Status          string `json:"status"` // accepted | forbidden | error
	ChildSessionKey string `json:"childSessionKey,omitempty"`
	ThreadID        string `json:"threadId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// InitRequest is passed to the session initializer.
type InitRequest struct {
	SessionKey string
	Agent      string
	Mode       string
	Cwd        string
}

// SessionHandle is what session initialization yields.
type SessionHandle struct {
	SessionID string
	Meta      map[string]string
}

// Binding attaches a child session to a conversation.
type Binding struct {
	TargetSessionKey string
	TargetKind       string // always "session" for spawns
	Placement        string // always "child" for spawns
	Conversation     BindingConversation
	Metadata         BindingMetadata
}

type BindingConversation struct {
	Channel              string
	AccountID            string
	ConversationID       string
	ParentConversationID string
}

type BindingMetadata struct {
	IntroText string
	Cwd       string
}

// Dispatch is the initial-task invocation of the gateway agent method.
type Dispatch struct {
	SessionKey string
	Message    string
	To         string
	ThreadID   string
	Deliver    bool
}

// Deps are the orchestrator's collaborators. All four are gateway-side
// services; tests substitute recorders.
type Deps struct {
	// InitializeSession prepares the child runtime.
	InitializeSession func(ctx context.Context, req InitRequest) (SessionHandle, error)
	// Bind attaches the child session to its conversation.
	Bind func(ctx context.Context, b Binding) error
	// DispatchAgent sends the initial task through the gateway agent method.
	DispatchAgent func(ctx context.Context, d Dispatch) error
	// CreateThread makes a fresh thread under the parent conversation and
	// returns its id. Only called for thread spawns.
	CreateThread func(ctx context.Context, channel, accountID, parentConversationID, title string) (string, error)
}

// Orchestrator validates and executes spawns, tracking live runs in an
// in-memory registry.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps
	runs *Registry
}

func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps, runs: NewRegistry()}
}

// Runs exposes the live run registry.
func (o *Orchestrator) Runs() *Registry { return o.runs }

// Spawn runs the policy checks in order, then mints, initializes, binds,
// and dispatches the child. The first failing check wins.
func (o *Orchestrator) Spawn(ctx context.Context, req SpawnRequest, origin Origin) SpawnResult {
	runtime := req.Runtime
	if runtime == "" {
		runtime = RuntimeSubagent
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeRun
	}

	if runtime == RuntimeACP && req.Thread {
		channelCfg := o.cfg.Channels[origin.Channel]
		if !channelCfg.ThreadBindings.SpawnACPSessions {
			return SpawnResult{
				Status: "error",
				Error: fmt.Sprintf("ACP thread spawns are disabled for channel %q; set spawnAcpSessions=true under its threadBindings",
					origin.Channel),
			}
		}
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = o.cfg.ACP.DefaultAgent
		if agentID == "" {
			return SpawnResult{Status: "error", Error: "no agentId given and no default configured; set `acp.defaultAgent`"}
		}
	}
	if !o.cfg.ACP.AgentAllowed(agentID) {
		return SpawnResult{Status: "forbidden", Error: fmt.Sprintf("agent %q is not in acp.allowedAgents", agentID)}
	}

	if runtime == RuntimeACP && len(req.Attachments) > 0 {
		return SpawnResult{Status: "error", Error: "ACP runs do not support attachments"}
	}
	if err := validateAttachments(req.Attachments); err != nil {
		return SpawnResult{Status: "error", Error: err.Error()}
	}

	var childKey string
	if runtime == RuntimeACP {
		childKey = sessions.MintACPSessionKey(agentID)
	} else {
		childKey = sessions.MintSubagentSessionKey(agentID)
	}

	handle, err := o.deps.InitializeSession(ctx, InitRequest{
		SessionKey: childKey,
		Agent:      agentID,
		Mode:       mode,
		Cwd:        req.Cwd,
	})
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("initialize session: %v", err)}
	}

	parentConversation := origin.ParentConversationID
	if parentConversation == "" {
		parentConversation = strings.TrimPrefix(origin.To, "channel:")
	}

	conversationID := parentConversation
	threadID := ""
	if req.Thread {
		conversationID, err = o.deps.CreateThread(ctx, origin.Channel, origin.AccountID, parentConversation, threadTitle(req.Task))
		if err != nil {
			return SpawnResult{Status: "error", Error: fmt.Sprintf("create thread: %v", err)}
		}
		threadID = conversationID
	}

	err = o.deps.Bind(ctx, Binding{
		TargetSessionKey: childKey,
		TargetKind:       "session",
		Placement:        "child",
		Conversation: BindingConversation{
			Channel:              origin.Channel,
			AccountID:            origin.AccountID,
			ConversationID:       conversationID,
			ParentConversationID: parentConversation,
		},
		Metadata: BindingMetadata{
			IntroText: introText(agentID, runtime, req.Task, handle),
			Cwd:       req.Cwd,
		},
	})
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("bind session: %v", err)}
	}

	err = o.deps.DispatchAgent(ctx, Dispatch{
		SessionKey: childKey,
		Message:    req.Task,
		To:         "channel:" + conversationID,
		ThreadID:   threadID,
		Deliver:    true,
	})
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("dispatch initial task: %v", err)}
	}

	o.runs.Register(&RunEntry{
		SessionKey:               childKey,
		ParentSessionKey:         origin.ParentSessionKey,
		AgentID:                  agentID,
		Runtime:                  runtime,
		Cleanup:                  req.Cleanup,
		ExpectsCompletionMessage: true,
	})

	return SpawnResult{Status: "accepted", ChildSessionKey: childKey, ThreadID: threadID}
}

func validateAttachments(attachments []Attachment) error {
	if len(attachments) > maxAttachments {
		return fmt.Errorf("too many attachments: %d (max %d)", len(attachments), maxAttachments)
	}
	for i, a := range attachments {
		if len(a.Content) > maxAttachmentBytes {
			return fmt.Errorf("attachment %d exceeds %d bytes", i, maxAttachmentBytes)
		}
	}
	return nil
}

// introText announces the child in the bound conversation. The child's
// session id is already known at bind time, so the text states it directly.
func introText(agentID, runtime, task string, handle SessionHandle) string {
	label := threadTitle(task)
	id := handle.SessionID
	if id == "" {
		id = "(unbound)"
	}
	return fmt.Sprintf("Started %s run with agent %s — %s\nsession id: %s", runtime, agentID, label, id)
}

func threadTitle(task string) string {
	task = strings.TrimSpace(task)
	if len(task) > 60 {
		return task[:60] + "..."
	}
	return task
}

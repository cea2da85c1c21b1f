package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/approvals"
	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/cron"
	"github.com/openclaw/openclaw/internal/providers"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/subagent"
	"github.com/openclaw/openclaw/pkg/protocol"
)

// CoreDeps are the collaborators behind the built-in RPC methods.
type CoreDeps struct {
	Config    *config.Config
	Sessions  *sessions.Store
	Runtime   agent.Runtime
	Providers *providers.Registry
	Approvals *approvals.Broker
	CronJobs  *cron.JobStore
	CronRun   *cron.Runner
	Subagent   *subagent.Orchestrator
	Channels   *channels.Registry
	Supervisor *channels.Supervisor
	Bus        *bus.MessageBus
}

func invalidParams(err error) *protocol.ErrorBody {
	return &protocol.ErrorBody{Code: protocol.ErrCodeInvalidParams, Message: err.Error()}
}

func internalError(err error) *protocol.ErrorBody {
	return &protocol.ErrorBody{Code: protocol.ErrCodeInternal, Message: err.Error()}
}

func decode[T any](params json.RawMessage) (T, *protocol.ErrorBody) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, invalidParams(fmt.Errorf("decode params: %w", err))
	}
	return v, nil
}

// RegisterCoreMethods wires the built-in method set onto the server's router.
func RegisterCoreMethods(s *Server, deps CoreDeps) {
	r := s.Router()

	r.MustRegister(protocol.MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}, nil
	})

	r.MustRegister(protocol.MethodStatus, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		var channelIDs []string
		if deps.Channels != nil {
			channelIDs = deps.Channels.IDs()
		}
		return map[string]any{
			"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
			"channels":      channelIDs,
			"sessions":      len(deps.Sessions.List()),
			"methods":       s.Router().Methods(),
		}, nil
	})

	r.MustRegister(protocol.MethodLastHeartbeat, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		beat := s.LastHeartbeat()
		if beat.IsZero() {
			return map[string]any{"lastHeartbeatMs": nil}, nil
		}
		return map[string]any{"lastHeartbeatMs": beat.UnixMilli()}, nil
	})

	r.MustRegister(protocol.MethodModelsList, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		type modelInfo struct {
			Provider string `json:"provider"`
			Model    string `json:"model"`
		}
		var out []modelInfo
		if deps.Providers != nil {
			for _, name := range deps.Providers.Names() {
				p, err := deps.Providers.Get(name)
				if err != nil {
					continue
				}
				out = append(out, modelInfo{Provider: name, Model: p.DefaultModel()})
			}
		}
		return map[string]any{"models": out}, nil
	})

	registerAgentMethods(s, r, deps)
	registerSessionMethods(r, deps)
	registerApprovalMethods(r, deps)
	registerChatMethods(r, deps)
	registerCronMethods(r, deps)
	registerDoctorMethods(r, deps)
	registerChannelMethods(r, deps)

	r.MustRegister(protocol.MethodNodeInvoke, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: "no nodes connected"}
	})
}

type agentParams struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Message    string `json:"message"`
	Channel    string `json:"channel,omitempty"`
	To         string `json:"to,omitempty"`
	ThreadID   string `json:"threadId,omitempty"`
	Deliver    bool   `json:"deliver,omitempty"`
	NewSession bool   `json:"newSession,omitempty"`
}

func registerAgentMethods(s *Server, r *MethodRouter, deps CoreDeps) {
	run := func(ctx context.Context, p agentParams) (*agent.RunResult, error) {
		sessionKey := p.SessionKey
		if sessionKey == "" {
			sessionKey = sessions.BuildConversationSessionKey(
				deps.Config.DefaultAgentID(), p.Channel, config.ChannelDefaultAccount,
				sessions.PeerDirect, strings.TrimPrefix(p.To, "channel:"))
		}
		result, err := deps.Runtime.Run(ctx, agent.RunRequest{
			SessionKey: sessionKey,
			RunID:      uuid.NewString(),
			Message:    p.Message,
			Channel:    p.Channel,
			ChatID:     strings.TrimPrefix(p.To, "channel:"),
			NewSession: p.NewSession,
		})
		if err != nil {
			return nil, err
		}
		if p.Deliver && deps.Bus != nil && result.Content != "" {
			deps.Bus.PublishOutbound(bus.OutboundMessage{
				Channel:  p.Channel,
				ChatID:   strings.TrimPrefix(p.To, "channel:"),
				ThreadID: p.ThreadID,
				Content:  result.Content,
			})
		}
		return result, nil
	}

	// agent: fire-and-forget; completion arrives as an agent event.
	r.MustRegister(protocol.MethodAgent, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[agentParams](params)
		if errBody != nil {
			return nil, errBody
		}
		if p.Message == "" {
			return nil, invalidParams(fmt.Errorf("message required"))
		}
		runID := uuid.NewString()
		go func() {
			result, err := run(context.Background(), p)
			if err != nil {
				s.BroadcastEvent(*protocol.NewEvent(protocol.EventAgent, map[string]any{
					"type": protocol.AgentEventRunFailed, "runId": runID, "error": err.Error(),
				}))
				return
			}
			s.BroadcastEvent(*protocol.NewEvent(protocol.EventAgent, map[string]any{
				"type": protocol.AgentEventRunCompleted, "runId": runID, "content": result.Content,
			}))
		}()
		return map[string]any{"status": protocol.StatusAccepted, "runId": runID}, nil
	})

	// agent.wait: synchronous variant.
	r.MustRegister(protocol.MethodAgentWait, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[agentParams](params)
		if errBody != nil {
			return nil, errBody
		}
		if p.Message == "" {
			return nil, invalidParams(fmt.Errorf("message required"))
		}
		result, err := run(ctx, p)
		if err != nil {
			return nil, internalError(err)
		}
		return result, nil
	})
}

type sessionKeyParams struct {
	SessionKey string `json:"sessionKey"`
}

func registerSessionMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodSessionsList, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return map[string]any{"sessions": deps.Sessions.List()}, nil
	})

	r.MustRegister(protocol.MethodSessionsGet, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[sessionKeyParams](params)
		if errBody != nil {
			return nil, errBody
		}
		entry := deps.Sessions.Get(p.SessionKey)
		if entry == nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: "session not found"}
		}
		return entry, nil
	})

	r.MustRegister(protocol.MethodSessionsPatch, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			sessionKeyParams
			ModelOverride    *string `json:"modelOverride,omitempty"`
			ProviderOverride *string `json:"providerOverride,omitempty"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		err := deps.Sessions.Update(p.SessionKey, func(e *sessions.Entry) {
			if p.ModelOverride != nil {
				e.ModelOverride = *p.ModelOverride
			}
			if p.ProviderOverride != nil {
				e.ProviderOverride = *p.ProviderOverride
			}
		})
		if err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	})

	r.MustRegister(protocol.MethodSessionsDelete, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[sessionKeyParams](params)
		if errBody != nil {
			return nil, errBody
		}
		if err := deps.Sessions.Delete(p.SessionKey); err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	})

	r.MustRegister(protocol.MethodSessionsHistory, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[sessionKeyParams](params)
		if errBody != nil {
			return nil, errBody
		}
		entry := deps.Sessions.Get(p.SessionKey)
		if entry == nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: "session not found"}
		}
		return map[string]any{"transcriptPath": entry.TranscriptPath}, nil
	})

	r.MustRegister(protocol.MethodSessionsSpawn, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			subagent.SpawnRequest
			Origin struct {
				Channel              string `json:"channel"`
				AccountID            string `json:"accountId,omitempty"`
				To                   string `json:"to,omitempty"`
				ParentConversationID string `json:"parentConversationId,omitempty"`
				ParentSessionKey     string `json:"parentSessionKey,omitempty"`
			} `json:"origin"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		if deps.Subagent == nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeInternal, Message: "spawns not configured"}
		}
		result := deps.Subagent.Spawn(ctx, p.SpawnRequest, subagent.Origin{
			Channel:              p.Origin.Channel,
			AccountID:            p.Origin.AccountID,
			To:                   p.Origin.To,
			ParentConversationID: p.Origin.ParentConversationID,
			ParentSessionKey:     p.Origin.ParentSessionKey,
		})
		return result, nil
	})
}

func registerApprovalMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodExecApprovalRequest, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		req, errBody := decode[approvals.Request](params)
		if errBody != nil {
			return nil, errBody
		}
		if req.ID == "" || req.Command == "" {
			return nil, invalidParams(fmt.Errorf("id and command required"))
		}
		return deps.Approvals.Register(req), nil
	})

	r.MustRegister(protocol.MethodExecApprovalWaitDecision, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			ID string `json:"id"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		decision, err := deps.Approvals.WaitDecision(ctx, p.ID)
		if err != nil {
			if approvals.IsNotFound(err) {
				return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: err.Error()}
			}
			return nil, internalError(err)
		}
		return map[string]any{"decision": decision}, nil
	})

	r.MustRegister(protocol.MethodExecApprovalResolve, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			ID       string `json:"id"`
			Decision string `json:"decision"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		if err := deps.Approvals.Decide(p.ID, p.Decision); err != nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: err.Error()}
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	})

	r.MustRegister(protocol.MethodExecApprovalList, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return map[string]any{"pending": deps.Approvals.Pending()}, nil
	})
}

func registerChatMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodChatSend, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			Channel  string `json:"channel"`
			To       string `json:"to"`
			Text     string `json:"text"`
			ThreadID string `json:"threadId,omitempty"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		if p.Channel == "" || p.To == "" {
			return nil, invalidParams(fmt.Errorf("channel and to required"))
		}
		deps.Bus.PublishOutbound(bus.OutboundMessage{
			Channel:  p.Channel,
			ChatID:   strings.TrimPrefix(p.To, "channel:"),
			ThreadID: p.ThreadID,
			Content:  p.Text,
		})
		return map[string]any{"status": protocol.StatusAccepted}, nil
	})

	r.MustRegister(protocol.MethodChatAbort, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		// Aborts are advisory: broadcast so the owning run can stop.
		p, _ := decode[sessionKeyParams](params)
		if deps.Bus != nil {
			deps.Bus.Broadcast(bus.Event{Name: protocol.EventChat, Payload: map[string]any{
				"type": "abort", "sessionKey": p.SessionKey,
			}})
		}
		return map[string]any{"status": protocol.StatusAccepted}, nil
	})
}

func registerCronMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodCronList, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return map[string]any{"jobs": deps.CronJobs.List()}, nil
	})

	upsert := func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		job, errBody := decode[cron.Job](params)
		if errBody != nil {
			return nil, errBody
		}
		if job.ID == "" || job.Schedule == "" {
			return nil, invalidParams(fmt.Errorf("id and schedule required"))
		}
		if err := deps.CronJobs.Upsert(job); err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	}
	r.MustRegister(protocol.MethodCronCreate, upsert)
	r.MustRegister(protocol.MethodCronUpdate, upsert)

	r.MustRegister(protocol.MethodCronDelete, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			ID string `json:"id"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		if err := deps.CronJobs.Delete(p.ID); err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	})

	r.MustRegister(protocol.MethodCronRun, func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
		p, errBody := decode[struct {
			ID string `json:"id"`
		}](params)
		if errBody != nil {
			return nil, errBody
		}
		job := deps.CronJobs.Get(p.ID)
		if job == nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeNotFound, Message: "cron job not found"}
		}
		if err := deps.CronRun.RunJob(ctx, *job, time.Now()); err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"status": protocol.StatusOK}, nil
	})
}

func registerChannelMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodChannelsList, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		type channelInfo struct {
			ID       string   `json:"id"`
			Label    string   `json:"label"`
			Accounts []string `json:"accounts,omitempty"`
		}
		var out []channelInfo
		if deps.Channels != nil {
			for _, p := range deps.Channels.All() {
				out = append(out, channelInfo{
					ID:       p.ID(),
					Label:    p.Meta().Label,
					Accounts: p.ListAccounts(deps.Config),
				})
			}
		}
		return map[string]any{"channels": out}, nil
	})

	r.MustRegister(protocol.MethodChannelsStatus, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		if deps.Supervisor == nil {
			return map[string]any{"accounts": map[string]any{}}, nil
		}
		return map[string]any{"accounts": deps.Supervisor.Status()}, nil
	})
}

func registerDoctorMethods(r *MethodRouter, deps CoreDeps) {
	r.MustRegister(protocol.MethodDoctorCheck, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		return map[string]any{"checks": config.DoctorChecks(deps.Config)}, nil
	})

	r.MustRegister(protocol.MethodDoctorFix, func(ctx context.Context, _ json.RawMessage) (any, *protocol.ErrorBody) {
		fixed, err := config.DoctorFix(deps.Config)
		if err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"fixed": fixed}, nil
	})
}

package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/subagent"
	"github.com/openclaw/openclaw/pkg/protocol"
)

// NewSubagentDeps binds the spawn orchestrator to the gateway's session
// store, agent runtime, bus, and channel plugins.
func NewSubagentDeps(s *Server, deps CoreDeps) subagent.Deps {
	return subagent.Deps{
		InitializeSession: func(ctx context.Context, req subagent.InitRequest) (subagent.SessionHandle, error) {
			sessionID := uuid.NewString()
			err := deps.Sessions.Update(req.SessionKey, func(e *sessions.Entry) {
				e.SessionID = sessionID
			})
			if err != nil {
				return subagent.SessionHandle{}, fmt.Errorf("initialize child session: %w", err)
			}
			return subagent.SessionHandle{SessionID: sessionID}, nil
		},

		Bind: func(ctx context.Context, b subagent.Binding) error {
			err := deps.Sessions.Update(b.TargetSessionKey, func(e *sessions.Entry) {
				e.LastTo = b.Conversation.Channel + ":" + b.Conversation.ConversationID
			})
			if err != nil {
				return fmt.Errorf("bind child session: %w", err)
			}
			if b.Metadata.IntroText != "" && deps.Bus != nil {
				deps.Bus.PublishOutbound(bus.OutboundMessage{
					Channel:   b.Conversation.Channel,
					AccountID: b.Conversation.AccountID,
					ChatID:    b.Conversation.ConversationID,
					Content:   b.Metadata.IntroText,
				})
			}
			return nil
		},

		DispatchAgent: func(ctx context.Context, d subagent.Dispatch) error {
			// The spawn call returns before the child's first turn finishes;
			// completion surfaces as an agent event.
			go func() {
				result, err := deps.Runtime.Run(context.Background(), agent.RunRequest{
					SessionKey: d.SessionKey,
					RunID:      uuid.NewString(),
					Message:    d.Message,
					ChatID:     strings.TrimPrefix(d.To, "channel:"),
					NewSession: true,
				})
				if err != nil {
					s.BroadcastEvent(*protocol.NewEvent(protocol.EventAgent, map[string]any{
						"type": protocol.AgentEventRunFailed, "sessionKey": d.SessionKey, "error": err.Error(),
					}))
					return
				}
				if d.Deliver && deps.Bus != nil && result.Content != "" {
					deps.Bus.PublishOutbound(bus.OutboundMessage{
						ChatID:   strings.TrimPrefix(d.To, "channel:"),
						ThreadID: d.ThreadID,
						Content:  result.Content,
					})
				}
				s.BroadcastEvent(*protocol.NewEvent(protocol.EventAgent, map[string]any{
					"type": protocol.AgentEventRunCompleted, "sessionKey": d.SessionKey,
				}))
			}()
			return nil
		},

		CreateThread: func(ctx context.Context, channel, accountID, parentConversationID, title string) (string, error) {
			if deps.Channels == nil {
				return "", fmt.Errorf("no channel registry")
			}
			plugin, ok := deps.Channels.Get(channel)
			if !ok {
				return "", fmt.Errorf("channel %s not registered", channel)
			}
			creator, ok := plugin.(channels.ThreadCreator)
			if !ok {
				return "", fmt.Errorf("channel %s cannot create threads", channel)
			}
			account, err := plugin.ResolveAccount(deps.Config, accountID)
			if err != nil {
				return "", err
			}
			return creator.CreateThread(ctx, account, parentConversationID, title)
		},
	}
}

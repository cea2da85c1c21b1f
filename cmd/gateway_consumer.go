package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/webhook"
)

// consumeInbound routes channel messages through the agent runtime and
// publishes replies back to the originating channel. Webhook retries and
// long-poll double-delivery make inbound dedup mandatory.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, runtime agent.Runtime, cfg *config.Config) {
	slog.Info("inbound consumer started")
	dedupe := webhook.NewDedupCache(20*time.Minute, 5000)

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound consumer stopped")
			return
		}

		if msg.MessageID != "" {
			key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.AccountID, msg.ChatID, msg.MessageID)
			if !dedupe.CheckDedup(key, time.Now()) {
				slog.Debug("duplicate inbound skipped", "channel", msg.Channel, "message_id", msg.MessageID)
				continue
			}
		}

		go handleInbound(ctx, msgBus, runtime, cfg, msg)
	}
}

func handleInbound(ctx context.Context, msgBus *bus.MessageBus, runtime agent.Runtime, cfg *config.Config, msg bus.InboundMessage) {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = cfg.DefaultAgentID()
	}
	peerKind := msg.PeerKind
	if peerKind == "" {
		peerKind = string(sessions.PeerDirect)
	}
	accountID := msg.AccountID
	if accountID == "" {
		accountID = config.ChannelDefaultAccount
	}
	sessionKey := sessions.BuildConversationSessionKey(
		agentID, msg.Channel, accountID, sessions.PeerKind(peerKind), msg.ChatID)

	runID := fmt.Sprintf("inbound-%s-%s", msg.Channel, uuid.NewString()[:8])
	slog.Info("inbound message scheduled",
		"channel", msg.Channel, "chat_id", msg.ChatID,
		"peer_kind", peerKind, "session", sessionKey, "run_id", runID)

	result, err := runtime.Run(ctx, agent.RunRequest{
		SessionKey: sessionKey,
		RunID:      runID,
		Message:    msg.Content,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		PeerKind:   peerKind,
		SenderID:   msg.SenderID,
		MediaPaths: msg.Media,
	})

	out := bus.OutboundMessage{
		Channel:          msg.Channel,
		AccountID:        msg.AccountID,
		ChatID:           msg.ChatID,
		ThreadID:         msg.ThreadID,
		ReplyToMessageID: msg.MessageID,
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("inbound run cancelled", "session", sessionKey, "run_id", runID)
			return
		}
		slog.Error("agent run failed", "error", err, "session", sessionKey, "run_id", runID)
		out.Content = "Something went wrong handling that message. Check the gateway logs."
		msgBus.PublishOutbound(out)
		return
	}
	if result.Content == "" {
		slog.Debug("empty reply suppressed", "session", sessionKey, "run_id", runID)
		return
	}
	out.Content = result.Content
	msgBus.PublishOutbound(out)
}

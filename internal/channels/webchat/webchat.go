// Package webchat implements the built-in browser chat channel. Inbound
// messages arrive through the gateway chat methods rather than an external
// transport; outbound messages are broadcast to connected RPC clients as
// chat events.
package webchat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/pkg/protocol"
)

// Plugin is the webchat channel plugin.
type Plugin struct {
	bus *bus.MessageBus
}

func New(msgBus *bus.MessageBus) *Plugin { return &Plugin{bus: msgBus} }

func (p *Plugin) ID() string { return channels.ChannelWebchat }

func (p *Plugin) Meta() channels.Meta {
	return channels.Meta{
		Label:    "Web Chat",
		DocsPath: "channels/webchat",
		Blurb:    "Built-in browser chat over the gateway",
	}
}

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{ChatTypes: []string{"direct"}, Media: true}
}

func (p *Plugin) ListAccounts(cfg *config.Config) []string {
	return []string{config.ChannelDefaultAccount}
}

func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) (channels.ResolvedAccount, error) {
	return channels.ResolvedAccount{
		ChannelID: channels.ChannelWebchat,
		AccountID: config.ChannelDefaultAccount,
	}, nil
}

func (p *Plugin) Actions(cfg *config.Config) []string {
	return []string{channels.ActionSend, channels.ActionEdit}
}

// Inbound feeds a browser-originated message into the bus. The gateway chat
// method calls this after auth; conversationId doubles as the chat id.
func (p *Plugin) Inbound(sessionID, conversationID, content string) string {
	messageID := uuid.NewString()
	p.bus.PublishInbound(bus.InboundMessage{
		Channel:   channels.ChannelWebchat,
		AccountID: config.ChannelDefaultAccount,
		SenderID:  sessionID,
		ChatID:    conversationID,
		Content:   content,
		PeerKind:  "direct",
		MessageID: messageID,
		Metadata:  map[string]string{"receivedAt": time.Now().UTC().Format(time.RFC3339)},
	})
	return messageID
}

// NormalizeTarget accepts "webchat:<conversationId>" or a bare id.
func (p *Plugin) NormalizeTarget(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "webchat:")
}

// Send broadcasts the outbound message to RPC subscribers.
func (p *Plugin) Send(ctx context.Context, account channels.ResolvedAccount, msg bus.OutboundMessage) (channels.SentMessage, error) {
	messageID := msg.EditMessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	p.bus.Broadcast(bus.Event{
		Name: protocol.EventChat,
		Payload: map[string]interface{}{
			"type":           protocol.ChatEventMessage,
			"conversationId": p.NormalizeTarget(msg.ChatID),
			"messageId":      messageID,
			"content":        msg.Content,
			"edited":         msg.EditMessageID != "",
		},
	})
	return channels.SentMessage{MessageID: messageID}, nil
}

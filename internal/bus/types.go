package bus

import "context"

// InboundMessage represents a message received from a channel account.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Content   string            `json:"content"`
	Media     []string          `json:"media,omitempty"`
	PeerKind  string            `json:"peer_kind,omitempty"` // "direct" or "group"
	AgentID   string            `json:"agent_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to deliver over a channel account.
type OutboundMessage struct {
	Channel          string            `json:"channel"`
	AccountID        string            `json:"account_id,omitempty"`
	ChatID           string            `json:"chat_id"`
	ThreadID         string            `json:"thread_id,omitempty"`
	Content          string            `json:"content"`
	Media            []MediaAttachment `json:"media,omitempty"`
	ReplyToMessageID string            `json:"reply_to_message_id,omitempty"`
	// EditMessageID requests an in-place edit of a previously sent message
	// instead of a fresh send.
	EditMessageID string            `json:"edit_message_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment is a media file sent alongside a message.
type MediaAttachment struct {
	URL         string `json:"url"` // file path or URL
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Event is a server-side event broadcast to RPC clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription. Used by the
// gateway server and agent runtime to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}

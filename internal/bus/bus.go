// Package bus decouples channel transports from the agent runtime.
//
// Inbound handlers must stay off the transport's hot receive path: monitors
// publish into a bounded queue and return immediately. When a queue is full
// the oldest message is dropped (with a warning) rather than blocking the
// transport.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// queueSize bounds each direction of the bus. Drop-oldest on overflow.
const queueSize = 256

// MessageBus carries inbound/outbound messages and broadcast events.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// NewMessageBus creates an empty bus with bounded queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, queueSize),
		outbound:    make(chan OutboundMessage, queueSize),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound message. Never blocks: on a full queue
// the oldest message is dropped to preserve the transport hot path.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	for {
		select {
		case b.inbound <- msg:
			return
		default:
		}
		select {
		case dropped := <-b.inbound:
			slog.Warn("inbound queue full, dropping oldest",
				"channel", dropped.Channel, "chat_id", dropped.ChatID)
		default:
		}
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues an outbound message with the same drop-oldest
// policy as inbound.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	for {
		select {
		case b.outbound <- msg:
			return
		default:
		}
		select {
		case dropped := <-b.outbound:
			slog.Warn("outbound queue full, dropping oldest",
				"channel", dropped.Channel, "chat_id", dropped.ChatID)
		default:
		}
	}
}

// SubscribeOutbound blocks until a message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under an id (replacing any previous).
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to all subscribers. Handlers run on the
// caller's goroutine and must be fast; anything slow belongs on its own task.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

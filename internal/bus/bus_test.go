package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := NewMessageBus()
	b.PublishInbound(InboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" {
		t.Errorf("got %+v", msg)
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("expected ok=false on cancelled context")
	}
}

// Overflow drops the oldest message, never blocks the publisher.
func TestPublishInboundDropOldest(t *testing.T) {
	b := NewMessageBus()
	total := queueSize + 10
	for i := 0; i < total; i++ {
		b.PublishInbound(InboundMessage{Channel: "web", ChatID: fmt.Sprintf("%d", i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	// The oldest surviving message is the one after the dropped prefix.
	if msg.ChatID != "10" {
		t.Errorf("expected first surviving message 10, got %s", msg.ChatID)
	}
}

func TestBroadcastFanout(t *testing.T) {
	b := NewMessageBus()
	got := make(map[string]string)
	b.Subscribe("a", func(e Event) { got["a"] = e.Name })
	b.Subscribe("b", func(e Event) { got["b"] = e.Name })

	b.Broadcast(Event{Name: "health"})

	if got["a"] != "health" || got["b"] != "health" {
		t.Errorf("fanout incomplete: %v", got)
	}

	b.Unsubscribe("b")
	b.Broadcast(Event{Name: "tick"})
	if got["b"] != "health" {
		t.Error("unsubscribed handler still invoked")
	}
}

package webchat

import (
	"context"
	"testing"
	"time"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/pkg/protocol"
)

func TestInboundReachesBus(t *testing.T) {
	msgBus := bus.NewMessageBus()
	p := New(msgBus)

	id := p.Inbound("sess-1", "conv-1", "hello")
	if id == "" {
		t.Fatal("empty message id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.Channel != "webchat" || msg.ChatID != "conv-1" || msg.Content != "hello" {
		t.Errorf("inbound = %+v", msg)
	}
}

func TestSendBroadcastsChatEvent(t *testing.T) {
	msgBus := bus.NewMessageBus()
	p := New(msgBus)

	events := make(chan bus.Event, 1)
	msgBus.Subscribe("test", func(ev bus.Event) { events <- ev })

	account, err := p.ResolveAccount(nil, "default")
	if err != nil {
		t.Fatal(err)
	}
	sent, err := p.Send(context.Background(), account, bus.OutboundMessage{
		ChatID:  "webchat:conv-9",
		Content: "reply",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sent.MessageID == "" {
		t.Error("send should mint a message id")
	}

	select {
	case ev := <-events:
		if ev.Name != protocol.EventChat {
			t.Errorf("event name = %q", ev.Name)
		}
		payload := ev.Payload.(map[string]interface{})
		if payload["conversationId"] != "conv-9" {
			t.Errorf("conversationId = %v", payload["conversationId"])
		}
	case <-time.After(time.Second):
		t.Fatal("no chat event broadcast")
	}
}

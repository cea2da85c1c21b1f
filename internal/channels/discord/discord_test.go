package discord

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/internal/channels"
)

func TestDecodeAccountRequiresToken(t *testing.T) {
	account := channels.ResolvedAccount{AccountID: "default", Raw: json.RawMessage(`{}`)}
	if _, err := decodeAccount(account); err == nil {
		t.Error("expected error for missing botToken")
	}
}

func TestIsDisallowedIntents(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"close code 4014", &websocket.CloseError{Code: closeCodeDisallowedIntents}, true},
		{"other close code", &websocket.CloseError{Code: 4000}, false},
		{"wrapped close code", fmt.Errorf("open: %w", &websocket.CloseError{Code: 4014}), true},
		{"text match", errors.New("websocket: disallowed intents"), true},
		{"unrelated", errors.New("dial tcp: timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDisallowedIntents(tt.err); got != tt.want {
				t.Errorf("isDisallowedIntents(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNormalizeTarget(t *testing.T) {
	p := New()
	tests := []struct{ in, want string }{
		{"discord:123", "123"},
		{"channel:456", "456"},
		{" 789 ", "789"},
	}
	for _, tt := range tests {
		if got := p.NormalizeTarget(tt.in); got != tt.want {
			t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMentionsBot(t *testing.T) {
	e := &discordgo.MessageCreate{Message: &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "bot-1"}},
	}}
	if !mentionsBot(e, "bot-1") {
		t.Error("direct mention missed")
	}
	reply := &discordgo.MessageCreate{Message: &discordgo.Message{
		ReferencedMessage: &discordgo.Message{Author: &discordgo.User{ID: "bot-1"}},
	}}
	if !mentionsBot(reply, "bot-1") {
		t.Error("reply-to-bot should count as mention")
	}
	if mentionsBot(&discordgo.MessageCreate{Message: &discordgo.Message{}}, "bot-1") {
		t.Error("no mention should not match")
	}
}

func TestSplitChunksRespectsLimit(t *testing.T) {
	chunks := splitChunks(strings.Repeat("line\n", 900), maxMessageLen)
	for i, c := range chunks {
		if len(c) > maxMessageLen {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
	}
	if got := strings.Join(chunks, ""); len(got) != 4500 {
		t.Errorf("content lost in chunking: %d", len(got))
	}
}

func TestMonitorFailKeepsFirstError(t *testing.T) {
	m := &monitor{fatal: make(chan error, 1)}
	first := errors.New("first")
	m.fail(first)
	m.fail(errors.New("second"))
	if got := <-m.fatal; got != first {
		t.Errorf("fatal = %v, want first error", got)
	}
}

package telegram

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/openclaw/openclaw/internal/channels"
)

func accountFixture(raw string) channels.ResolvedAccount {
	return channels.ResolvedAccount{
		ChannelID: channels.ChannelTelegram,
		AccountID: "default",
		Raw:       json.RawMessage(raw),
	}
}

func TestSplitChunksPrefersNewlineBreaks(t *testing.T) {
	content := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
	chunks := splitChunks(content, 100)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Error("first chunk should break at the newline")
	}
	if got := chunks[0] + chunks[1]; got != content {
		t.Error("chunks do not reassemble the original content")
	}
}

func TestSplitChunksHardBreakWithoutNewline(t *testing.T) {
	content := strings.Repeat("x", 250)
	chunks := splitChunks(content, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
	}
}

func TestNormalizeTarget(t *testing.T) {
	p := New()
	tests := []struct{ in, want string }{
		{"telegram:12345", "12345"},
		{" -100987 ", "-100987"},
		{"@claw_bot", "@claw_bot"},
	}
	for _, tt := range tests {
		if got := p.NormalizeTarget(tt.in); got != tt.want {
			t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("@claw_bot restart the job", "claw_bot"); got != "restart the job" {
		t.Errorf("stripMention = %q", got)
	}
	if got := stripMention("plain text", ""); got != "plain text" {
		t.Errorf("stripMention with no bot = %q", got)
	}
}

func TestDecodeAccountRequiresToken(t *testing.T) {
	if _, err := decodeAccount(accountFixture(`{"botToken": ""}`)); err == nil {
		t.Error("expected error for missing botToken")
	}
	ac, err := decodeAccount(accountFixture(`{"botToken": "123:abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ac.BotToken != "123:abc" {
		t.Errorf("token = %q", ac.BotToken)
	}
}

package feishu

import (
	"encoding/json"
	"log/slog"
	"testing"
)

func messageEvent(raw string) *MessageEvent {
	var ev MessageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		panic(err)
	}
	return &ev
}

func TestParseTextStripsMentions(t *testing.T) {
	ev := messageEvent(`{
		"message": {
			"message_type": "text",
			"content": "{\"text\":\"@_user_1 run the deploy\"}",
			"mentions": [{"key": "@_user_1", "id": {"open_id": "ou_bot"}, "name": "claw"}]
		}
	}`)
	if got := ev.ParseText(); got != "run the deploy" {
		t.Errorf("ParseText = %q", got)
	}
}

func TestParseTextPost(t *testing.T) {
	ev := messageEvent(`{
		"message": {
			"message_type": "post",
			"content": "{\"title\":\"Report\",\"content\":[[{\"tag\":\"text\",\"text\":\"line one\"}],[{\"tag\":\"text\",\"text\":\"line two\"}]]}"
		}
	}`)
	want := "Report\nline one\nline two"
	if got := ev.ParseText(); got != want {
		t.Errorf("ParseText = %q, want %q", got, want)
	}
}

func TestMentionsBot(t *testing.T) {
	ev := messageEvent(`{
		"message": {
			"message_type": "text",
			"content": "{\"text\":\"hi\"}",
			"mentions": [{"key": "@_user_1", "id": {"open_id": "ou_bot"}}]
		}
	}`)
	if !ev.MentionsBot("ou_bot") {
		t.Error("bot mention missed")
	}
	if ev.MentionsBot("ou_other") {
		t.Error("wrong open_id matched")
	}
	if ev.MentionsBot("") {
		t.Error("empty bot open_id must never match")
	}
}

func TestFilterReaction(t *testing.T) {
	logger := slog.Default()
	own := func(id string) bool { return id == "om_mine" }

	base := func() *ReactionEvent {
		var ev ReactionEvent
		ev.MessageID = "om_mine"
		ev.UserID.OpenID = "ou_user"
		ev.ReactionType.EmojiType = "THUMBSUP"
		return &ev
	}

	if !FilterReaction(base(), "ou_bot", own, logger) {
		t.Error("valid reaction filtered out")
	}

	typing := base()
	typing.ReactionType.EmojiType = "Typing"
	if FilterReaction(typing, "ou_bot", own, logger) {
		t.Error("Typing emoji must be suppressed")
	}

	if FilterReaction(base(), "", own, logger) {
		t.Error("unresolved bot open_id must drop the event")
	}

	selfReact := base()
	selfReact.UserID.OpenID = "ou_bot"
	if FilterReaction(selfReact, "ou_bot", own, logger) {
		t.Error("bot's own reaction must be dropped")
	}

	other := base()
	other.MessageID = "om_theirs"
	if FilterReaction(other, "ou_bot", own, logger) {
		t.Error("reaction on a foreign message must be dropped")
	}
}

func TestIsMessageGone(t *testing.T) {
	if !IsMessageGone(&APIError{Code: CodeMessageNotFound}) {
		t.Error("230011 should mean message gone")
	}
	if !IsMessageGone(&APIError{Code: CodeMessageWithdrawn}) {
		t.Error("231003 should mean message gone")
	}
	if IsMessageGone(&APIError{Code: 99991663}) {
		t.Error("token error is not message-gone")
	}
	if IsMessageGone(nil) {
		t.Error("nil error is not message-gone")
	}
}

func TestResolveReceiveIDType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ou_abc123", "open_id"},
		{"on_abc123", "union_id"},
		{"oc_abc123", "chat_id"},
	}
	for _, tt := range tests {
		if got := resolveReceiveIDType(tt.in); got != tt.want {
			t.Errorf("resolveReceiveIDType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveDomain(t *testing.T) {
	if got := resolveDomain(""); got != domainFeishu {
		t.Errorf("default domain = %q", got)
	}
	if got := resolveDomain("lark"); got != domainLark {
		t.Errorf("lark domain = %q", got)
	}
	if got := resolveDomain("https://example.test"); got != "https://example.test" {
		t.Errorf("custom domain = %q", got)
	}
}

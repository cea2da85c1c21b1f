package acp_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openclaw/openclaw/internal/acp"
	"github.com/openclaw/openclaw/internal/channels/feishu"
)

type sentMessage struct {
	Conversation string
	Text         string
	ID           string
}

type editCall struct {
	MessageID string
	Text      string
}

type fakeSender struct {
	sends    []sentMessage
	edits    []editCall
	editErrs map[string]error // messageID → error for next edit
	nextID   int
}

func (f *fakeSender) Send(ctx context.Context, conversationID, text string) (string, error) {
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sends = append(f.sends, sentMessage{Conversation: conversationID, Text: text, ID: id})
	return id, nil
}

func (f *fakeSender) Edit(ctx context.Context, conversationID, messageID, text string) error {
	if err, ok := f.editErrs[messageID]; ok {
		delete(f.editErrs, messageID)
		return err
	}
	f.edits = append(f.edits, editCall{MessageID: messageID, Text: text})
	return nil
}

func newTestCoordinator(sender acp.Sender) *acp.Coordinator {
	return acp.NewCoordinator(sender, acp.Options{
		AccountID:      "default",
		ConversationID: "conv-1",
		MessageGone:    feishu.IsMessageGone,
	})
}

func TestToolUpdatesEditTheSameMessage(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	events := []acp.Event{
		{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "running tests", AllowEdit: true},
		{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "tests passed", AllowEdit: true},
		{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "done", AllowEdit: true},
	}
	for _, ev := range events {
		if err := c.HandleEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	if len(sender.sends) != 1 {
		t.Fatalf("sends = %d, want exactly 1 created message per tool call", len(sender.sends))
	}
	if len(sender.edits) != 2 {
		t.Fatalf("edits = %d, want 2", len(sender.edits))
	}
	for _, e := range sender.edits {
		if e.MessageID != sender.sends[0].ID {
			t.Errorf("edit targeted %q, want %q", e.MessageID, sender.sends[0].ID)
		}
	}
}

func TestGoneEditTargetCreatesExactlyOneReplacement(t *testing.T) {
	sender := &fakeSender{editErrs: map[string]error{}}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "step 1", AllowEdit: true}); err != nil {
		t.Fatal(err)
	}
	firstID := sender.sends[0].ID

	// The target was withdrawn between updates.
	sender.editErrs[firstID] = &feishu.APIError{Code: feishu.CodeMessageWithdrawn}
	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "step 2", AllowEdit: true}); err != nil {
		t.Fatal(err)
	}

	if len(sender.sends) != 2 {
		t.Fatalf("sends = %d, want one original plus one replacement", len(sender.sends))
	}
	replacementID := sender.sends[1].ID

	// The replacement id takes over the cache: later updates edit it.
	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "step 3", AllowEdit: true}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sends) != 2 {
		t.Fatalf("sends grew to %d after replacement was cached", len(sender.sends))
	}
	last := sender.edits[len(sender.edits)-1]
	if last.MessageID != replacementID {
		t.Errorf("post-replacement edit targeted %q, want %q", last.MessageID, replacementID)
	}
}

func TestNonGoneEditErrorPropagates(t *testing.T) {
	sender := &fakeSender{editErrs: map[string]error{}}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "a", AllowEdit: true}); err != nil {
		t.Fatal(err)
	}
	rateErr := &feishu.APIError{Code: 99991400}
	sender.editErrs[sender.sends[0].ID] = rateErr

	err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "b", AllowEdit: true})
	if err == nil {
		t.Fatal("expected the edit error to surface")
	}
	var apiErr *feishu.APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("error %v does not wrap the api error", err)
	}
	if len(sender.sends) != 1 {
		t.Error("non-gone edit failure must not create a replacement message")
	}
}

func TestRepeatedToolPayloadSuppressed(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindTool, ToolCallID: "tc-1", Text: "same payload", AllowEdit: true}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sender.sends) != 1 || len(sender.edits) != 0 {
		t.Errorf("sends = %d, edits = %d; identical payloads should be dropped", len(sender.sends), len(sender.edits))
	}
}

func TestFinalOnlyBuffersTextUntilTerminal(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	chunks := []string{"The fix ", "is in ", "the parser."}
	for _, chunk := range chunks {
		if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindText, Text: chunk}); err != nil {
			t.Fatal(err)
		}
		if len(sender.sends) != 0 {
			t.Fatal("text delivered before the terminal event")
		}
	}
	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindText, Terminal: true}); err != nil {
		t.Fatal(err)
	}

	if len(sender.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sender.sends))
	}
	if got := sender.sends[0].Text; got != "The fix is in the parser." {
		t.Errorf("flushed text = %q", got)
	}

	// A second flush is a no-op.
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sender.sends) != 1 {
		t.Error("flush ran twice")
	}
}

func TestHiddenMetaTagsDropped(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	for _, tag := range []string{acp.TagUsageUpdate, acp.TagAvailableCommandsUpdate} {
		if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindMeta, Tag: tag, Text: "noise"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sender.sends) != 0 {
		t.Errorf("hidden meta tags produced %d sends", len(sender.sends))
	}

	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindMeta, Tag: "plan_update", Text: "Plan: 3 steps"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sends) != 1 {
		t.Errorf("visible meta tag suppressed; sends = %d", len(sender.sends))
	}
}

func TestDirectiveOnlyTurnSendsBlankedMessage(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender)
	ctx := context.Background()

	if err := c.HandleEvent(ctx, acp.Event{Kind: acp.KindText, Text: "[[reply_to_current]]", Terminal: true}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sends) != 1 {
		t.Fatalf("sends = %d; a directive-only turn still produces a message", len(sender.sends))
	}
	if sender.sends[0].Text != "" {
		t.Errorf("directive text leaked: %q", sender.sends[0].Text)
	}
}

func TestStripDirectiveTags(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[[reply_to_current]]", ""},
		{"[[reply_to_current]] done", "done"},
		{"plain text", "plain text"},
		{"see [docs](x)", "see [docs](x)"},
	}
	for _, tt := range tests {
		if got := acp.StripDirectiveTags(tt.in); got != tt.want {
			t.Errorf("acp.StripDirectiveTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

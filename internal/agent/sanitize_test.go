package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/openclaw/openclaw/internal/providers"
)

func spawnMessage(args map[string]interface{}) providers.Message {
	return providers.Message{
		Role: "assistant",
		ToolCalls: []providers.ToolCall{
			{ID: "tc-1", Name: "sessions_spawn", Arguments: args},
		},
	}
}

func TestSanitizeToolCallInputsRedactsAttachments(t *testing.T) {
	msgs := []providers.Message{spawnMessage(map[string]interface{}{
		"task": "summarize",
		"attachments": []interface{}{
			map[string]interface{}{"name": "notes.txt", "content": "SUPER_SECRET"},
		},
	})}

	out := SanitizeToolCallInputs(msgs)

	got := out[0].ToolCalls[0].Arguments["attachments"].([]interface{})[0].(map[string]interface{})
	if got["content"] != RedactedPlaceholder {
		t.Errorf("content = %v, want %q", got["content"], RedactedPlaceholder)
	}
	if got["name"] != "notes.txt" {
		t.Errorf("sibling field clobbered: %v", got["name"])
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "SUPER_SECRET") {
		t.Error("serialized transcript still contains the attachment payload")
	}

	// The caller's messages stay intact; only the transcript copy is redacted.
	orig := msgs[0].ToolCalls[0].Arguments["attachments"].([]interface{})[0].(map[string]interface{})
	if orig["content"] != "SUPER_SECRET" {
		t.Errorf("original mutated: %v", orig["content"])
	}
}

func TestSanitizeToolCallInputsRedactsNestedInputShape(t *testing.T) {
	msgs := []providers.Message{spawnMessage(map[string]interface{}{
		"input": map[string]interface{}{
			"attachments": []interface{}{
				map[string]interface{}{"content": "SUPER_SECRET"},
			},
		},
	})}

	out := SanitizeToolCallInputs(msgs)
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "SUPER_SECRET") {
		t.Error("input.attachments content not redacted")
	}
	if !strings.Contains(string(raw), RedactedPlaceholder) {
		t.Error("placeholder missing from redacted transcript")
	}
}

func TestSanitizeToolCallInputsLeavesOtherToolsAlone(t *testing.T) {
	msgs := []providers.Message{{
		Role: "assistant",
		ToolCalls: []providers.ToolCall{{
			ID:   "tc-2",
			Name: "read_file",
			Arguments: map[string]interface{}{
				"attachments": []interface{}{
					map[string]interface{}{"content": "keep me"},
				},
			},
		}},
	}}

	out := SanitizeToolCallInputs(msgs)
	got := out[0].ToolCalls[0].Arguments["attachments"].([]interface{})[0].(map[string]interface{})
	if got["content"] != "keep me" {
		t.Errorf("non-spawn tool call redacted: %v", got["content"])
	}
}

func TestSanitizeAssistantContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "hello there", "hello there"},
		{"thinking tags stripped", "<thinking>plan</thinking>answer", "answer"},
		{"final tags unwrapped", "<final>the reply</final>", "the reply"},
		{"garbled tool xml dropped", `<tool_call>{"name":"x"}</tool_call>`, ""},
		{"duplicate blocks collapsed", "same\n\nsame\n\nnext", "same\n\nnext"},
		{"media lines stripped", "caption\nMEDIA:/tmp/pic.png", "caption"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAssistantContent(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeStripsEchoedSystemMessages(t *testing.T) {
	in := "[System Message] from queue\nStats: 3 pending\n\nactual reply"
	if got := SanitizeAssistantContent(in); got != "actual reply" {
		t.Errorf("got %q", got)
	}
}

func TestIsSilentReply(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"NO_REPLY", true},
		{"  NO_REPLY  ", true},
		{"NO_REPLY.", true},
		{"ok NO_REPLY", true},
		{"NO_REPLYING", false},
		{"reply", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSilentReply(tt.in); got != tt.want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/openclaw/internal/providers"
	"github.com/openclaw/openclaw/internal/sessions"
)

// RedactedPlaceholder replaces attachment payloads in persisted transcripts.
const RedactedPlaceholder = "__OPENCLAW_REDACTED__"

// spawnToolName is the tool whose attachment contents never reach disk.
const spawnToolName = "sessions_spawn"

type transcriptLine struct {
	At      int64             `json:"at"`
	Message providers.Message `json:"message"`
}

// writeTranscript appends the turn's messages to the session transcript,
// one JSON object per line, after redacting spawn attachments.
func (r *Runner) writeTranscript(sessionKey string, msgs []providers.Message) {
	if r.transcriptDir == "" {
		return
	}
	path := filepath.Join(r.transcriptDir, transcriptFileName(sessionKey))
	if err := os.MkdirAll(r.transcriptDir, 0o755); err != nil {
		slog.Warn("transcript dir create failed", "dir", r.transcriptDir, "error", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Warn("transcript open failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	now := time.Now().UnixMilli()
	enc := json.NewEncoder(f)
	for _, msg := range SanitizeToolCallInputs(msgs) {
		if err := enc.Encode(transcriptLine{At: now, Message: msg}); err != nil {
			slog.Warn("transcript write failed", "path", path, "error", err)
			return
		}
	}

	if r.sessions != nil {
		if e := r.sessions.Get(sessionKey); e == nil || e.TranscriptPath != path {
			err := r.sessions.Update(sessionKey, func(e *sessions.Entry) { e.TranscriptPath = path })
			if err != nil {
				slog.Warn("transcript path persist failed", "session", sessionKey, "error", err)
			}
		}
	}
}

func transcriptFileName(sessionKey string) string {
	var b strings.Builder
	for _, r := range sessionKey {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String() + ".jsonl"
}

// SanitizeToolCallInputs returns a deep-ish copy of msgs in which every
// sessions_spawn tool call has its attachment contents replaced with
// RedactedPlaceholder. Both the top-level attachments array and the nested
// input.attachments shape are covered; the originals are left untouched.
func SanitizeToolCallInputs(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if len(out[i].ToolCalls) == 0 {
			continue
		}
		calls := make([]providers.ToolCall, len(out[i].ToolCalls))
		copy(calls, out[i].ToolCalls)
		for j, tc := range calls {
			if tc.Name != spawnToolName || tc.Arguments == nil {
				continue
			}
			args := redactAttachments(tc.Arguments)
			if input, ok := args["input"].(map[string]interface{}); ok {
				args["input"] = redactAttachments(input)
			}
			calls[j].Arguments = args
		}
		out[i].ToolCalls = calls
	}
	return out
}

// redactAttachments copies m, replacing the content field of every entry in
// its attachments array.
func redactAttachments(m map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	raw, ok := cp["attachments"].([]interface{})
	if !ok {
		return cp
	}
	attachments := make([]interface{}, len(raw))
	for i, a := range raw {
		entry, ok := a.(map[string]interface{})
		if !ok {
			attachments[i] = a
			continue
		}
		entryCp := make(map[string]interface{}, len(entry))
		for k, v := range entry {
			entryCp[k] = v
		}
		if _, has := entryCp["content"]; has {
			entryCp["content"] = RedactedPlaceholder
		}
		attachments[i] = entryCp
	}
	cp["attachments"] = attachments
	return cp
}

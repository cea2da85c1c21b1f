package channels

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/openclaw/openclaw/internal/config"
)

// Group policy modes.
const (
	GroupPolicyOpen      = "open"
	GroupPolicyAllowlist = "allowlist"
	GroupPolicyDisabled  = "disabled"
)

// Policy denial reasons, surfaced in logs only; denied messages are dropped
// silently at the channel edge.
const (
	DenyGroupPolicyDisabled   = "group-policy-disabled"
	DenyGroupNotAllowed       = "group-chat-not-allowed"
	DenyAllowlistEmpty        = "group-policy-allowlist-empty"
	DenyAllowlistUnauthorized = "group-policy-allowlist-unauthorized"
)

// Sender identifies who sent a message, with every handle the channel knows.
type Sender struct {
	ID       string
	Username string
	E164     string
	Name     string
}

// PolicyInput is one policy evaluation request.
type PolicyInput struct {
	Config    *config.Config
	Channel   string
	GroupID   string
	AccountID string
	IsGroup   bool
	Sender    Sender
	// RequireMentionOverride is the channel-level default applied when
	// neither the group nor the channel config pins requireMention.
	RequireMentionOverride *bool
}

// PolicyDecision is the evaluator's verdict.
type PolicyDecision struct {
	Allow          bool
	Reason         string // denial reason when !Allow
	RequireMention bool   // meaningful only when Allow && IsGroup
	Tools          []string
}

// deprecatedKeyWarnings dedupes the unprefixed-allowFrom warning per key.
var deprecatedKeyWarnings sync.Map

// EvaluatePolicy applies the group/DM decision table. Top match wins.
func EvaluatePolicy(in PolicyInput) PolicyDecision {
	ch := in.Config.Channels[in.Channel]
	mode := ch.GroupPolicy
	if mode == "" {
		if len(ch.Groups) > 0 {
			mode = GroupPolicyAllowlist
		} else {
			mode = GroupPolicyOpen
		}
	}

	if in.IsGroup && mode == GroupPolicyDisabled {
		return PolicyDecision{Reason: DenyGroupPolicyDisabled}
	}
	if mode == GroupPolicyOpen {
		return PolicyDecision{Allow: true, RequireMention: resolveRequireMention(nil, ch, in)}
	}

	// Allowlist mode. DMs are governed by the DM path, not group policy.
	if !in.IsGroup {
		return PolicyDecision{Allow: true}
	}

	gc, found := resolveGroupConfig(ch, in.GroupID)
	if !found {
		return PolicyDecision{Reason: DenyGroupNotAllowed}
	}

	allowFrom := gc.AllowFrom
	if len(allowFrom) == 0 {
		allowFrom = ch.AllowFrom
	}
	if len(allowFrom) == 0 {
		return PolicyDecision{Reason: DenyAllowlistEmpty}
	}
	if !SenderMatches(in.Sender, allowFrom) {
		return PolicyDecision{Reason: DenyAllowlistUnauthorized}
	}

	dec := PolicyDecision{
		Allow:          true,
		RequireMention: resolveRequireMention(&gc, ch, in),
		Tools:          gc.Tools,
	}
	if senderTools, ok := toolsForSender(gc, in.Sender); ok {
		dec.Tools = senderTools
	}
	return dec
}

// resolveRequireMention resolves the requireMention chain:
// group config, then channel config, then the channel override, then true.
func resolveRequireMention(gc *config.GroupConfig, ch config.ChannelConfig, in PolicyInput) bool {
	if gc != nil && gc.RequireMention != nil {
		return *gc.RequireMention
	}
	if ch.RequireMention != nil {
		return *ch.RequireMention
	}
	if in.RequireMentionOverride != nil {
		return *in.RequireMentionOverride
	}
	return true
}

// resolveGroupConfig finds the group record by exact id (case-insensitive),
// falling back to the "*" wildcard entry.
func resolveGroupConfig(ch config.ChannelConfig, groupID string) (config.GroupConfig, bool) {
	if gc, ok := ch.Groups[groupID]; ok {
		return gc, true
	}
	lowered := strings.ToLower(groupID)
	for id, gc := range ch.Groups {
		if id != "*" && strings.ToLower(id) == lowered {
			return gc, true
		}
	}
	if gc, ok := ch.Groups["*"]; ok {
		return gc, true
	}
	return config.GroupConfig{}, false
}

// SenderMatches reports whether the sender matches any allowlist entry.
// Entries may carry a typed prefix (id:, e164:, username:, name:) or be "*".
// Unprefixed entries match as id: for back-compat, with a one-time
// deprecation warning per entry.
func SenderMatches(sender Sender, allowFrom []string) bool {
	for _, raw := range allowFrom {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		kind, value := splitSenderKey(entry)
		if kind == "" {
			if _, warned := deprecatedKeyWarnings.LoadOrStore(entry, true); !warned {
				slog.Warn("unprefixed allowFrom entry matched as id:, add a typed prefix",
					"entry", entry)
			}
			kind, value = "id", entry
		}
		if matchSenderKey(sender, kind, value) {
			return true
		}
	}
	return false
}

func splitSenderKey(entry string) (kind, value string) {
	idx := strings.Index(entry, ":")
	if idx <= 0 {
		return "", entry
	}
	kind = strings.ToLower(entry[:idx])
	switch kind {
	case "id", "e164", "username", "name":
		return kind, entry[idx+1:]
	}
	return "", entry
}

func matchSenderKey(sender Sender, kind, value string) bool {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	switch kind {
	case "id":
		return norm(value) == norm(sender.ID)
	case "e164":
		return norm(value) == norm(sender.E164)
	case "username":
		want := strings.TrimPrefix(norm(value), "@")
		got := strings.TrimPrefix(norm(sender.Username), "@")
		return want != "" && want == got
	case "name":
		return norm(value) != "" && norm(value) == norm(sender.Name)
	}
	return false
}

// toolsForSender resolves the per-sender tool override, keyed the same way
// as allowFrom entries.
func toolsForSender(gc config.GroupConfig, sender Sender) ([]string, bool) {
	for key, tools := range gc.ToolsBySender {
		kind, value := splitSenderKey(key)
		if kind == "" {
			kind, value = "id", key
		}
		if matchSenderKey(sender, kind, value) {
			return tools, true
		}
	}
	return nil, false
}

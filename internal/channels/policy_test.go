package channels

import (
	"testing"

	"github.com/openclaw/openclaw/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func policyConfig(groupPolicy string, groups map[string]config.GroupConfig) *config.Config {
	cfg := config.Default()
	cfg.Channels = map[string]config.ChannelConfig{
		"telegram": {
			Enabled:     boolPtr(true),
			GroupPolicy: groupPolicy,
			Groups:      groups,
		},
	}
	return cfg
}

func TestEvaluatePolicyDecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *config.Config
		in         PolicyInput
		wantAllow  bool
		wantReason string
	}{
		{
			name:       "disabled denies groups",
			cfg:        policyConfig("disabled", nil),
			in:         PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100"},
			wantReason: DenyGroupPolicyDisabled,
		},
		{
			name:      "disabled still allows DMs",
			cfg:       policyConfig("disabled", nil),
			in:        PolicyInput{Channel: "telegram", IsGroup: false},
			wantAllow: true,
		},
		{
			name:      "open allows everyone",
			cfg:       policyConfig("open", nil),
			in:        PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100", Sender: Sender{ID: "9"}},
			wantAllow: true,
		},
		{
			name:       "allowlist unknown group",
			cfg:        policyConfig("allowlist", map[string]config.GroupConfig{"-200": {}}),
			in:         PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100"},
			wantReason: DenyGroupNotAllowed,
		},
		{
			name:       "allowlist with empty allowFrom",
			cfg:        policyConfig("allowlist", map[string]config.GroupConfig{"-100": {}}),
			in:         PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100", Sender: Sender{ID: "9"}},
			wantReason: DenyAllowlistEmpty,
		},
		{
			name: "allowlist unauthorized sender",
			cfg: policyConfig("allowlist", map[string]config.GroupConfig{
				"-100": {AllowFrom: []string{"id:42"}},
			}),
			in:         PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100", Sender: Sender{ID: "9"}},
			wantReason: DenyAllowlistUnauthorized,
		},
		{
			name: "allowlist authorized sender",
			cfg: policyConfig("allowlist", map[string]config.GroupConfig{
				"-100": {AllowFrom: []string{"id:42"}},
			}),
			in:        PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-100", Sender: Sender{ID: "42"}},
			wantAllow: true,
		},
		{
			name: "wildcard group fallback",
			cfg: policyConfig("allowlist", map[string]config.GroupConfig{
				"*": {AllowFrom: []string{"*"}},
			}),
			in:        PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-999", Sender: Sender{ID: "7"}},
			wantAllow: true,
		},
		{
			name: "implicit allowlist when groups present",
			cfg: policyConfig("", map[string]config.GroupConfig{
				"-100": {AllowFrom: []string{"id:42"}},
			}),
			in:         PolicyInput{Channel: "telegram", IsGroup: true, GroupID: "-300"},
			wantReason: DenyGroupNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Config = tt.cfg
			got := EvaluatePolicy(tt.in)
			if got.Allow != tt.wantAllow {
				t.Errorf("Allow = %v, want %v (reason %q)", got.Allow, tt.wantAllow, got.Reason)
			}
			if !tt.wantAllow && got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestRequireMentionChain(t *testing.T) {
	groups := map[string]config.GroupConfig{
		"pinned":   {AllowFrom: []string{"*"}, RequireMention: boolPtr(false)},
		"unpinned": {AllowFrom: []string{"*"}},
	}
	cfg := policyConfig("allowlist", groups)

	in := PolicyInput{Config: cfg, Channel: "telegram", IsGroup: true, GroupID: "pinned", Sender: Sender{ID: "1"}}
	if dec := EvaluatePolicy(in); dec.RequireMention {
		t.Error("group-level requireMention=false ignored")
	}

	in.GroupID = "unpinned"
	if dec := EvaluatePolicy(in); !dec.RequireMention {
		t.Error("default requireMention should be true")
	}

	in.RequireMentionOverride = boolPtr(false)
	if dec := EvaluatePolicy(in); dec.RequireMention {
		t.Error("channel override not honored when group is silent")
	}
}

func TestSenderMatchesTypedKeys(t *testing.T) {
	sender := Sender{ID: "42", Username: "Ada", E164: "+15550001111", Name: "Ada Lovelace"}
	tests := []struct {
		entry string
		want  bool
	}{
		{"id:42", true},
		{"id:43", false},
		{"username:@ada", true},
		{"username:ada", true},
		{"e164:+15550001111", true},
		{"name:ada lovelace", true},
		{"42", true}, // unprefixed matches as id:
		{"ada", false},
		{"*", true},
	}
	for _, tt := range tests {
		if got := SenderMatches(sender, []string{tt.entry}); got != tt.want {
			t.Errorf("SenderMatches(%q) = %v, want %v", tt.entry, got, tt.want)
		}
	}
}

func TestToolsBySenderOverride(t *testing.T) {
	cfg := policyConfig("allowlist", map[string]config.GroupConfig{
		"-100": {
			AllowFrom:     []string{"*"},
			Tools:         []string{"search"},
			ToolsBySender: map[string][]string{"id:42": {"search", "exec"}},
		},
	})
	in := PolicyInput{Config: cfg, Channel: "telegram", IsGroup: true, GroupID: "-100", Sender: Sender{ID: "42"}}
	dec := EvaluatePolicy(in)
	if len(dec.Tools) != 2 {
		t.Errorf("per-sender tools not applied: %v", dec.Tools)
	}
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseJSON5Tolerance(t *testing.T) {
	raw := []byte(`{
		// hand-edited config with comments and trailing commas
		gateway: {
			bind: "lan",
			auth: { mode: "token", token: "tok", },
		},
	}`)
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Bind != "lan" || cfg.Gateway.Auth.Token != "tok" {
		t.Errorf("parsed config mismatch: %+v", cfg.Gateway)
	}
	if cfg.Gateway.GatewayPort() != 18789 {
		t.Errorf("default port = %d", cfg.Gateway.GatewayPort())
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Bind != "loopback" || cfg.Gateway.Port != 18789 {
		t.Errorf("defaults mismatch: %+v", cfg.Gateway)
	}
}

func TestLoadMalformedFailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	if err := os.WriteFile(path, []byte("{bind:"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// A LAN bind with no configured origins gets the localhost origins seeded so
// the local control UI keeps working.
func TestMigrateSeedsControlUIOrigins(t *testing.T) {
	cfg, err := Parse([]byte(`{gateway: {bind: "lan", auth: {mode: "token", token: "tok"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	changes := Migrate(cfg)

	want := []string{"http://localhost:18789", "http://127.0.0.1:18789"}
	if !reflect.DeepEqual(cfg.Gateway.ControlUI.AllowedOrigins, want) {
		t.Errorf("allowedOrigins = %v, want %v", cfg.Gateway.ControlUI.AllowedOrigins, want)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want exactly one", changes)
	}
	if !strings.Contains(changes[0], "gateway.controlUi.allowedOrigins") ||
		!strings.Contains(changes[0], "bind=lan") {
		t.Errorf("change line %q should name the field and bind mode", changes[0])
	}
}

func TestMigrateRespectsExplicitOrigins(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Bind = "lan"
	cfg.Gateway.ControlUI.AllowedOrigins = []string{"https://claw.example.com"}
	if changes := Migrate(cfg); len(changes) != 0 {
		t.Errorf("unexpected changes: %v", changes)
	}
	if len(cfg.Gateway.ControlUI.AllowedOrigins) != 1 {
		t.Errorf("explicit origins were touched: %v", cfg.Gateway.ControlUI.AllowedOrigins)
	}
}

func TestMigrateSkipsLoopbackBind(t *testing.T) {
	cfg := Default()
	if changes := Migrate(cfg); len(changes) != 0 {
		t.Errorf("loopback bind should not be migrated: %v", changes)
	}
	if cfg.Gateway.ControlUI.AllowedOrigins != nil {
		t.Errorf("origins seeded on loopback: %v", cfg.Gateway.ControlUI.AllowedOrigins)
	}
}

func TestMigrateCustomBindIncludesHostOrigin(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Bind = "custom"
	cfg.Gateway.CustomBindHost = "10.0.0.5"
	cfg.Gateway.Port = 9000
	Migrate(cfg)
	got := cfg.Gateway.ControlUI.AllowedOrigins
	want := []string{"http://localhost:9000", "http://127.0.0.1:9000", "http://10.0.0.5:9000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("allowedOrigins = %v, want %v", got, want)
	}
}

func TestResolveAgentPreservesFallbacksOnPrimaryOverride(t *testing.T) {
	cfg := Default()
	cfg.Agents.Defaults = AgentSpec{
		Model:          "claude-opus-4-6",
		ModelFallbacks: []string{"claude-sonnet-4-5", "gpt-5"},
	}
	cfg.Agents.List = map[string]AgentSpec{
		"ops": {Model: "gpt-5"},
	}
	spec := cfg.ResolveAgent("ops")
	if spec.Model != "gpt-5" {
		t.Errorf("model = %q", spec.Model)
	}
	if len(spec.ModelFallbacks) != 2 {
		t.Errorf("fallbacks lost on primary-only override: %v", spec.ModelFallbacks)
	}
}

func TestChannelEnabledDefaultsOff(t *testing.T) {
	cfg, err := Parse([]byte(`{channels: {telegram: {botToken: "x"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels["telegram"].IsEnabled() {
		t.Error("channel without enabled flag must stay off")
	}
}

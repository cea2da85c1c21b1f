package config

import (
	"fmt"
	"log/slog"
)

// Migrate applies in-place config migrations and returns one human-readable
// change line per mutation. An empty slice means the config was already
// current.
func Migrate(cfg *Config) []string {
	var changes []string
	changes = append(changes, seedControlUIOrigins(cfg)...)
	changes = append(changes, normalizeChannelPolicies(cfg)...)
	for _, c := range changes {
		slog.Info("config migration", "change", c)
	}
	return changes
}

// seedControlUIOrigins backfills gateway.controlUi.allowedOrigins for
// non-loopback binds. Before explicit origins existed, a LAN-exposed gateway
// accepted any browser origin; after the Origin check landed, the same config
// would lock out the local control UI. Seeding the localhost origins keeps
// old configs working without silently widening access.
func seedControlUIOrigins(cfg *Config) []string {
	if !cfg.Gateway.NonLoopbackBind() {
		return nil
	}
	if len(cfg.Gateway.ControlUI.AllowedOrigins) > 0 {
		return nil
	}

	port := cfg.Gateway.GatewayPort()
	origins := []string{
		fmt.Sprintf("http://localhost:%d", port),
		fmt.Sprintf("http://127.0.0.1:%d", port),
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost != "" {
		origins = append(origins, fmt.Sprintf("http://%s:%d", cfg.Gateway.CustomBindHost, port))
	}
	cfg.Gateway.ControlUI.AllowedOrigins = origins

	return []string{fmt.Sprintf(
		"seeded gateway.controlUi.allowedOrigins %v for bind=%s so the local control UI keeps working",
		origins, cfg.Gateway.Bind,
	)}
}

// normalizeChannelPolicies fills in groupPolicy defaults so downstream policy
// evaluation never sees an empty mode.
func normalizeChannelPolicies(cfg *Config) []string {
	var changes []string
	for id, ch := range cfg.Channels {
		if ch.GroupPolicy == "" {
			continue
		}
		switch ch.GroupPolicy {
		case "open", "allowlist", "disabled":
		default:
			ch.GroupPolicy = "allowlist"
			cfg.Channels[id] = ch
			changes = append(changes, fmt.Sprintf(
				"channels.%s.groupPolicy had an unknown value; reset to allowlist", id))
		}
	}
	return changes
}

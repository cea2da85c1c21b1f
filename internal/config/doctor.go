package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Check is one doctor finding.
type Check struct {
	ID       string `json:"id"`
	Severity string `json:"severity"` // ok | warn | error
	Message  string `json:"message"`
	Fixable  bool   `json:"fixable,omitempty"`
}

// DoctorChecks inspects the config and environment for misconfiguration.
// Errors block startup unless fixed; warnings do not.
func DoctorChecks(cfg *Config) []Check {
	var checks []Check
	add := func(id, severity, message string, fixable bool) {
		checks = append(checks, Check{ID: id, Severity: severity, Message: message, Fixable: fixable})
	}

	if port := cfg.Gateway.Port; port != 0 && (port < 1 || port > 65535) {
		add("gateway.port", "error", fmt.Sprintf("gateway port %d out of range", port), false)
	} else {
		add("gateway.port", "ok", fmt.Sprintf("gateway port %d", cfg.Gateway.GatewayPort()), false)
	}

	switch cfg.Gateway.Bind {
	case "", "loopback", "lan", "tailnet", "custom":
		add("gateway.bind", "ok", "bind mode valid", false)
	default:
		add("gateway.bind", "error", fmt.Sprintf("unknown bind mode %q", cfg.Gateway.Bind), false)
	}

	if cfg.Gateway.NonLoopbackBind() {
		if cfg.Gateway.Auth.Token == "" {
			add("gateway.auth", "error", "non-loopback bind without an auth token", false)
		}
		if len(cfg.Gateway.ControlUI.AllowedOrigins) == 0 {
			add("controlUi.allowedOrigins", "warn",
				"non-loopback bind with no allowed origins; migration will seed localhost origins", true)
		}
	}

	for i, origin := range cfg.Gateway.ControlUI.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			continue
		}
		if u, err := url.Parse(trimmed); err != nil || u.Scheme == "" || u.Host == "" {
			add("controlUi.allowedOrigins", "error",
				fmt.Sprintf("allowedOrigins[%d] %q is not an origin", i, origin), false)
		}
	}

	if dir := StateDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			add("state.dir", "error", fmt.Sprintf("state dir %s not writable: %v", dir, err), false)
		} else {
			add("state.dir", "ok", "state dir writable", false)
		}
	}

	if cfg.Agents.Defaults.Model == "" {
		add("agents.defaults.model", "warn", "no default model configured", false)
	}

	return checks
}

// DoctorBlocked reports whether any check is a startup-blocking error.
func DoctorBlocked(checks []Check) bool {
	for _, c := range checks {
		if c.Severity == "error" {
			return true
		}
	}
	return false
}

// DoctorFix applies the automatic fixes (currently the migration pass) and
// returns what changed.
func DoctorFix(cfg *Config) ([]string, error) {
	return Migrate(cfg), nil
}

package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/openclaw/openclaw/internal/config"
)

// CheckBrowserOrigin decides whether a browser request may reach the
// control surfaces. Non-browser clients (no Origin header) pass. Loopback
// origin/host mismatches pass for local dev. Otherwise the configured
// allowlist decides; "*" entries are honored trim-tolerantly. The legacy
// host-header fallback applies only when explicitly enabled.
func CheckBrowserOrigin(r *http.Request, cfg config.GatewayConfig) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()

	if isLoopbackHost(originHost) && isLoopbackHost(requestHostname(r)) {
		return true
	}

	for _, allowed := range cfg.ControlUI.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	if cfg.ControlUI.AllowLegacyHostHeader {
		if host := requestHostname(r); host != "" && host == originHost {
			return true
		}
	}
	return false
}

func requestHostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}

func isLoopbackHost(host string) bool {
	host = strings.TrimPrefix(strings.Trim(host, "[]"), "::ffff:")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

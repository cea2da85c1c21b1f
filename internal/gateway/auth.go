package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openclaw/openclaw/internal/webhook"
)

// authorized checks the request's bearer token (or ?token= for browser
// links) against the configured gateway token. An empty configured token
// only passes for loopback callers.
func authorized(r *http.Request, token string) bool {
	if token == "" {
		return webhook.IsLoopbackRequest(r)
	}
	presented := bearerToken(r)
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return v
	}
	return ""
}

// requireAuth wraps a control handler. Plugin wildcard handlers are mounted
// without this wrapper: they authenticate their own webhook traffic.
func requireAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			webhook.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

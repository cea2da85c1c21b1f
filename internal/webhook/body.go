package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

// Body reading defaults.
const (
	DefaultMaxBodyBytes = 1 << 20 // 1 MiB
	DefaultBodyTimeout  = 30 * time.Second
)

// ViewerCSP is the Content-Security-Policy applied to HTML viewer responses.
const ViewerCSP = "default-src 'none'; script-src 'self'; style-src 'unsafe-inline'; " +
	"img-src 'self' data:; font-src 'self' data:; connect-src 'none'; base-uri 'none'; " +
	"frame-ancestors 'self'; object-src 'none'"

// SetSecurityHeaders applies the baseline response headers every webhook and
// viewer endpoint must carry.
func SetSecurityHeaders(h http.Header, contentType string) {
	h.Set("Cache-Control", "no-store")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
}

// WriteError writes a guarded error response with the standard headers.
func WriteError(w http.ResponseWriter, status int, message string) {
	SetSecurityHeaders(w.Header(), "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// BodyOptions configures ReadJSONBody.
type BodyOptions struct {
	MaxBytes               int64
	Timeout                time.Duration
	RequireJSONContentType bool
	// EmptyObjectOnEmpty decodes a zero-length body as {} instead of failing.
	EmptyObjectOnEmpty bool
}

// ReadJSONBody streams the request body into v with byte and wall-time caps.
// On a violation it writes the matching HTTP error (413/415/408/400) and
// returns ok=false; the caller must not touch the ResponseWriter afterwards.
func ReadJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, opts BodyOptions) bool {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBodyTimeout
	}

	if opts.RequireJSONContentType && !HasJSONContentType(r) {
		WriteError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}

	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Now().Add(timeout))

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case isTimeout(err):
			WriteError(w, http.StatusRequestTimeout, "request body read timed out")
		default:
			WriteError(w, http.StatusBadRequest, "failed to read request body")
		}
		return false
	}

	if len(data) == 0 {
		if opts.EmptyObjectOnEmpty {
			data = []byte("{}")
		} else {
			WriteError(w, http.StatusBadRequest, "empty request body")
			return false
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// HasJSONContentType reports whether the request declares a JSON media type.
func HasJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// GuardOptions configures ApplyBasicGuards.
type GuardOptions struct {
	AllowMethods           []string
	RateLimiter            *RateLimiter
	RateLimitKey           string
	RequireJSONContentType bool
}

// ApplyBasicGuards enforces method, content-type, and rate-limit checks,
// writing 405/415/429 as appropriate. Returns true when the request may
// proceed.
func ApplyBasicGuards(w http.ResponseWriter, r *http.Request, opts GuardOptions) bool {
	if len(opts.AllowMethods) > 0 {
		allowed := false
		for _, m := range opts.AllowMethods {
			if r.Method == m {
				allowed = true
				break
			}
		}
		if !allowed {
			w.Header().Set("Allow", strings.Join(opts.AllowMethods, ", "))
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return false
		}
	}

	if opts.RequireJSONContentType && !HasJSONContentType(r) {
		WriteError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}

	if opts.RateLimiter != nil {
		key := opts.RateLimitKey
		if key == "" {
			key = r.URL.Path + "|" + RemoteHost(r)
		}
		if opts.RateLimiter.IsRateLimited(key, time.Now()) {
			w.Header().Set("Retry-After", "60")
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return false
		}
	}

	return true
}

// RemoteHost extracts the remote address host, trimming the IPv6-mapped
// "::ffff:" prefix so v4 and v4-in-v6 clients rate-limit as one key.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimPrefix(host, "::ffff:")
}

// IsLoopbackRequest reports whether the request originates from localhost.
func IsLoopbackRequest(r *http.Request) bool {
	host := RemoteHost(r)
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

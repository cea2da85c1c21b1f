package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadJSONBodyOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"event":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	var body struct {
		Event string `json:"event"`
	}
	if !ReadJSONBody(rec, req, &body, BodyOptions{RequireJSONContentType: true}) {
		t.Fatalf("expected ok, got %d: %s", rec.Code, rec.Body.String())
	}
	if body.Event != "ping" {
		t.Errorf("event = %q", body.Event)
	}
}

func TestReadJSONBodyContentTypeGuard(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	var v map[string]interface{}
	if ReadJSONBody(rec, req, &v, BodyOptions{RequireJSONContentType: true}) {
		t.Fatal("expected rejection")
	}
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing no-store header on error response")
	}
}

func TestReadJSONBodyTooLarge(t *testing.T) {
	big := strings.Repeat("a", 2048)
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"pad":"`+big+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	var v map[string]interface{}
	if ReadJSONBody(rec, req, &v, BodyOptions{MaxBytes: 100}) {
		t.Fatal("expected rejection")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestReadJSONBodyEmpty(t *testing.T) {
	tests := []struct {
		name         string
		emptyOnEmpty bool
		wantOK       bool
	}{
		{"rejected by default", false, false},
		{"empty object when opted in", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(""))
			rec := httptest.NewRecorder()
			var v map[string]interface{}
			ok := ReadJSONBody(rec, req, &v, BodyOptions{EmptyObjectOnEmpty: tt.emptyOnEmpty})
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v (status %d)", ok, tt.wantOK, rec.Code)
			}
		})
	}
}

func TestApplyBasicGuards(t *testing.T) {
	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/hook", nil)
		rec := httptest.NewRecorder()
		if ApplyBasicGuards(rec, req, GuardOptions{AllowMethods: []string{http.MethodPost}}) {
			t.Fatal("expected rejection")
		}
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
		if rec.Header().Get("Allow") != "POST" {
			t.Errorf("Allow = %q", rec.Header().Get("Allow"))
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		rl := NewRateLimiter(time.Minute, 1, 0)
		opts := GuardOptions{
			AllowMethods: []string{http.MethodPost},
			RateLimiter:  rl,
			RateLimitKey: "hook|1.2.3.4",
		}

		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if !ApplyBasicGuards(httptest.NewRecorder(), req, opts) {
			t.Fatal("first request should pass")
		}
		rec := httptest.NewRecorder()
		if ApplyBasicGuards(rec, req, opts) {
			t.Fatal("second request should be limited")
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After")
		}
	})
}

func TestRemoteHostNormalization(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"127.0.0.1:1234", "127.0.0.1"},
		{"[::1]:1234", "::1"},
		{"[::ffff:10.0.0.5]:80", "10.0.0.5"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := RemoteHost(req); got != tt.want {
			t.Errorf("RemoteHost(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestIsLoopbackRequest(t *testing.T) {
	for _, remote := range []string{"127.0.0.1:1", "[::1]:1", "[::ffff:127.0.0.1]:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if !IsLoopbackRequest(req) {
			t.Errorf("%s should be loopback", remote)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1"
	if IsLoopbackRequest(req) {
		t.Error("10.1.2.3 should not be loopback")
	}
}

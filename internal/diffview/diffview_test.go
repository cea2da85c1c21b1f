package diffview

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), 0, nil)
}

func TestCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("refactor diff", "patch", 3, []byte("<html>diff</html>"))
	if err != nil {
		t.Fatal(err)
	}

	if !regexp.MustCompile(`^[0-9a-f]{20}$`).MatchString(meta.ID) {
		t.Errorf("id = %q", meta.ID)
	}
	if !regexp.MustCompile(`^[0-9a-f]{48}$`).MatchString(meta.Token) {
		t.Errorf("token = %q", meta.Token)
	}
	if meta.ViewerPath != "/plugins/diffs/view/"+meta.ID+"/"+meta.Token {
		t.Errorf("viewer path = %q", meta.ViewerPath)
	}

	got, err := s.Lookup(meta.ID, meta.Token, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "refactor diff" || got.FileCount != 3 {
		t.Errorf("meta = %+v", got)
	}
}

func TestLookupRejectsBadInputs(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("d", "patch", 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct{ name, id, token string }{
		{"short id", "abc", meta.Token},
		{"uppercase id", strings.ToUpper(meta.ID), meta.Token},
		{"short token", meta.ID, "abc"},
		{"wrong token", meta.ID, strings.Repeat("0", 48)},
		{"unknown id", strings.Repeat("a", 20), meta.Token},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Lookup(tt.id, tt.token, time.Now()); !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestExpiredArtifactIsNotFoundAndSwept(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("d", "patch", 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(DefaultTTL + time.Minute)
	if _, err := s.Lookup(meta.ID, meta.Token, future); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired lookup err = %v", err)
	}

	s.Sweep(future)
	if _, err := os.Stat(filepath.Join(s.root, meta.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired artifact directory survived the sweep")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("d", "patch", 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the stored meta so htmlPath points outside the root.
	metaPath := filepath.Join(s.root, meta.ID, "meta.json")
	meta.HTMLPath = filepath.Join(s.root, "..", "..", "etc", "passwd")
	raw, _ := json.Marshal(meta)
	if err := os.WriteFile(metaPath, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = s.Lookup(meta.ID, meta.Token, time.Now())
	if err == nil || !strings.Contains(err.Error(), "escapes store root") {
		t.Errorf("err = %v, want path escape rejection", err)
	}
}

func TestTTLClamp(t *testing.T) {
	if got := clampTTL(0); got != DefaultTTL {
		t.Errorf("clampTTL(0) = %v", got)
	}
	if got := clampTTL(24 * time.Hour); got != MaxTTL {
		t.Errorf("clampTTL(24h) = %v", got)
	}
	if got := clampTTL(time.Hour); got != time.Hour {
		t.Errorf("clampTTL(1h) = %v", got)
	}
}

func TestViewerServesHTMLWithCSP(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("d", "patch", 1, []byte("<html>ok</html>"))
	if err != nil {
		t.Fatal(err)
	}
	v := NewViewer(s, false)

	req := httptest.NewRequest("GET", meta.ViewerPath, nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	v.ViewHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("csp = %q", csp)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestViewerBlocksRemoteUnlessAllowed(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("d", "patch", 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", meta.ViewerPath, nil)
	req.RemoteAddr = "203.0.113.7:9999"

	rec := httptest.NewRecorder()
	NewViewer(s, false).ViewHandler(rec, req)
	if rec.Code != 404 {
		t.Errorf("remote access status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewViewer(s, true).ViewHandler(rec, req)
	if rec.Code != 200 {
		t.Errorf("allowRemoteViewer status = %d, want 200", rec.Code)
	}
}

func TestViewerLockoutAfterRepeatedMisses(t *testing.T) {
	s := newTestStore(t)
	v := NewViewer(s, false)
	base := time.Now()
	v.now = func() time.Time { return base }

	badPath := "/plugins/diffs/view/" + strings.Repeat("a", 20) + "/" + strings.Repeat("b", 48)
	for i := 0; i < missThreshold; i++ {
		req := httptest.NewRequest("GET", badPath, nil)
		req.RemoteAddr = "127.0.0.1:1"
		rec := httptest.NewRecorder()
		v.ViewHandler(rec, req)
		if rec.Code != 404 {
			t.Fatalf("miss %d status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", badPath, nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	v.ViewHandler(rec, req)
	if rec.Code != 429 {
		t.Fatalf("status after %d misses = %d, want 429", missThreshold, rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on lockout")
	}

	// The window rolls over and the viewer opens again.
	v.now = func() time.Time { return base.Add(missWindow + time.Second) }
	rec = httptest.NewRecorder()
	v.ViewHandler(rec, req)
	if rec.Code != 404 {
		t.Errorf("status after window rollover = %d, want 404", rec.Code)
	}
}

func TestAssetsHandler(t *testing.T) {
	v := NewViewer(newTestStore(t), false)

	rec := httptest.NewRecorder()
	v.AssetsHandler(rec, httptest.NewRequest("GET", "/plugins/diffs/assets/viewer.css", nil))
	if rec.Code != 200 || !strings.Contains(rec.Header().Get("Content-Type"), "text/css") {
		t.Errorf("css asset: status=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	v.AssetsHandler(rec, httptest.NewRequest("GET", "/plugins/diffs/assets/nope.js", nil))
	if rec.Code != 404 {
		t.Errorf("unknown asset status = %d", rec.Code)
	}
}

package diffview

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/openclaw/internal/webhook"
)

const (
	missWindow    = 60 * time.Second
	missThreshold = 40
)

// missTracker counts failed viewer lookups in a fixed window. Past the
// threshold the viewer answers 429 until the window rolls over.
type missTracker struct {
	mu          sync.Mutex
	windowStart time.Time
	misses      int
}

func (m *missTracker) record(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.windowStart) >= missWindow {
		m.windowStart = now
		m.misses = 0
	}
	m.misses++
}

// lockedFor returns how long the caller must wait, or 0 when open.
func (m *missTracker) lockedFor(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.windowStart) >= missWindow {
		return 0
	}
	if m.misses < missThreshold {
		return 0
	}
	return missWindow - now.Sub(m.windowStart)
}

// Viewer serves /plugins/diffs/view/<id>/<token> and the static assets.
type Viewer struct {
	store       *Store
	allowRemote bool
	misses      missTracker
	now         func() time.Time
}

func NewViewer(store *Store, allowRemote bool) *Viewer {
	return &Viewer{store: store, allowRemote: allowRemote, now: time.Now}
}

// ViewHandler renders an artifact's HTML with the strict viewer CSP.
func (v *Viewer) ViewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		webhook.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !v.allowRemote && !webhook.IsLoopbackRequest(r) {
		webhook.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	now := v.now()
	if wait := v.misses.lockedFor(now); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		webhook.WriteError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	id, token, ok := parseViewPath(r.URL.Path)
	if !ok {
		v.misses.record(now)
		webhook.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	v.store.Sweep(now)
	meta, err := v.store.Lookup(id, token, now)
	if err != nil {
		v.misses.record(now)
		webhook.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	path := meta.HTMLPath
	contentType := "text/html; charset=utf-8"
	if path == "" {
		path = meta.FilePath
		contentType = "application/octet-stream"
	}
	body, err := os.ReadFile(path)
	if err != nil {
		v.misses.record(now)
		webhook.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	webhook.SetSecurityHeaders(w.Header(), contentType)
	w.Header().Set("Content-Security-Policy", webhook.ViewerCSP)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// AssetsHandler serves the viewer's JS/CSS.
func (v *Viewer) AssetsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		webhook.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/plugins/diffs/assets/")
	asset, ok := viewerAssets[name]
	if !ok {
		webhook.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	webhook.SetSecurityHeaders(w.Header(), asset.contentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(asset.body))
}

// parseViewPath extracts id and token from /plugins/diffs/view/<id>/<token>.
func parseViewPath(path string) (id, token string, ok bool) {
	rest, found := strings.CutPrefix(path, "/plugins/diffs/view/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type viewerAsset struct {
	contentType string
	body        string
}

var viewerAssets = map[string]viewerAsset{
	"viewer.css": {
		contentType: "text/css; charset=utf-8",
		body: `body{margin:0;font:14px/1.5 -apple-system,Segoe UI,sans-serif;background:#0d1117;color:#c9d1d9}
.diff-add{background:#12261e}.diff-del{background:#2d1214}
.diff-header{padding:8px 16px;border-bottom:1px solid #30363d;font-weight:600}
pre{margin:0;padding:8px 16px;overflow-x:auto}`,
	},
	"viewer.js": {
		contentType: "text/javascript; charset=utf-8",
		body: `document.addEventListener("keydown",function(e){
if(e.key==="j")window.scrollBy(0,120);
if(e.key==="k")window.scrollBy(0,-120);
});`,
	},
}

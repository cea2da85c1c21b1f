// Package diffview stores rendered diff artifacts and serves their viewer.
// Each artifact lives in its own directory under the store root and is
// addressed by a random id plus a bearer token embedded in the viewer URL.
package diffview

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL   = 30 * time.Minute
	MaxTTL       = 6 * time.Hour
	sweepEvery   = 5 * time.Minute
	metaName     = "meta.json"
	fileMetaName = "file-meta.json"
	viewerName   = "viewer.html"
)

var (
	idPattern    = regexp.MustCompile(`^[0-9a-f]{20}$`)
	tokenPattern = regexp.MustCompile(`^[0-9a-f]{48}$`)
)

// ErrNotFound covers unknown, expired, and token-mismatched artifacts alike,
// so a probe learns nothing from the failure mode.
var ErrNotFound = errors.New("diff artifact not found")

// Meta is the persisted artifact record.
type Meta struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	CreatedAt  int64  `json:"createdAt"` // unix ms
	ExpiresAt  int64  `json:"expiresAt"` // unix ms
	Title      string `json:"title,omitempty"`
	InputKind  string `json:"inputKind,omitempty"`
	FileCount  int    `json:"fileCount,omitempty"`
	ViewerPath string `json:"viewerPath"`
	HTMLPath   string `json:"htmlPath,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
}

// Store owns the artifact root directory.
type Store struct {
	root   string
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	lastSweep time.Time
}

func NewStore(root string, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, ttl: clampTTL(ttl), logger: logger}
}

// TTLFromMinutes converts the config knob; 0 keeps the default.
func TTLFromMinutes(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// Create writes a diff artifact: meta.json plus viewer.html.
func (s *Store) Create(title, inputKind string, fileCount int, html []byte) (Meta, error) {
	id, err := randomHex(10)
	if err != nil {
		return Meta{}, err
	}
	token, err := randomHex(24)
	if err != nil {
		return Meta{}, err
	}

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Meta{}, fmt.Errorf("create artifact dir: %w", err)
	}

	now := time.Now()
	meta := Meta{
		ID:         id,
		Token:      token,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(s.ttl).UnixMilli(),
		Title:      title,
		InputKind:  inputKind,
		FileCount:  fileCount,
		ViewerPath: "/plugins/diffs/view/" + id + "/" + token,
		HTMLPath:   filepath.Join(dir, viewerName),
	}

	if err := os.WriteFile(meta.HTMLPath, html, 0o600); err != nil {
		return Meta{}, fmt.Errorf("write viewer html: %w", err)
	}
	if err := writeMeta(filepath.Join(dir, metaName), meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// CreateFile writes a standalone file artifact (file-meta.json + payload).
func (s *Store) CreateFile(title, name string, payload []byte) (Meta, error) {
	id, err := randomHex(10)
	if err != nil {
		return Meta{}, err
	}
	token, err := randomHex(24)
	if err != nil {
		return Meta{}, err
	}

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Meta{}, fmt.Errorf("create artifact dir: %w", err)
	}

	now := time.Now()
	meta := Meta{
		ID:         id,
		Token:      token,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(s.ttl).UnixMilli(),
		Title:      title,
		InputKind:  "file",
		FileCount:  1,
		ViewerPath: "/plugins/diffs/view/" + id + "/" + token,
		FilePath:   filepath.Join(dir, filepath.Base(name)),
	}

	if err := os.WriteFile(meta.FilePath, payload, 0o600); err != nil {
		return Meta{}, fmt.Errorf("write file artifact: %w", err)
	}
	if err := writeMeta(filepath.Join(dir, fileMetaName), meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Lookup returns the artifact when id and token both check out. Expired
// artifacts answer not-found and are removed on the next sweep.
func (s *Store) Lookup(id, token string, now time.Time) (*Meta, error) {
	if !idPattern.MatchString(id) || !tokenPattern.MatchString(token) {
		return nil, ErrNotFound
	}

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(meta.Token), []byte(token)) != 1 {
		return nil, ErrNotFound
	}
	if now.UnixMilli() >= meta.ExpiresAt {
		return nil, ErrNotFound
	}

	// Stored paths must stay inside the store root even if the meta file was
	// tampered with.
	for _, p := range []string{meta.HTMLPath, meta.FilePath} {
		if p == "" {
			continue
		}
		if err := s.containedPath(p); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", id, err)
		}
	}
	return meta, nil
}

// containedPath rejects any path that resolves outside the store root.
func (s *Store) containedPath(p string) error {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return fmt.Errorf("path escapes store root: %s", p)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes store root: %s", p)
	}
	return nil
}

// Sweep deletes expired artifacts, at most once per sweep interval.
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastSweep) < sweepEvery {
		s.mu.Unlock()
		return
	}
	s.lastSweep = now
	s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !idPattern.MatchString(entry.Name()) {
			continue
		}
		meta, err := s.readMeta(entry.Name())
		if err != nil || now.UnixMilli() >= meta.ExpiresAt {
			dir := filepath.Join(s.root, entry.Name())
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				s.logger.Warn("diff artifact sweep failed", "dir", dir, "error", rmErr)
			}
		}
	}
}

func (s *Store) readMeta(id string) (*Meta, error) {
	dir := filepath.Join(s.root, id)
	for _, name := range []string{metaName, fileMetaName} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
		return &meta, nil
	}
	return nil, ErrNotFound
}

func writeMeta(path string, meta Meta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write artifact meta: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

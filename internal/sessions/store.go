package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// storeVersion is the on-disk format version.
const storeVersion = 1

// busyRetryWindow bounds EBUSY retries on the backup rename.
const (
	busyRetryWindow = 300 * time.Millisecond
	busyRetryStep   = 25 * time.Millisecond
)

type storeFile struct {
	Version  int               `json:"version"`
	Sessions map[string]*Entry `json:"sessions"`
}

// Store owns the session file. All writes funnel through one mutex so at
// most one write is outstanding per path; readers see either the previous or
// the new content, never a torn file (atomic rename + single backup).
type Store struct {
	path string

	mu   sync.Mutex
	data storeFile
}

// NewStore loads (or initializes) the session store at path.
// A missing file yields an empty store; malformed JSON fails loudly.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, data: storeFile{Version: storeVersion, Sessions: map[string]*Entry{}}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse session store %s: %w", path, err)
	}
	if s.data.Sessions == nil {
		s.data.Sessions = map[string]*Entry{}
	}
	s.data.Version = storeVersion
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the entry for key, or nil if absent.
func (s *Store) Get(key string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Sessions[key]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// List returns a snapshot of all entries keyed by session key.
func (s *Store) List() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.data.Sessions))
	for k, e := range s.data.Sessions {
		out[k] = *e
	}
	return out
}

// Update applies fn to the entry for key (creating it if absent), stamps
// UpdatedAt, and persists the store.
func (s *Store) Update(key string, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.Sessions[key]
	if !ok {
		e = &Entry{}
		s.data.Sessions[key] = e
	}
	fn(e)
	e.UpdatedAt = time.Now().UnixMilli()
	return s.saveLocked()
}

// Delete removes the entry for key and persists.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Sessions[key]; !ok {
		return nil
	}
	delete(s.data.Sessions, key)
	return s.saveLocked()
}

// PersistPreRunModel records the intended model before a run starts so that a
// concurrent sessions.list sees the effective model even if the run fails.
// A persist failure here only warns — the run proceeds regardless.
func (s *Store) PersistPreRunModel(key, model, provider string) {
	err := s.Update(key, func(e *Entry) {
		e.Model = model
		e.ModelProvider = provider
		e.SystemSent = true
	})
	if err != nil {
		slog.Warn("pre-run model persist failed", "session", key, "error", err)
	}
}

// saveLocked writes the store with the tmp → .bak → rename protocol:
//
//  1. Serialize and write <file>.tmp.
//  2. If the current file content differs, rename it to <file>.bak
//     (EBUSY retried briefly, EPERM falls back to a copy).
//  3. Rename <file>.tmp over <file>.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write session store tmp: %w", err)
	}

	current, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Nothing to back up.
	case err != nil:
		os.Remove(tmpPath)
		return fmt.Errorf("read current session store: %w", err)
	case string(current) == string(data):
		// Unchanged content: keep the existing file and backup as-is.
		os.Remove(tmpPath)
		return nil
	default:
		if err := backupReplace(s.path, s.path+".bak"); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("backup session store: %w", err)
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}

// backupReplace moves src to dst, retrying EBUSY for a few hundred ms and
// degrading to a copy on EPERM (Windows AV file locking).
func backupReplace(src, dst string) error {
	deadline := time.Now().Add(busyRetryWindow)
	for {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EBUSY) && time.Now().Before(deadline) {
			time.Sleep(busyRetryStep)
			continue
		}
		if errors.Is(err, syscall.EPERM) || errors.Is(err, os.ErrPermission) {
			return copyFile(src, dst)
		}
		return err
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

// Package cron schedules isolated agent runs. Every tick runs in a fresh
// cron session; the job store persists under the state dir with the same
// tmp → .bak → rename protocol as the session store.
package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const storeVersion = 1

const (
	busyRetryWindow = 300 * time.Millisecond
	busyRetryStep   = 25 * time.Millisecond
)

// Payload is what a due job asks the agent to do.
type Payload struct {
	Message string `json:"message"`
	// Model optionally overrides the agent's model for this job, either
	// "provider/model" or a bare model id.
	Model   string `json:"model,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
}

// JobState is the mutable run bookkeeping.
type JobState struct {
	LastRunAtMs    int64  `json:"lastRunAtMs,omitempty"`
	LastStatus     string `json:"lastStatus,omitempty"` // ok | error
	LastError      string `json:"lastError,omitempty"`
	LastDurationMs int64  `json:"lastDurationMs,omitempty"`
	Runs           int    `json:"runs,omitempty"`
}

// Job is one scheduled agent invocation.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Schedule string   `json:"schedule"` // cron expression
	AgentID  string   `json:"agentId,omitempty"`
	Enabled  bool     `json:"enabled"`
	Payload  Payload  `json:"payload"`
	State    JobState `json:"state,omitempty"`

	CreatedAtMs int64 `json:"createdAtMs,omitempty"`
	UpdatedAtMs int64 `json:"updatedAtMs,omitempty"`
}

type storeFile struct {
	Version int             `json:"version"`
	Jobs    map[string]*Job `json:"jobs"`
}

// JobStore owns cron/jobs.json. One write outstanding per path; readers see
// the previous or the new file, never a torn one.
type JobStore struct {
	path string

	mu   sync.Mutex
	data storeFile
}

// NewJobStore loads (or initializes) the job store at path. Malformed JSON
// fails loudly.
func NewJobStore(path string) (*JobStore, error) {
	s := &JobStore{path: path, data: storeFile{Version: storeVersion, Jobs: map[string]*Job{}}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse cron store %s: %w", path, err)
	}
	if s.data.Jobs == nil {
		s.data.Jobs = map[string]*Job{}
	}
	s.data.Version = storeVersion
	return s, nil
}

// Get returns a copy of the job, or nil.
func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data.Jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// List snapshots all jobs.
func (s *JobStore) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.data.Jobs))
	for _, j := range s.data.Jobs {
		out = append(out, *j)
	}
	return out
}

// Upsert writes the job and persists.
func (s *JobStore) Upsert(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	if existing, ok := s.data.Jobs[job.ID]; ok {
		job.CreatedAtMs = existing.CreatedAtMs
	} else if job.CreatedAtMs == 0 {
		job.CreatedAtMs = now
	}
	job.UpdatedAtMs = now
	s.data.Jobs[job.ID] = &job
	return s.saveLocked()
}

// Delete removes the job and persists.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Jobs[id]; !ok {
		return nil
	}
	delete(s.data.Jobs, id)
	return s.saveLocked()
}

// UpdateState applies fn to the job's state and persists.
func (s *JobStore) UpdateState(id string, fn func(*JobState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data.Jobs[id]
	if !ok {
		return fmt.Errorf("cron job %q not found", id)
	}
	fn(&j.State)
	j.UpdatedAtMs = time.Now().UnixMilli()
	return s.saveLocked()
}

func (s *JobStore) saveLocked() error {
	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write cron store tmp: %w", err)
	}

	current, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		os.Remove(tmpPath)
		return fmt.Errorf("read current cron store: %w", err)
	case string(current) == string(data):
		os.Remove(tmpPath)
		return nil
	default:
		if err := backupReplace(s.path, s.path+".bak"); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("backup cron store: %w", err)
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}

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
			data, rerr := os.ReadFile(src)
			if rerr != nil {
				return rerr
			}
			return os.WriteFile(dst, data, 0o600)
		}
		return err
	}
}

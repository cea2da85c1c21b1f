// Package mcp maintains connections to configured MCP tool servers and
// exposes their discovered tools to the agent runtime.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// Tool is one tool discovered on a connected server. Name carries the
// server prefix so tools from different servers never collide.
type Tool struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
}

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name      string
	transport string
	client    mcpClient
	connected atomic.Bool
	tools     []Tool
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager connects to the MCP servers from config and tracks their health.
type Manager struct {
	configs map[string]ServerConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	servers map[string]*serverState
}

// ServerConfig is the connection spec for one server.
type ServerConfig struct {
	Transport string // stdio | sse | http
	Command   string
	Args      []string
	URL       string
	Env       map[string]string
	Disabled  bool
}

// NewManager builds a manager for the given server specs.
func NewManager(configs map[string]ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs: configs,
		servers: make(map[string]*serverState),
		logger:  logger,
	}
}

// Start connects every enabled server in parallel. Connection failures are
// non-fatal: the failing servers are logged and skipped, and the aggregate
// error is returned for the caller to surface.
func (m *Manager) Start(ctx context.Context) error {
	var (
		g      errgroup.Group
		errsMu sync.Mutex
		errs   []string
	)
	for name, cfg := range m.configs {
		if cfg.Disabled {
			m.logger.Info("mcp server disabled", "server", name)
			continue
		}
		g.Go(func() error {
			if err := m.connectServer(ctx, name, cfg); err != nil {
				m.logger.Warn("mcp server connect failed", "server", name, "error", err)
				errsMu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Stop closes all server connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				m.logger.Debug("mcp server close error", "server", name, "error", err)
			}
		}
	}
	m.servers = make(map[string]*serverState)
}

// Tools returns every discovered tool across connected servers, sorted by
// name.
func (m *Manager) Tools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tool
	for _, ss := range m.servers {
		out = append(out, ss.tools...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status reports per-server connection state, sorted by server name.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.tools),
			Error:     lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/winspawn"
)

// mcpClient is the slice of the mcp-go client the manager uses. Narrowed so
// the health loop can be exercised against fakes.
type mcpClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// connectServer dials one server, runs the MCP handshake, and records the
// discovered tools.
func (m *Manager) connectServer(ctx context.Context, name string, cfg ServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio transports start on creation; the network ones need an
	// explicit Start.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "openclaw", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, transport: cfg.Transport, client: client}
	ss.connected.Store(true)
	ss.tools = make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		ss.tools = append(ss.tools, Tool{
			Name:        PrefixedToolName(name, t.Name),
			Server:      name,
			Description: t.Description,
		})
	}

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	m.logger.Info("mcp server connected",
		"server", name, "transport", cfg.Transport, "tools", len(ss.tools))
	return nil
}

// PrefixedToolName qualifies a tool name with its server.
func PrefixedToolName(server, tool string) string {
	return server + "__" + tool
}

func newClient(cfg ServerConfig) (mcpClient, error) {
	switch cfg.Transport {
	case "stdio":
		command, args, err := stdioInvocation(cfg)
		if err != nil {
			return nil, err
		}
		return mcpclient.NewStdioMCPClient(command, envSlice(cfg.Env), args...)
	case "sse":
		return mcpclient.NewSSEMCPClient(cfg.URL)
	case "http":
		return mcpclient.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// spawnCache memoizes command resolution across reconnects of the same
// server config.
var spawnCache = winspawn.NewCache()

// stdioInvocation resolves the configured command before spawning: npm `.cmd`
// shims and script entrypoints become the real executable so Windows stdio
// servers do not need a shell.
func stdioInvocation(cfg ServerConfig) (string, []string, error) {
	platform := ""
	if runtime.GOOS == "windows" {
		platform = "win32"
	}
	env := map[string]string{
		"PATH":    os.Getenv("PATH"),
		"PATHEXT": os.Getenv("PATHEXT"),
	}
	for k, v := range cfg.Env {
		env[k] = v
	}
	nodePath, _ := exec.LookPath("node")
	base := filepath.Base(cfg.Command)
	prog, err := spawnCache.Resolve(winspawn.Options{
		Command:     cfg.Command,
		Platform:    platform,
		Env:         env,
		ExecPath:    nodePath,
		PackageName: strings.TrimSuffix(base, filepath.Ext(base)),
	})
	if err != nil {
		return "", nil, fmt.Errorf("resolve command %q: %w", cfg.Command, err)
	}

	inv := prog.Materialize(cfg.Args)
	if inv.Shell {
		comspec := os.Getenv("COMSPEC")
		if comspec == "" {
			comspec = "cmd.exe"
		}
		return comspec, append([]string{"/c", inv.Command}, inv.Argv...), nil
	}
	return inv.Command, inv.Argv, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}

// healthLoop pings the server on an interval and drives reconnection when a
// ping fails.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err == nil {
				ss.markHealthy()
				continue
			}
			// Servers without a ping handler are still alive.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				ss.markHealthy()
				continue
			}
			ss.connected.Store(false)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()
			m.logger.Warn("mcp server health check failed", "server", ss.name, "error", err)
			m.tryReconnect(ctx, ss)
		}
	}
}

func (ss *serverState) markHealthy() {
	ss.connected.Store(true)
	ss.mu.Lock()
	ss.reconnAttempts = 0
	ss.lastErr = ""
	ss.mu.Unlock()
}

// tryReconnect waits out an exponential backoff and probes the transport,
// which may have recovered on its own.
func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		m.logger.Error("mcp server reconnect attempts exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	m.logger.Info("mcp server reconnecting", "server", ss.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := ss.client.Ping(ctx); err == nil {
		ss.markHealthy()
		m.logger.Info("mcp server reconnected", "server", ss.name)
	}
}

// FromConfig converts the config block into manager server specs.
func FromConfig(servers map[string]config.MCPServerConfig) map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(servers))
	for name, s := range servers {
		out[name] = ServerConfig{
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			URL:       s.URL,
			Env:       s.Env,
			Disabled:  s.Disabled,
		}
	}
	return out
}

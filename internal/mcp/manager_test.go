package mcp

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/openclaw/openclaw/internal/config"
)

type fakeClient struct {
	pingErr error
	closed  bool
}

func (f *fakeClient) Start(ctx context.Context) error { return nil }
func (f *fakeClient) Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error) {
	return &mcpgo.InitializeResult{}, nil
}
func (f *fakeClient) ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error) {
	return &mcpgo.ListToolsResult{}, nil
}
func (f *fakeClient) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeClient) Close() error                   { f.closed = true; return nil }

func addFakeServer(m *Manager, name string, tools ...Tool) *serverState {
	ss := &serverState{name: name, transport: "stdio", client: &fakeClient{}, tools: tools}
	ss.connected.Store(true)
	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()
	return ss
}

func TestToolsAndStatusSorted(t *testing.T) {
	m := NewManager(nil, slog.Default())
	addFakeServer(m, "zeta", Tool{Name: "zeta__run", Server: "zeta"})
	addFakeServer(m, "alpha",
		Tool{Name: "alpha__search", Server: "alpha"},
		Tool{Name: "alpha__fetch", Server: "alpha"})

	tools := m.Tools()
	if len(tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(tools))
	}
	want := []string{"alpha__fetch", "alpha__search", "zeta__run"}
	for i, name := range want {
		if tools[i].Name != name {
			t.Errorf("tools[%d] = %q, want %q", i, tools[i].Name, name)
		}
	}

	status := m.Status()
	if len(status) != 2 {
		t.Fatalf("status = %d, want 2", len(status))
	}
	if status[0].Name != "alpha" || status[1].Name != "zeta" {
		t.Errorf("status order = %q, %q", status[0].Name, status[1].Name)
	}
	if status[0].ToolCount != 2 || !status[0].Connected {
		t.Errorf("alpha status = %+v", status[0])
	}
}

func TestStopClosesClients(t *testing.T) {
	m := NewManager(nil, slog.Default())
	ss := addFakeServer(m, "one")
	m.Stop()
	if !ss.client.(*fakeClient).closed {
		t.Error("client not closed on Stop")
	}
	if len(m.Status()) != 0 {
		t.Error("servers not cleared on Stop")
	}
}

func TestReconnectExhaustionSetsError(t *testing.T) {
	m := NewManager(nil, slog.Default())
	ss := addFakeServer(m, "flaky")
	ss.reconnAttempts = maxReconnectAttempts

	m.tryReconnect(context.Background(), ss)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.lastErr == "" {
		t.Error("expected lastErr after exhausted reconnects")
	}
}

func TestMarkHealthyResetsState(t *testing.T) {
	m := NewManager(nil, slog.Default())
	ss := addFakeServer(m, "srv")
	ss.connected.Store(false)
	ss.reconnAttempts = 3
	ss.lastErr = "ping: connection refused"

	ss.markHealthy()

	if !ss.connected.Load() {
		t.Error("not marked connected")
	}
	if ss.reconnAttempts != 0 || ss.lastErr != "" {
		t.Errorf("state not reset: attempts=%d lastErr=%q", ss.reconnAttempts, ss.lastErr)
	}
}

func TestNewClientRejectsUnknownTransport(t *testing.T) {
	if _, err := newClient(ServerConfig{Transport: "grpc"}); err == nil {
		t.Error("expected error for unsupported transport")
	}
}

func TestStdioInvocationPassesThroughOnPosix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix passthrough")
	}
	cfg := ServerConfig{
		Transport: "stdio",
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
	}
	command, args, err := stdioInvocation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if command != "npx" {
		t.Errorf("command = %q", command)
	}
	if len(args) != 3 || args[0] != "-y" {
		t.Errorf("args = %v", args)
	}
}

func TestStartSkipsDisabledServers(t *testing.T) {
	m := NewManager(map[string]ServerConfig{
		"off": {Transport: "stdio", Command: "true", Disabled: true},
	}, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(m.Status()) != 0 {
		t.Error("disabled server was connected")
	}
}

func TestFromConfig(t *testing.T) {
	specs := FromConfig(map[string]config.MCPServerConfig{
		"files": {Transport: "stdio", Command: "mcp-files", Args: []string{"--root", "/tmp"}},
		"web":   {Transport: "http", URL: "http://127.0.0.1:9000/mcp", Disabled: true},
	})
	if specs["files"].Command != "mcp-files" || len(specs["files"].Args) != 2 {
		t.Errorf("files spec = %+v", specs["files"])
	}
	if !specs["web"].Disabled || specs["web"].URL == "" {
		t.Errorf("web spec = %+v", specs["web"])
	}
}

func TestPrefixedToolName(t *testing.T) {
	if got := PrefixedToolName("files", "read"); got != "files__read" {
		t.Errorf("PrefixedToolName = %q", got)
	}
}

func TestPingErrorMarksDisconnected(t *testing.T) {
	m := NewManager(nil, slog.Default())
	ss := addFakeServer(m, "srv")
	ss.client.(*fakeClient).pingErr = errors.New("transport closed")
	ss.reconnAttempts = maxReconnectAttempts // skip the backoff sleep

	ss.connected.Store(false)
	ss.mu.Lock()
	ss.lastErr = ss.client.Ping(context.Background()).Error()
	ss.mu.Unlock()
	m.tryReconnect(context.Background(), ss)

	status := m.Status()[0]
	if status.Connected {
		t.Error("server still marked connected")
	}
	if status.Error == "" {
		t.Error("expected status error")
	}
}

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openclaw/openclaw/internal/providers"
	"github.com/openclaw/openclaw/internal/sessions"
)

// fakeProvider replays scripted responses.
type fakeProvider struct {
	name      string
	responses []*providers.ChatResponse
	calls     int
	err       error
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return f.name }

type echoTools struct{ executed []string }

func (e *echoTools) Definitions() []providers.ToolDefinition { return nil }
func (e *echoTools) Execute(ctx context.Context, call providers.ToolCall, req RunRequest) ToolResult {
	e.executed = append(e.executed, call.Name)
	return ToolResult{ForLLM: "ok"}
}

func newTestRunner(t *testing.T, p providers.Provider, tools ToolExecutor) (*Runner, *sessions.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := sessions.NewStore(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatal(err)
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	runner := NewRunner(RunnerConfig{
		Providers:       reg,
		Sessions:        store,
		Tools:           tools,
		DefaultProvider: p.Name(),
		TranscriptDir:   filepath.Join(dir, "transcripts"),
	})
	return runner, store, dir
}

func TestRunnerPersistsModelMetadata(t *testing.T) {
	p := &fakeProvider{name: "anthropic", responses: []*providers.ChatResponse{
		{Content: "hi there", FinishReason: "stop"},
	}}
	runner, store, _ := newTestRunner(t, p, nil)

	result, err := runner.Run(context.Background(), RunRequest{
		SessionKey: "agent:main:telegram:direct:1",
		Message:    "hello",
		Model:      "claude-sonnet-4-6",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "hi there" {
		t.Errorf("content = %q", result.Content)
	}

	entry := store.Get("agent:main:telegram:direct:1")
	if entry == nil {
		t.Fatal("session entry missing")
	}
	if entry.Model != "claude-sonnet-4-6" || entry.ModelProvider != "anthropic" || !entry.SystemSent {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRunnerFailureLeavesPreRunRecordIntact(t *testing.T) {
	p := &fakeProvider{name: "anthropic", err: errors.New("overloaded")}
	runner, store, _ := newTestRunner(t, p, nil)

	store.PersistPreRunModel("sess", "claude-sonnet-4-6", "anthropic")

	if _, err := runner.Run(context.Background(), RunRequest{SessionKey: "sess", Message: "hi"}); err == nil {
		t.Fatal("expected run error")
	}

	entry := store.Get("sess")
	if entry.Model != "claude-sonnet-4-6" || entry.ModelProvider != "anthropic" || !entry.SystemSent {
		t.Errorf("pre-run record overwritten: %+v", entry)
	}
}

func TestRunnerExecutesToolCallsThenFinishes(t *testing.T) {
	p := &fakeProvider{name: "anthropic", responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "t1", Name: "read_file", Arguments: map[string]interface{}{}}}},
		{Content: "file says hello", FinishReason: "stop"},
	}}
	tools := &echoTools{}
	runner, _, _ := newTestRunner(t, p, tools)

	result, err := runner.Run(context.Background(), RunRequest{SessionKey: "s", Message: "read it"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "file says hello" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d", result.Iterations)
	}
	if len(tools.executed) != 1 || tools.executed[0] != "read_file" {
		t.Errorf("executed = %v", tools.executed)
	}
}

func TestRunnerTranscriptRedactsSpawnAttachments(t *testing.T) {
	p := &fakeProvider{name: "anthropic", responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{
			ID:   "t1",
			Name: "sessions_spawn",
			Arguments: map[string]interface{}{
				"attachments": []interface{}{
					map[string]interface{}{"content": "SUPER_SECRET"},
				},
			},
		}}},
		{Content: "spawned", FinishReason: "stop"},
	}}
	runner, store, dir := newTestRunner(t, p, &echoTools{})

	if _, err := runner.Run(context.Background(), RunRequest{SessionKey: "spawner", Message: "go"}); err != nil {
		t.Fatal(err)
	}

	entry := store.Get("spawner")
	if entry == nil || entry.TranscriptPath == "" {
		t.Fatal("transcript path not recorded")
	}
	raw, err := os.ReadFile(entry.TranscriptPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "SUPER_SECRET") {
		t.Error("transcript on disk contains unredacted attachment")
	}
	if !strings.Contains(string(raw), RedactedPlaceholder) {
		t.Error("transcript missing redaction placeholder")
	}
	if !strings.Contains(entry.TranscriptPath, filepath.Join(dir, "transcripts")) {
		t.Errorf("transcript outside transcript dir: %q", entry.TranscriptPath)
	}
}

func TestRunnerSilentReplySuppressesContent(t *testing.T) {
	p := &fakeProvider{name: "anthropic", responses: []*providers.ChatResponse{
		{Content: "NO_REPLY", FinishReason: "stop"},
	}}
	runner, _, _ := newTestRunner(t, p, nil)

	result, err := runner.Run(context.Background(), RunRequest{SessionKey: "s", Message: "fyi"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "" {
		t.Errorf("silent reply leaked content %q", result.Content)
	}
}

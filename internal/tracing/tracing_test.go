package tracing

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/providers"
)

type stubRuntime struct {
	result *agent.RunResult
	err    error
}

func (s *stubRuntime) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	return s.result, s.err
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, slog.Default())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRejectsUnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Protocol: "udp",
	}, slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestWrappedRunRecordsSpan(t *testing.T) {
	recorder := withRecorder(t)
	rt := WrapRuntime(&stubRuntime{result: &agent.RunResult{
		Content:    "done",
		Model:      "claude-sonnet-4-6",
		Provider:   "anthropic",
		Iterations: 2,
		Usage:      &providers.Usage{PromptTokens: 120, CompletionTokens: 45},
	}})

	result, err := rt.Run(context.Background(), agent.RunRequest{
		SessionKey: "agent:main:main",
		RunID:      "run-1",
		Channel:    "telegram",
		Message:    "hello",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "done" {
		t.Errorf("content = %q", result.Content)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "agent.run" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v", span.Status())
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["session.key"].AsString(); got != "agent:main:main" {
		t.Errorf("session.key = %q", got)
	}
	if got := attrs["model"].AsString(); got != "claude-sonnet-4-6" {
		t.Errorf("model = %q", got)
	}
	if got := attrs["tokens.prompt"].AsInt64(); got != 120 {
		t.Errorf("tokens.prompt = %d", got)
	}
}

func TestWrappedRunRecordsError(t *testing.T) {
	recorder := withRecorder(t)
	rt := WrapRuntime(&stubRuntime{err: errors.New("provider unavailable")})

	if _, err := rt.Run(context.Background(), agent.RunRequest{SessionKey: "k"}); err == nil {
		t.Fatal("expected error")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	status := spans[0].Status()
	if status.Code != codes.Error {
		t.Errorf("status = %v, want error", status)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event")
	}
}

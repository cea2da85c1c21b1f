package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/openclaw/internal/agent"
)

// WrapRuntime decorates an agent runtime so every turn runs inside a span.
// When no tracer provider is installed the overhead is a no-op span.
func WrapRuntime(rt agent.Runtime) agent.Runtime {
	return &tracedRuntime{inner: rt, tracer: otel.Tracer(serviceName)}
}

type tracedRuntime struct {
	inner  agent.Runtime
	tracer trace.Tracer
}

func (t *tracedRuntime) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	ctx, span := t.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.key", req.SessionKey),
		attribute.String("run.id", req.RunID),
		attribute.String("channel", req.Channel),
		attribute.Bool("session.new", req.NewSession),
	))
	defer span.End()

	result, err := t.inner.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("model", result.Model),
		attribute.String("provider", result.Provider),
		attribute.Int("iterations", result.Iterations),
	)
	if result.Usage != nil {
		span.SetAttributes(
			attribute.Int("tokens.prompt", result.Usage.PromptTokens),
			attribute.Int("tokens.completion", result.Usage.CompletionTokens),
		)
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

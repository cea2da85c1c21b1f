package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RunWithModelFallback tries each (provider, model) choice in order until one
// succeeds. A cancelled context aborts immediately; any other failure moves
// to the next choice. The returned error wraps the last attempt's failure.
func RunWithModelFallback(ctx context.Context, rt Runtime, req RunRequest, chain []ModelChoice) (*RunResult, error) {
	if len(chain) == 0 {
		return rt.Run(ctx, req)
	}

	var lastErr error
	for i, choice := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt := req
		attempt.Provider = choice.Provider
		attempt.Model = choice.Model

		result, err := rt.Run(ctx, attempt)
		if err == nil {
			if i > 0 {
				slog.Info("model fallback succeeded",
					"session", req.SessionKey, "model", choice.Model, "attempt", i+1)
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		if i < len(chain)-1 {
			slog.Warn("model run failed, trying fallback",
				"session", req.SessionKey,
				"model", choice.Model,
				"next", chain[i+1].Model,
				"error", err)
		}
	}
	return nil, fmt.Errorf("all %d model choices failed: %w", len(chain), lastErr)
}

// FallbackChain builds the run order: the primary choice followed by the
// fallbacks, skipping duplicates of the primary.
func FallbackChain(primary ModelChoice, fallbacks []ModelChoice) []ModelChoice {
	chain := []ModelChoice{primary}
	for _, f := range fallbacks {
		if f == primary {
			continue
		}
		chain = append(chain, f)
	}
	return chain
}

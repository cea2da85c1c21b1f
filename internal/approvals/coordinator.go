package approvals

import (
	"context"
	"fmt"
	"time"
)

// RPC is the gateway methods the coordinator drives. In production this is
// the gateway client; tests use a local broker.
type RPC interface {
	RegisterApproval(ctx context.Context, req Request) (RegisterResponse, error)
	WaitApprovalDecision(ctx context.Context, id string) (string, error)
}

// Coordinator runs the two-phase approval flow for the agent side.
type Coordinator struct {
	rpc             RPC
	requestTimeout  time.Duration
	decisionTimeout time.Duration
}

func NewCoordinator(rpc RPC) *Coordinator {
	return &Coordinator{
		rpc:             rpc,
		requestTimeout:  DefaultRequestTimeout,
		decisionTimeout: DefaultDecisionTimeout,
	}
}

// AwaitDecision registers the request and waits for a decision. onPending is
// called only after registration succeeded, so the user never sees an
// approval prompt the gateway cannot resolve. A nil decision with nil error
// means no decision arrived; the caller falls back to its ask behavior.
func (c *Coordinator) AwaitDecision(ctx context.Context, req Request, onPending func()) (*string, error) {
	req.TwoPhase = true

	regCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	resp, err := c.rpc.RegisterApproval(regCtx, req)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("Exec approval registration failed: %w", err)
	}

	if resp.Decision != nil {
		return resp.Decision, nil
	}

	if onPending != nil {
		onPending()
	}

	timeout := c.decisionTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := c.rpc.WaitApprovalDecision(waitCtx, resp.ID)
	if err != nil {
		if IsNotFound(err) || waitCtx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	return &decision, nil
}

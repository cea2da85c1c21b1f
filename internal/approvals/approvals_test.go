package approvals

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardBroker(auto AutoDecider) *Broker {
	return NewBroker(auto, nil)
}

func TestBrokerRegisterThenDecide(t *testing.T) {
	b := discardBroker(nil)
	resp := b.Register(Request{ID: "ap-1", Command: "rm -rf build", TimeoutMs: 60_000})
	if resp.Decision != nil {
		t.Fatal("no auto decider configured, decision should be empty")
	}
	if resp.ExpiresAtMs == 0 {
		t.Error("expiry missing")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := b.Decide("ap-1", "allow-once"); err != nil {
			t.Error(err)
		}
	}()

	decision, err := b.WaitDecision(context.Background(), "ap-1")
	if err != nil {
		t.Fatal(err)
	}
	if decision != "allow-once" {
		t.Errorf("decision = %q", decision)
	}
}

func TestBrokerFirstDecisionWins(t *testing.T) {
	b := discardBroker(nil)
	b.Register(Request{ID: "ap-1", Command: "x", TimeoutMs: 60_000})

	if err := b.Decide("ap-1", "allow"); err != nil {
		t.Fatal(err)
	}
	if err := b.Decide("ap-1", "deny"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second decide = %v, want ErrNotFound", err)
	}
	decision, err := b.WaitDecision(context.Background(), "ap-1")
	if err != nil || decision != "allow" {
		t.Errorf("decision = %q, %v", decision, err)
	}
}

func TestBrokerRegisterIsIdempotent(t *testing.T) {
	b := discardBroker(nil)
	first := b.Register(Request{ID: "ap-1", Command: "x", TimeoutMs: 60_000})

	if err := b.Decide("ap-1", "allow"); err != nil {
		t.Fatal(err)
	}

	// A retried register must return the live entry, decision included, not
	// reset it.
	again := b.Register(Request{ID: "ap-1", Command: "x", TimeoutMs: 60_000})
	if again.ExpiresAtMs != first.ExpiresAtMs {
		t.Errorf("expiry reset: %d != %d", again.ExpiresAtMs, first.ExpiresAtMs)
	}
	if again.Decision == nil || *again.Decision != "allow" {
		t.Errorf("decision = %v, want allow", again.Decision)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	decision, err := b.WaitDecision(ctx, "ap-1")
	if err != nil {
		t.Fatalf("decision lost after duplicate register: %v", err)
	}
	if decision != "allow" {
		t.Errorf("decision = %q", decision)
	}
}

func TestBrokerConcurrentDecideAndWait(t *testing.T) {
	b := discardBroker(nil)
	for i := 0; i < 20; i++ {
		id := "ap-" + string(rune('a'+i))
		b.Register(Request{ID: id, Command: "x", TimeoutMs: 60_000})

		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := b.WaitDecision(context.Background(), id); err != nil {
				t.Error(err)
			}
		}()
		if err := b.Decide(id, "allow"); err != nil {
			t.Fatal(err)
		}
		<-done
	}
}

func TestBrokerExpiredWaitIsNotFound(t *testing.T) {
	b := discardBroker(nil)
	b.Register(Request{ID: "ap-1", Command: "x", TimeoutMs: 1})
	time.Sleep(5 * time.Millisecond)

	if _, err := b.WaitDecision(context.Background(), "ap-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := b.Decide("ap-1", "allow"); !errors.Is(err, ErrNotFound) {
		t.Errorf("decide on expired = %v, want ErrNotFound", err)
	}
}

func TestBrokerAutoDecision(t *testing.T) {
	allow := "allow"
	b := discardBroker(func(req Request) *string {
		if req.Security == "safe" {
			return &allow
		}
		return nil
	})

	resp := b.Register(Request{ID: "ap-1", Command: "ls", Security: "safe"})
	if resp.Decision == nil || *resp.Decision != "allow" {
		t.Errorf("decision = %v", resp.Decision)
	}
	if len(b.Pending()) != 0 {
		t.Error("auto-decided request should not be pending")
	}
}

func TestBrokerSweep(t *testing.T) {
	b := discardBroker(nil)
	b.Register(Request{ID: "stale", Command: "x", TimeoutMs: 1})
	b.Register(Request{ID: "live", Command: "y", TimeoutMs: 60_000})
	time.Sleep(5 * time.Millisecond)

	if n := b.Sweep(); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if got := b.Pending(); len(got) != 1 || got[0].ID != "live" {
		t.Errorf("pending = %+v", got)
	}
}

type fakeRPC struct {
	registerErr   error
	registerResp  RegisterResponse
	waitDecision  string
	waitErr       error
	registerCalls int32
	waitCalls     int32
}

func (f *fakeRPC) RegisterApproval(ctx context.Context, req Request) (RegisterResponse, error) {
	atomic.AddInt32(&f.registerCalls, 1)
	if f.registerErr != nil {
		return RegisterResponse{}, f.registerErr
	}
	resp := f.registerResp
	if resp.ID == "" {
		resp.ID = req.ID
	}
	return resp, nil
}

func (f *fakeRPC) WaitApprovalDecision(ctx context.Context, id string) (string, error) {
	atomic.AddInt32(&f.waitCalls, 1)
	return f.waitDecision, f.waitErr
}

func TestCoordinatorRegistrationFailureIsWrapped(t *testing.T) {
	rpc := &fakeRPC{registerErr: errors.New("gateway unreachable")}
	c := NewCoordinator(rpc)

	_, err := c.AwaitDecision(context.Background(), Request{ID: "ap-1", Command: "x"}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "Exec approval registration failed:") {
		t.Errorf("err = %v", err)
	}
}

func TestCoordinatorPendingOnlyAfterRegistration(t *testing.T) {
	rpc := &fakeRPC{waitDecision: "allow"}
	c := NewCoordinator(rpc)

	pendingSeen := false
	decision, err := c.AwaitDecision(context.Background(), Request{ID: "ap-1", Command: "x"}, func() {
		pendingSeen = true
		if atomic.LoadInt32(&rpc.registerCalls) != 1 {
			t.Error("pending reported before registration completed")
		}
		if atomic.LoadInt32(&rpc.waitCalls) != 0 {
			t.Error("pending reported after the wait already started")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !pendingSeen {
		t.Error("onPending never ran")
	}
	if decision == nil || *decision != "allow" {
		t.Errorf("decision = %v", decision)
	}
}

func TestCoordinatorImmediateDecisionSkipsWait(t *testing.T) {
	allow := "allow"
	rpc := &fakeRPC{registerResp: RegisterResponse{ID: "ap-1", Decision: &allow}}
	c := NewCoordinator(rpc)

	decision, err := c.AwaitDecision(context.Background(), Request{ID: "ap-1", Command: "x"}, func() {
		t.Error("auto-approved request must not report pending")
	})
	if err != nil {
		t.Fatal(err)
	}
	if decision == nil || *decision != "allow" {
		t.Errorf("decision = %v", decision)
	}
	if atomic.LoadInt32(&rpc.waitCalls) != 0 {
		t.Error("waitDecision called despite immediate decision")
	}
}

func TestCoordinatorNotFoundMeansNilDecision(t *testing.T) {
	rpc := &fakeRPC{waitErr: errors.New("rpc: approval expired or not found")}
	c := NewCoordinator(rpc)

	decision, err := c.AwaitDecision(context.Background(), Request{ID: "ap-1", Command: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decision != nil {
		t.Errorf("decision = %v, want nil", decision)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("sentinel not matched")
	}
	if !IsNotFound(errors.New("remote: approval expired or not found")) {
		t.Error("text form not matched")
	}
	if IsNotFound(errors.New("boom")) || IsNotFound(nil) {
		t.Error("false positive")
	}
}

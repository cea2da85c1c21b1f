package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/config"
)

// fakePlugin is a minimal AccountRunner + Prober for supervisor tests.
type fakePlugin struct {
	MetaPlugin
	accounts []string

	mu           sync.Mutex
	probeStarted []string
	probeRelease chan struct{}
	started      []string
}

func newFakePlugin(accounts ...string) *fakePlugin {
	return &fakePlugin{
		MetaPlugin:   MetaPlugin{ChannelID: "fake", ActionIDs: []string{ActionSend}},
		accounts:     accounts,
		probeRelease: make(chan struct{}),
	}
}

func (p *fakePlugin) ListAccounts(cfg *config.Config) []string { return p.accounts }

func (p *fakePlugin) ResolveAccount(cfg *config.Config, accountID string) (ResolvedAccount, error) {
	return ResolvedAccount{ChannelID: "fake", AccountID: accountID}, nil
}

func (p *fakePlugin) Probe(ctx context.Context, account ResolvedAccount) ProbeResult {
	p.mu.Lock()
	p.probeStarted = append(p.probeStarted, account.AccountID)
	p.mu.Unlock()
	select {
	case <-p.probeRelease:
		return ProbeResult{OK: true}
	case <-ctx.Done():
		return ProbeResult{OK: false, Err: ctx.Err()}
	}
}

func (p *fakePlugin) StartAccount(ctx context.Context, deps RunnerDeps, account ResolvedAccount) error {
	p.mu.Lock()
	p.started = append(p.started, account.AccountID)
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePlugin) probesStarted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probeStarted...)
}

func supervisorConfig() *config.Config {
	cfg := config.Default()
	cfg.Channels = map[string]config.ChannelConfig{
		"fake": {Enabled: boolPtr(true)},
	}
	return cfg
}

// Preflight probes run strictly one at a time, and an abort mid-probe stops
// the remaining preflight without starting later accounts.
func TestPreflightProbesAreSequential(t *testing.T) {
	plugin := newFakePlugin("alpha", "beta", "gamma")
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.StartChannel(ctx, "fake") }()

	// With the first probe blocked, no second probe may begin.
	deadline := time.After(time.Second)
	for len(plugin.probesStarted()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first probe never started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := plugin.probesStarted(); len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("probes started = %v, want [alpha] while first is blocked", got)
	}

	// Abort mid-probe: preflight stops, no monitors start.
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error from aborted preflight")
		}
	case <-time.After(time.Second):
		t.Fatal("StartChannel did not return after abort")
	}
	if got := plugin.probesStarted(); len(got) != 1 {
		t.Errorf("probes after abort = %v, want only alpha", got)
	}
	plugin.mu.Lock()
	started := len(plugin.started)
	plugin.mu.Unlock()
	if started != 0 {
		t.Errorf("monitors started after aborted preflight: %d", started)
	}
}

// Releasing probes lets all three accounts start, still without overlap.
func TestPreflightRunsAllAccountsAfterRelease(t *testing.T) {
	plugin := newFakePlugin("alpha", "beta", "gamma")
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	close(plugin.probeRelease)

	if err := sup.StartChannel(ctx, "fake"); err != nil {
		t.Fatal(err)
	}
	if got := plugin.probesStarted(); len(got) != 3 {
		t.Errorf("probes = %v, want all three", got)
	}
	if n := sup.RunningAccounts("fake"); n != 3 {
		t.Errorf("running accounts = %d, want 3", n)
	}

	// Each monitor registered exactly one task and cancellation removes it.
	sup.StopAll()
	if n := sup.RunningAccounts("fake"); n != 0 {
		t.Errorf("accounts leaked after StopAll: %d", n)
	}
}

func TestStopAccountIsIdempotent(t *testing.T) {
	plugin := newFakePlugin("alpha")
	close(plugin.probeRelease)
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.StartChannel(ctx, "fake"); err != nil {
		t.Fatal(err)
	}
	sup.StopAccount("fake", "alpha")
	sup.StopAccount("fake", "alpha") // second stop must not block or panic
	if n := sup.RunningAccounts("fake"); n != 0 {
		t.Errorf("running accounts = %d after stop", n)
	}
}

func TestStatusPatchesMergeFields(t *testing.T) {
	task := &accountTask{status: AccountStatus{Running: true}}
	connected := true
	openID := "bot-1"
	task.patch(StatusPatch{Connected: &connected, BotOpenID: &openID})

	lastErr := "ws closed"
	task.patch(StatusPatch{LastError: &lastErr})

	task.mu.Lock()
	st := task.status
	task.mu.Unlock()
	if !st.Connected || st.BotOpenID != "bot-1" || st.LastError != "ws closed" {
		t.Errorf("patched status = %+v", st)
	}
	if !st.Running {
		t.Error("patch must not clobber Running")
	}
}

func TestRegistryImmutableSnapshot(t *testing.T) {
	reg := TestRegistry(newFakePlugin("a"))
	ids := reg.IDs()
	ids[0] = "mutated"
	if got := reg.IDs()[0]; got != "fake" {
		t.Errorf("registry ids leaked mutable state: %q", got)
	}
}

func TestDefaultRegistryCoversBuiltinChannels(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{ChannelSlack, ChannelMatrix, ChannelEmail} {
		if _, ok := reg.Get(id); !ok {
			t.Errorf("builtin channel %s missing from default registry", id)
		}
	}
}

// fakeMessenger records outbound sends.
type fakeMessenger struct {
	MetaPlugin
	mu    sync.Mutex
	sends []bus.OutboundMessage
}

func (p *fakeMessenger) ResolveAccount(cfg *config.Config, accountID string) (ResolvedAccount, error) {
	return ResolvedAccount{ChannelID: p.ChannelID, AccountID: accountID}, nil
}

func (p *fakeMessenger) NormalizeTarget(raw string) string { return raw }

func (p *fakeMessenger) Send(ctx context.Context, account ResolvedAccount, msg bus.OutboundMessage) (SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, msg)
	return SentMessage{MessageID: "m1"}, nil
}

func (p *fakeMessenger) sent() []bus.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.OutboundMessage(nil), p.sends...)
}

func TestDeliverStripsDirectiveTags(t *testing.T) {
	plugin := &fakeMessenger{MetaPlugin: MetaPlugin{ChannelID: "fake"}}
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	sup.deliver(context.Background(), bus.OutboundMessage{
		Channel: "fake", ChatID: "c1", Content: "build finished [[reply_to_current]]",
	})

	sends := plugin.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].Content != "build finished" {
		t.Errorf("content = %q", sends[0].Content)
	}
}

// A turn whose visible text is all directives still produces a message
// object; only the text is blanked.
func TestDeliverDirectiveOnlyTurnSendsBlankMessage(t *testing.T) {
	plugin := &fakeMessenger{MetaPlugin: MetaPlugin{ChannelID: "fake"}}
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	sup.deliver(context.Background(), bus.OutboundMessage{
		Channel: "fake", ChatID: "c1", Content: "[[usage_update:done]]",
	})

	sends := plugin.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1 blank-text message", len(sends))
	}
	if sends[0].Content != "" {
		t.Errorf("content = %q, want blank", sends[0].Content)
	}
	if sends[0].ChatID != "c1" {
		t.Errorf("chat = %q", sends[0].ChatID)
	}
}

func TestDeliverMediaOnlyMessage(t *testing.T) {
	plugin := &fakeMessenger{MetaPlugin: MetaPlugin{ChannelID: "fake"}}
	sup := NewSupervisor(TestRegistry(plugin), bus.NewMessageBus(), supervisorConfig())

	sup.deliver(context.Background(), bus.OutboundMessage{
		Channel: "fake", ChatID: "c1",
		Media: []bus.MediaAttachment{{URL: "https://example.com/chart.png"}},
	})

	sends := plugin.sent()
	if len(sends) != 1 || len(sends[0].Media) != 1 {
		t.Fatalf("sends = %+v", sends)
	}
}

func TestWatchdogArmDisarm(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(30*time.Millisecond, func() { fired <- struct{}{} })

	w.Arm()
	w.Disarm()
	select {
	case <-fired:
		t.Fatal("disarmed watchdog fired")
	case <-time.After(80 * time.Millisecond):
	}

	w.Arm()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("armed watchdog never fired")
	}
}

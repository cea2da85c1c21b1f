package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/openclaw/internal/acp"
	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/config"
)

// StartupProbeTimeout bounds one account preflight probe.
const StartupProbeTimeout = 10 * time.Second

// ErrFatalMonitor marks monitor failures that must stop the account task
// (but never the process): disallowed intents, exhausted reconnects,
// explicit force-stop.
var ErrFatalMonitor = errors.New("fatal channel monitor error")

// AccountStatus is the live status record the supervisor publishes for each
// account. Patches replace only the fields the monitor reports.
type AccountStatus struct {
	Connected       bool   `json:"connected"`
	Running         bool   `json:"running"`
	BotOpenID       string `json:"botOpenId,omitempty"`
	LastEventAt     int64  `json:"lastEventAt,omitempty"` // unix ms
	LastConnectedAt int64  `json:"lastConnectedAt,omitempty"`
	LastDisconnect  string `json:"lastDisconnect,omitempty"`
	LastError       string `json:"lastError,omitempty"`
}

// StatusPatch carries partial status updates from a monitor. Nil fields are
// left untouched.
type StatusPatch struct {
	Connected       *bool
	BotOpenID       *string
	LastEventAt     *int64
	LastConnectedAt *int64
	LastDisconnect  *string
	LastError       *string
}

// RunnerDeps is what the supervisor hands each account monitor. Monitors
// publish inbound messages to the bus and status patches back through the
// supervisor; they never own process-wide state.
type RunnerDeps struct {
	Bus    *bus.MessageBus
	Config *config.Config
	Status func(patch StatusPatch)
	Logger *slog.Logger
}

type accountTask struct {
	channelID string
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	status AccountStatus
}

func (t *accountTask) patch(p StatusPatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Connected != nil {
		t.status.Connected = *p.Connected
	}
	if p.BotOpenID != nil {
		t.status.BotOpenID = *p.BotOpenID
	}
	if p.LastEventAt != nil {
		t.status.LastEventAt = *p.LastEventAt
	}
	if p.LastConnectedAt != nil {
		t.status.LastConnectedAt = *p.LastConnectedAt
	}
	if p.LastDisconnect != nil {
		t.status.LastDisconnect = *p.LastDisconnect
	}
	if p.LastError != nil {
		t.status.LastError = *p.LastError
	}
}

// Supervisor owns the account lifecycle for every enabled channel: sequential
// startup preflight, one monitor task per account, cancellation, and the
// outbound dispatch loop. It is the single owner of transport handles.
type Supervisor struct {
	registry *Registry
	bus      *bus.MessageBus
	cfg      *config.Config

	mu    sync.RWMutex
	tasks map[string]*accountTask // key: channelID + ":" + accountID

	dispatchCancel context.CancelFunc

	// probeOverride substitutes the plugin probe in tests.
	probeOverride func(ctx context.Context, p Plugin, account ResolvedAccount) ProbeResult
}

// NewSupervisor creates a supervisor over the given registry and bus.
func NewSupervisor(registry *Registry, msgBus *bus.MessageBus, cfg *config.Config) *Supervisor {
	return &Supervisor{
		registry: registry,
		bus:      msgBus,
		cfg:      cfg,
		tasks:    make(map[string]*accountTask),
	}
}

func taskKey(channelID, accountID string) string { return channelID + ":" + accountID }

// StartAll starts every enabled channel and the outbound dispatcher. Channel
// start failures are logged, never fatal to the process.
func (s *Supervisor) StartAll(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.dispatchCancel = cancel
	s.mu.Unlock()
	go s.dispatchOutbound(dispatchCtx)

	started := 0
	for _, id := range s.registry.IDs() {
		ch, ok := s.cfg.Channels[id]
		if !ok || !ch.IsEnabled() {
			continue
		}
		if err := s.StartChannel(ctx, id); err != nil {
			slog.Error("channel start failed", "channel", id, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		slog.Warn("no channels enabled")
	}
	return nil
}

// StartChannel runs the startup sequence for one channel: enumerate accounts,
// probe them strictly sequentially, then start a monitor task per account.
func (s *Supervisor) StartChannel(ctx context.Context, channelID string) error {
	plugin, ok := s.registry.Get(channelID)
	if !ok {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	runner, hasRunner := plugin.(AccountRunner)
	if !hasRunner {
		slog.Debug("channel has no account monitor", "channel", channelID)
		return nil
	}

	accountIDs := plugin.ListAccounts(s.cfg)
	accounts := make([]ResolvedAccount, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		account, err := plugin.ResolveAccount(s.cfg, accountID)
		if err != nil {
			slog.Error("account resolve failed", "channel", channelID, "account", accountID, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}

	// Preflight: strictly sequential, one probe at a time, so startup never
	// hammers the provider with a thundering herd. An abort mid-probe stops
	// the remaining preflight immediately.
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := s.probe(ctx, plugin, account)
		if !res.OK {
			slog.Warn("account preflight probe failed",
				"channel", channelID, "account", account.AccountID, "error", res.Err)
		}
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.startMonitor(ctx, runner, account)
	}
	return nil
}

func (s *Supervisor) probe(ctx context.Context, plugin Plugin, account ResolvedAccount) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, StartupProbeTimeout)
	defer cancel()

	if s.probeOverride != nil {
		return s.probeOverride(probeCtx, plugin, account)
	}
	prober, ok := plugin.(Prober)
	if !ok {
		return ProbeResult{OK: true}
	}
	res := prober.Probe(probeCtx, account)
	if !res.OK && res.Err == nil && probeCtx.Err() != nil {
		res.Err = fmt.Errorf("probe timed out after %dms", StartupProbeTimeout.Milliseconds())
	}
	return res
}

// startMonitor launches (or replaces) the monitor task for one account.
func (s *Supervisor) startMonitor(ctx context.Context, runner AccountRunner, account ResolvedAccount) {
	key := taskKey(account.ChannelID, account.AccountID)

	s.mu.Lock()
	if old, ok := s.tasks[key]; ok {
		old.cancel()
		<-old.done
	}
	monCtx, cancel := context.WithCancel(ctx)
	task := &accountTask{
		channelID: account.ChannelID,
		accountID: account.AccountID,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    AccountStatus{Running: true},
	}
	s.tasks[key] = task
	s.mu.Unlock()

	deps := RunnerDeps{
		Bus:    s.bus,
		Config: s.cfg,
		Status: task.patch,
		Logger: slog.With("channel", account.ChannelID, "account", account.AccountID),
	}

	go func() {
		defer close(task.done)
		defer func() {
			task.mu.Lock()
			task.status.Running = false
			task.status.Connected = false
			task.mu.Unlock()
		}()

		err := runner.StartAccount(monCtx, deps, account)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			deps.Logger.Info("account monitor stopped")
		case errors.Is(err, ErrFatalMonitor):
			deps.Logger.Error("account monitor stopped fatally", "error", err)
			msg := err.Error()
			task.patch(StatusPatch{LastError: &msg})
		default:
			deps.Logger.Error("account monitor exited", "error", err)
			msg := err.Error()
			task.patch(StatusPatch{LastError: &msg})
		}
	}()
}

// StopAccount cancels one account monitor and waits for it to release its
// transport. Idempotent: stopping an absent account is a no-op.
func (s *Supervisor) StopAccount(channelID, accountID string) {
	key := taskKey(channelID, accountID)
	s.mu.Lock()
	task, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

// StopAll stops the dispatcher and every account monitor.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	if s.dispatchCancel != nil {
		s.dispatchCancel()
		s.dispatchCancel = nil
	}
	tasks := make([]*accountTask, 0, len(s.tasks))
	for key, t := range s.tasks {
		tasks = append(tasks, t)
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
	slog.Info("all channels stopped")
}

// Status returns a snapshot of every account's status, keyed
// channel:account.
func (s *Supervisor) Status() map[string]AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]AccountStatus, len(s.tasks))
	for key, t := range s.tasks {
		t.mu.Lock()
		out[key] = t.status
		t.mu.Unlock()
	}
	return out
}

// RunningAccounts reports how many monitors a channel currently has.
func (s *Supervisor) RunningAccounts(channelID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if t.channelID == channelID {
			n++
		}
	}
	return n
}

// dispatchOutbound consumes outbound messages from the bus and routes them
// to the owning plugin's messaging adapter. Internal channels are skipped.
func (s *Supervisor) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		if IsInternalChannel(msg.Channel) {
			continue
		}
		s.deliver(ctx, msg)
	}
}

func (s *Supervisor) deliver(ctx context.Context, msg bus.OutboundMessage) {
	plugin, ok := s.registry.Get(msg.Channel)
	if !ok {
		slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
		return
	}
	messenger, ok := plugin.(Messenger)
	if !ok {
		slog.Warn("channel has no messaging adapter", "channel", msg.Channel)
		return
	}
	account, err := plugin.ResolveAccount(s.cfg, msg.AccountID)
	if err != nil {
		slog.Error("outbound account resolve failed", "channel", msg.Channel, "error", err)
		return
	}

	if msg.Content == "" {
		// Media-only message; nothing for the coordinator to buffer.
		if _, err := messenger.Send(ctx, account, msg); err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		}
	} else {
		// One bus message is one completed turn: the coordinator strips
		// gateway-internal directive tags and still emits a message object
		// when nothing visible remains.
		coord := acp.NewCoordinator(
			&outboundSender{messenger: messenger, account: account, template: msg},
			acp.Options{AccountID: account.AccountID, ConversationID: msg.ChatID},
		)
		err := coord.HandleEvent(ctx, acp.Event{Kind: acp.KindText, Text: msg.Content, Terminal: true})
		if err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		}
	}

	// Tool-generated media files are only needed for the send.
	for _, media := range msg.Media {
		if media.URL != "" && !strings.Contains(media.URL, "://") {
			if err := os.Remove(media.URL); err != nil {
				slog.Debug("media file cleanup failed", "path", media.URL, "error", err)
			}
		}
	}
}

// outboundSender adapts a channel messaging adapter to the delivery
// coordinator. The template carries everything but content: reply target,
// thread, media.
type outboundSender struct {
	messenger Messenger
	account   ResolvedAccount
	template  bus.OutboundMessage
}

func (o *outboundSender) Send(ctx context.Context, conversationID, text string) (string, error) {
	out := o.template
	out.ChatID = conversationID
	out.Content = text
	sent, err := o.messenger.Send(ctx, o.account, out)
	if err != nil {
		return "", err
	}
	return sent.MessageID, nil
}

func (o *outboundSender) Edit(ctx context.Context, conversationID, messageID, text string) error {
	editor, ok := o.messenger.(Editor)
	if !ok {
		return fmt.Errorf("channel %s cannot edit messages", o.account.ChannelID)
	}
	out := o.template
	out.ChatID = conversationID
	out.Content = text
	return editor.Edit(ctx, o.account, messageID, out)
}

// Package feishu implements the Feishu/Lark channel plugin with two
// connection modes: the event-stream WebSocket (default) and a webhook
// server guarded by the shared webhook kit.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/webhook"
)

const (
	defaultWebhookPort = 18792
	defaultWebhookPath = "/feishu/events"
	textChunkLimit     = 4000
)

type accountConfig struct {
	AppID             string `json:"appId"`
	AppSecret         string `json:"appSecret"`
	Domain            string `json:"domain,omitempty"`         // feishu | lark | full URL
	ConnectionMode    string `json:"connectionMode,omitempty"` // websocket | webhook
	VerificationToken string `json:"verificationToken,omitempty"`
	RequireMention    *bool  `json:"requireMention,omitempty"`
}

// Plugin is the Feishu/Lark channel plugin.
type Plugin struct {
	// Guard state shared by all webhook accounts of this process.
	limiter *webhook.RateLimiter
	dedup   *webhook.DedupCache
	anomaly *webhook.AnomalyTracker
}

func New() *Plugin {
	return &Plugin{
		limiter: webhook.NewRateLimiter(webhook.DefaultRateWindow, webhook.DefaultRateMaxRequests, webhook.DefaultMaxTrackedKeys),
		dedup:   webhook.NewDedupCache(webhook.DefaultReplayWindow, webhook.DefaultReplayMaxKeys),
		anomaly: webhook.NewAnomalyTracker(0),
	}
}

func (p *Plugin) ID() string { return channels.ChannelFeishu }

func (p *Plugin) Meta() channels.Meta {
	return channels.Meta{
		Label:    "Feishu",
		DocsPath: "channels/feishu",
		Blurb:    "Feishu/Lark via event stream or webhook",
	}
}

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes:       []string{"direct", "group"},
		Media:           true,
		SupportsButtons: true,
	}
}

func (p *Plugin) ListAccounts(cfg *config.Config) []string {
	return channels.ListConfiguredAccounts(cfg, channels.ChannelFeishu)
}

func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) (channels.ResolvedAccount, error) {
	return channels.ResolveConfiguredAccount(cfg, channels.ChannelFeishu, accountID)
}

func (p *Plugin) Actions(cfg *config.Config) []string {
	return []string{channels.ActionSend, channels.ActionEdit, channels.ActionReact}
}

func decodeAccount(account channels.ResolvedAccount) (accountConfig, error) {
	var ac accountConfig
	if len(account.Raw) > 0 {
		if err := json.Unmarshal(account.Raw, &ac); err != nil {
			return ac, fmt.Errorf("feishu account %s: %w", account.AccountID, err)
		}
	}
	if ac.AppID == "" || ac.AppSecret == "" {
		return ac, fmt.Errorf("feishu account %s: appId/appSecret missing", account.AccountID)
	}
	return ac, nil
}

// Probe resolves the bot identity.
func (p *Plugin) Probe(ctx context.Context, account channels.ResolvedAccount) channels.ProbeResult {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	openID, err := NewClient(ac.AppID, ac.AppSecret, ac.Domain).GetBotInfo(ctx)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	return channels.ProbeResult{OK: true, BotOpenID: openID}
}

// monitor is the per-account event pump shared by both connection modes.
type monitor struct {
	plugin  *Plugin
	deps    channels.RunnerDeps
	account channels.ResolvedAccount
	ac      accountConfig
	client  *Client

	mu        sync.Mutex
	botOpenID string
	ownMsgs   map[string]bool // message ids the bot sent this session
}

// StartAccount runs the monitor until cancellation.
func (p *Plugin) StartAccount(ctx context.Context, deps channels.RunnerDeps, account channels.ResolvedAccount) error {
	ac, err := decodeAccount(account)
	if err != nil {
		return err
	}
	m := &monitor{
		plugin:  p,
		deps:    deps,
		account: account,
		ac:      ac,
		client:  NewClient(ac.AppID, ac.AppSecret, ac.Domain),
		ownMsgs: map[string]bool{},
	}

	if openID, err := m.client.GetBotInfo(ctx); err != nil {
		deps.Logger.Warn("feishu bot probe failed, continuing", "error", err)
	} else {
		m.mu.Lock()
		m.botOpenID = openID
		m.mu.Unlock()
		deps.Status(channels.StatusPatch{BotOpenID: &openID})
	}

	if ac.ConnectionMode == "webhook" {
		return m.runWebhook(ctx)
	}
	return m.runWebSocket(ctx)
}

func (m *monitor) runWebSocket(ctx context.Context) error {
	ws := NewWSClient(m.client, m.deps.Logger, m.dispatch, func(connected bool, reason string) {
		nowMs := time.Now().UnixMilli()
		patch := channels.StatusPatch{Connected: &connected}
		if connected {
			patch.LastConnectedAt = &nowMs
		} else {
			patch.LastDisconnect = &reason
		}
		m.deps.Status(patch)
	})
	return ws.Run(ctx)
}

func (m *monitor) runWebhook(ctx context.Context) error {
	if m.ac.VerificationToken == "" {
		return fmt.Errorf("feishu webhook mode requires verificationToken")
	}
	host := m.account.Config.WebhookHost
	port := m.account.Config.WebhookPort
	if port <= 0 {
		port = defaultWebhookPort
	}
	path := m.account.Config.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, m.handleWebhook)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	m.deps.Logger.Info("feishu webhook listening", "addr", server.Addr, "path", path)
	connected := true
	m.deps.Status(channels.StatusPatch{Connected: &connected})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("feishu webhook server: %w", err)
	}
}

func (m *monitor) handleWebhook(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path + "|" + webhook.RemoteHost(r)
	ok := webhook.ApplyBasicGuards(w, r, webhook.GuardOptions{
		AllowMethods:           []string{http.MethodPost},
		RateLimiter:            m.plugin.limiter,
		RateLimitKey:           key,
		RequireJSONContentType: true,
	})
	if !ok {
		m.plugin.anomaly.Record(key, http.StatusTooManyRequests, m.deps.Logger, nil)
		return
	}

	var payload struct {
		Envelope
		Challenge string `json:"challenge"`
		Token     string `json:"token"`
		Type      string `json:"type"`
	}
	if !webhook.ReadJSONBody(w, r, &payload, webhook.BodyOptions{}) {
		m.plugin.anomaly.Record(key, http.StatusBadRequest, m.deps.Logger, nil)
		return
	}

	// URL verification challenge precedes token-authenticated traffic.
	if payload.Type == "url_verification" {
		if payload.Token != m.ac.VerificationToken {
			webhook.WriteError(w, http.StatusUnauthorized, "bad token")
			return
		}
		webhook.SetSecurityHeaders(w.Header(), "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": payload.Challenge})
		return
	}

	env := payload.Envelope
	if env.Header.Token != m.ac.VerificationToken {
		m.plugin.anomaly.Record(key, http.StatusUnauthorized, m.deps.Logger, nil)
		webhook.WriteError(w, http.StatusUnauthorized, "bad token")
		return
	}

	// Replay dedup by (event type, event id).
	if !m.plugin.dedup.CheckDedup(env.Header.EventType+"|"+env.Header.EventID, time.Now()) {
		w.WriteHeader(http.StatusOK)
		return
	}

	go m.dispatch(&env)
	w.WriteHeader(http.StatusOK)
}

// dispatch fans an envelope out to the event handlers. Fire-and-forget with
// error logging; the handler set is identical for WS and webhook modes.
func (m *monitor) dispatch(env *Envelope) {
	nowMs := time.Now().UnixMilli()
	m.deps.Status(channels.StatusPatch{LastEventAt: &nowMs})

	switch env.Header.EventType {
	case EventMessageReceive:
		var ev MessageEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			m.deps.Logger.Debug("feishu message parse failed", "error", err)
			return
		}
		m.handleMessage(&ev)
	case EventReactionCreated:
		var ev ReactionEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			return
		}
		m.handleReaction(&ev)
	case EventBotAdded, EventBotDeleted:
		m.deps.Logger.Info("feishu chat membership changed", "event", env.Header.EventType)
	case EventMessageRead, EventReactionDeleted:
		// Registered but intentionally ignored.
	case EventCardActionTrigger:
		m.deps.Logger.Debug("feishu card action", "event_id", env.Header.EventID)
	default:
		m.deps.Logger.Debug("feishu event skipped", "type", env.Header.EventType)
	}
}

func (m *monitor) handleMessage(ev *MessageEvent) {
	m.mu.Lock()
	botOpenID := m.botOpenID
	m.mu.Unlock()

	if ev.Sender.SenderID.OpenID == botOpenID {
		return
	}
	isGroup := ev.Message.ChatType == "group"
	sender := channels.Sender{ID: ev.Sender.SenderID.OpenID}

	dec := channels.EvaluatePolicy(channels.PolicyInput{
		Config:                 m.deps.Config,
		Channel:                channels.ChannelFeishu,
		GroupID:                ev.Message.ChatID,
		AccountID:              m.account.AccountID,
		IsGroup:                isGroup,
		Sender:                 sender,
		RequireMentionOverride: m.ac.RequireMention,
	})
	if !dec.Allow {
		m.deps.Logger.Debug("feishu message dropped", "reason", dec.Reason, "chat", ev.Message.ChatID)
		return
	}
	if isGroup && dec.RequireMention && !ev.MentionsBot(botOpenID) {
		return
	}

	content := ev.ParseText()
	if content == "" {
		return
	}

	m.deps.Bus.PublishInbound(bus.InboundMessage{
		Channel:   channels.ChannelFeishu,
		AccountID: m.account.AccountID,
		SenderID:  sender.ID,
		ChatID:    ev.Message.ChatID,
		ThreadID:  ev.Message.RootID,
		Content:   content,
		PeerKind:  string(sessions.PeerKindFromGroup(isGroup)),
		MessageID: ev.Message.MessageID,
	})
}

func (m *monitor) handleReaction(ev *ReactionEvent) {
	m.mu.Lock()
	botOpenID := m.botOpenID
	m.mu.Unlock()

	ok := FilterReaction(ev, botOpenID, func(messageID string) bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.ownMsgs[messageID]
	}, m.deps.Logger)
	if !ok {
		return
	}
	m.deps.Bus.Broadcast(bus.Event{
		Name: "channel.reaction",
		Payload: map[string]string{
			"channel":   channels.ChannelFeishu,
			"messageId": ev.MessageID,
			"emoji":     ev.ReactionType.EmojiType,
			"sender":    ev.UserID.OpenID,
		},
	})
}

// NormalizeTarget accepts "feishu:<chatId>" or a bare open/chat id.
func (p *Plugin) NormalizeTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.TrimPrefix(raw, "feishu:")
}

// Send delivers a text message (chunked); EditMessageID requests an edit.
func (p *Plugin) Send(ctx context.Context, account channels.ResolvedAccount, msg bus.OutboundMessage) (channels.SentMessage, error) {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.SentMessage{}, err
	}
	client := NewClient(ac.AppID, ac.AppSecret, ac.Domain)
	chatID := p.NormalizeTarget(msg.ChatID)

	if msg.EditMessageID != "" {
		if err := client.EditText(ctx, msg.EditMessageID, msg.Content); err != nil {
			return channels.SentMessage{}, err
		}
		return channels.SentMessage{MessageID: msg.EditMessageID}, nil
	}

	receiveIDType := resolveReceiveIDType(chatID)
	var lastID string
	text := msg.Content
	for len(text) > 0 {
		chunk := text
		if len(chunk) > textChunkLimit {
			chunk = text[:textChunkLimit]
		}
		text = text[len(chunk):]
		id, err := client.SendText(ctx, receiveIDType, chatID, chunk)
		if err != nil {
			return channels.SentMessage{}, err
		}
		lastID = id
	}
	return channels.SentMessage{MessageID: lastID}, nil
}

// Package zalo implements the Zalo Bot API channel plugin in webhook mode.
// Zalo authenticates webhooks with the x-bot-api-secret-token header.
package zalo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/webhook"
)

const (
	apiBaseURL         = "https://bot-api.zapps.me/bot"
	secretTokenHeader  = "x-bot-api-secret-token"
	defaultWebhookPort = 18793
	defaultWebhookPath = "/zalo/events"
	maxMessageLen      = 2048
)

type accountConfig struct {
	BotToken    string `json:"botToken"`
	SecretToken string `json:"secretToken"`
}

// webhookUpdate is the Zalo Bot API event payload.
type webhookUpdate struct {
	EventName string `json:"event_name"`
	Message   struct {
		MessageID string `json:"message_id"`
		Text      string `json:"text"`
		Date      int64  `json:"date"`
		From      struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			IsBot       bool   `json:"is_bot"`
		} `json:"from"`
		Chat struct {
			ID       string `json:"id"`
			ChatType string `json:"chat_type"` // USER | GROUP
		} `json:"chat"`
	} `json:"message"`
}

// Plugin is the Zalo channel plugin.
type Plugin struct {
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

func (p *Plugin) ID() string { return channels.ChannelZalo }

func (p *Plugin) Meta() channels.Meta {
	return channels.Meta{
		Label:    "Zalo",
		DocsPath: "channels/zalo",
		Blurb:    "Zalo Bot API via webhooks",
	}
}

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{ChatTypes: []string{"direct", "group"}, Media: true}
}

func (p *Plugin) ListAccounts(cfg *config.Config) []string {
	return channels.ListConfiguredAccounts(cfg, channels.ChannelZalo)
}

func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) (channels.ResolvedAccount, error) {
	return channels.ResolveConfiguredAccount(cfg, channels.ChannelZalo, accountID)
}

func (p *Plugin) Actions(cfg *config.Config) []string {
	return []string{channels.ActionSend}
}

func decodeAccount(account channels.ResolvedAccount) (accountConfig, error) {
	var ac accountConfig
	if len(account.Raw) > 0 {
		if err := json.Unmarshal(account.Raw, &ac); err != nil {
			return ac, fmt.Errorf("zalo account %s: %w", account.AccountID, err)
		}
	}
	if ac.BotToken == "" {
		return ac, fmt.Errorf("zalo account %s: botToken missing", account.AccountID)
	}
	if ac.SecretToken == "" {
		return ac, fmt.Errorf("zalo account %s: secretToken missing (webhook auth)", account.AccountID)
	}
	return ac, nil
}

// Probe calls getMe against the Bot API.
func (p *Plugin) Probe(ctx context.Context, account channels.ResolvedAccount) channels.ProbeResult {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := callAPI(ctx, ac.BotToken, "getMe", nil, &result); err != nil {
		return channels.ProbeResult{Err: err}
	}
	if !result.OK {
		return channels.ProbeResult{Err: fmt.Errorf("zalo getMe returned ok=false")}
	}
	return channels.ProbeResult{OK: true, BotOpenID: result.Result.ID}
}

// StartAccount runs the webhook server until cancellation.
func (p *Plugin) StartAccount(ctx context.Context, deps channels.RunnerDeps, account channels.ResolvedAccount) error {
	ac, err := decodeAccount(account)
	if err != nil {
		return err
	}

	host := account.Config.WebhookHost
	port := account.Config.WebhookPort
	if port <= 0 {
		port = defaultWebhookPort
	}
	path := account.Config.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, p.webhookHandler(deps, account, ac))
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	deps.Logger.Info("zalo webhook listening", "addr", server.Addr, "path", path)
	connected := true
	deps.Status(channels.StatusPatch{Connected: &connected})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("zalo webhook server: %w", err)
	}
}

func (p *Plugin) webhookHandler(deps channels.RunnerDeps, account channels.ResolvedAccount, ac accountConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "|" + webhook.RemoteHost(r)
		ok := webhook.ApplyBasicGuards(w, r, webhook.GuardOptions{
			AllowMethods:           []string{http.MethodPost},
			RateLimiter:            p.limiter,
			RateLimitKey:           key,
			RequireJSONContentType: true,
		})
		if !ok {
			p.anomaly.Record(key, http.StatusTooManyRequests, deps.Logger, nil)
			return
		}

		if r.Header.Get(secretTokenHeader) != ac.SecretToken {
			p.anomaly.Record(key, http.StatusUnauthorized, deps.Logger, nil)
			webhook.WriteError(w, http.StatusUnauthorized, "bad secret token")
			return
		}

		var update webhookUpdate
		if !webhook.ReadJSONBody(w, r, &update, webhook.BodyOptions{}) {
			p.anomaly.Record(key, http.StatusBadRequest, deps.Logger, nil)
			return
		}

		// Replay dedup by (event_name, message_id).
		dedupKey := update.EventName + "|" + update.Message.MessageID
		if !p.dedup.CheckDedup(dedupKey, time.Now()) {
			w.WriteHeader(http.StatusOK)
			return
		}

		go p.handleUpdate(deps, account, &update)
		w.WriteHeader(http.StatusOK)
	}
}

func (p *Plugin) handleUpdate(deps channels.RunnerDeps, account channels.ResolvedAccount, update *webhookUpdate) {
	if update.EventName != "message.text.received" || update.Message.From.IsBot {
		return
	}
	nowMs := time.Now().UnixMilli()
	deps.Status(channels.StatusPatch{LastEventAt: &nowMs})

	isGroup := strings.EqualFold(update.Message.Chat.ChatType, "GROUP")
	sender := channels.Sender{
		ID:   update.Message.From.ID,
		Name: update.Message.From.DisplayName,
	}

	dec := channels.EvaluatePolicy(channels.PolicyInput{
		Config:    deps.Config,
		Channel:   channels.ChannelZalo,
		GroupID:   update.Message.Chat.ID,
		AccountID: account.AccountID,
		IsGroup:   isGroup,
		Sender:    sender,
	})
	if !dec.Allow {
		deps.Logger.Debug("zalo message dropped", "reason", dec.Reason, "chat", update.Message.Chat.ID)
		return
	}
	if update.Message.Text == "" {
		return
	}

	deps.Bus.PublishInbound(bus.InboundMessage{
		Channel:   channels.ChannelZalo,
		AccountID: account.AccountID,
		SenderID:  sender.ID,
		ChatID:    update.Message.Chat.ID,
		Content:   update.Message.Text,
		PeerKind:  string(sessions.PeerKindFromGroup(isGroup)),
		MessageID: update.Message.MessageID,
		Metadata:  map[string]string{"display_name": sender.Name},
	})
}

// NormalizeTarget accepts "zalo:<chatId>" or a bare chat id.
func (p *Plugin) NormalizeTarget(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "zalo:")
}

// Send delivers a text message via the Bot API.
func (p *Plugin) Send(ctx context.Context, account channels.ResolvedAccount, msg bus.OutboundMessage) (channels.SentMessage, error) {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.SentMessage{}, err
	}
	chatID := p.NormalizeTarget(msg.ChatID)

	var lastID string
	text := msg.Content
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			chunk = text[:maxMessageLen]
		}
		text = text[len(chunk):]

		var result struct {
			OK     bool `json:"ok"`
			Result struct {
				MessageID string `json:"message_id"`
			} `json:"result"`
		}
		err := callAPI(ctx, ac.BotToken, "sendMessage", map[string]string{
			"chat_id": chatID,
			"text":    chunk,
		}, &result)
		if err != nil {
			return channels.SentMessage{}, err
		}
		if !result.OK {
			return channels.SentMessage{}, fmt.Errorf("zalo sendMessage returned ok=false")
		}
		lastID = result.Result.MessageID
	}
	return channels.SentMessage{MessageID: lastID}, nil
}

func callAPI(ctx context.Context, botToken, method string, body interface{}, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	url := fmt.Sprintf("%s%s/%s", apiBaseURL, botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("zalo api %s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zalo api %s decode: %w", method, err)
	}
	return nil
}

// Package telegram implements the Telegram channel plugin over the Bot API
// using long polling.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/netfix"
	"github.com/openclaw/openclaw/internal/sessions"
)

// maxMessageLen is Telegram's hard per-message limit.
const maxMessageLen = 4096

// pollBackoffMax caps the long-poll restart backoff.
const pollBackoffMax = 60 * time.Second

// accountConfig is the channel-specific account payload.
type accountConfig struct {
	BotToken       string `json:"botToken"`
	RequireMention *bool  `json:"requireMention,omitempty"`
}

// Plugin is the Telegram channel plugin.
type Plugin struct{}

// New creates the plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return channels.ChannelTelegram }

func (p *Plugin) Meta() channels.Meta {
	return channels.Meta{
		Label:    "Telegram",
		DocsPath: "channels/telegram",
		Blurb:    "Telegram Bot API via long polling",
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
	return channels.ListConfiguredAccounts(cfg, channels.ChannelTelegram)
}

func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) (channels.ResolvedAccount, error) {
	return channels.ResolveConfiguredAccount(cfg, channels.ChannelTelegram, accountID)
}

func (p *Plugin) Actions(cfg *config.Config) []string {
	return []string{
		channels.ActionSend, channels.ActionEdit, channels.ActionDelete,
		channels.ActionReact, channels.ActionPoll, channels.ActionTopicCreate,
	}
}

func decodeAccount(account channels.ResolvedAccount) (accountConfig, error) {
	var ac accountConfig
	if len(account.Raw) > 0 {
		if err := json.Unmarshal(account.Raw, &ac); err != nil {
			return ac, fmt.Errorf("telegram account %s: %w", account.AccountID, err)
		}
	}
	if ac.BotToken == "" {
		return ac, fmt.Errorf("telegram account %s: botToken missing", account.AccountID)
	}
	return ac, nil
}

func newBot(ac accountConfig) (*telego.Bot, error) {
	// The shared netfix client carries the IPv4 fallback; Telegram is the
	// channel that needed it most.
	bot, err := telego.NewBot(ac.BotToken, telego.WithHTTPClient(netfix.HTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// Probe verifies the token resolves to a live bot identity.
func (p *Plugin) Probe(ctx context.Context, account channels.ResolvedAccount) channels.ProbeResult {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	bot, err := newBot(ac)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	return channels.ProbeResult{OK: true, BotOpenID: me.Username}
}

// StartAccount runs the long-poll monitor until ctx is cancelled. Network
// failures restart the poll loop with exponential backoff.
func (p *Plugin) StartAccount(ctx context.Context, deps channels.RunnerDeps, account channels.ResolvedAccount) error {
	ac, err := decodeAccount(account)
	if err != nil {
		return err
	}
	bot, err := newBot(ac)
	if err != nil {
		return err
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram identity: %w", err)
	}
	botUsername := me.Username
	deps.Logger.Info("telegram bot connected", "username", botUsername)

	connected := true
	nowMs := time.Now().UnixMilli()
	deps.Status(channels.StatusPatch{Connected: &connected, BotOpenID: &botUsername, LastConnectedAt: &nowMs})

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pollCtx, cancel := context.WithCancel(ctx)
		updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
			Timeout:        30,
			AllowedUpdates: []string{"message", "edited_message", "callback_query"},
		})
		if err != nil {
			cancel()
			deps.Logger.Warn("telegram long poll failed, backing off", "backoff", backoff, "error", err)
			disconnected := false
			msg := err.Error()
			deps.Status(channels.StatusPatch{Connected: &disconnected, LastError: &msg})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > pollBackoffMax {
				backoff = pollBackoffMax
			}
			continue
		}
		backoff = time.Second

		p.consumeUpdates(pollCtx, deps, account, ac, me.ID, botUsername, updates)
		cancel()
	}
}

func (p *Plugin) consumeUpdates(ctx context.Context, deps channels.RunnerDeps, account channels.ResolvedAccount, ac accountConfig, botID int64, botUsername string, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				deps.Logger.Info("telegram updates channel closed")
				return
			}
			if update.Message == nil {
				continue
			}
			// Handlers run off the receive path.
			msg := update.Message
			go p.handleMessage(deps, account, ac, botID, botUsername, msg)
		}
	}
}

func (p *Plugin) handleMessage(deps channels.RunnerDeps, account channels.ResolvedAccount, ac accountConfig, botID int64, botUsername string, m *telego.Message) {
	if m.From == nil || m.From.ID == botID || m.From.IsBot {
		return
	}
	nowMs := time.Now().UnixMilli()
	deps.Status(channels.StatusPatch{LastEventAt: &nowMs})

	isGroup := m.Chat.Type != "private"
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	sender := channels.Sender{
		ID:       strconv.FormatInt(m.From.ID, 10),
		Username: m.From.Username,
		Name:     strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
	}

	dec := channels.EvaluatePolicy(channels.PolicyInput{
		Config:                 deps.Config,
		Channel:                channels.ChannelTelegram,
		GroupID:                chatID,
		AccountID:              account.AccountID,
		IsGroup:                isGroup,
		Sender:                 sender,
		RequireMentionOverride: ac.RequireMention,
	})
	if !dec.Allow {
		deps.Logger.Debug("telegram message dropped", "reason", dec.Reason, "chat", chatID)
		return
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if isGroup && dec.RequireMention && !mentionsBot(m, botUsername) {
		return
	}
	content = stripMention(content, botUsername)
	if content == "" {
		return
	}

	threadID := ""
	if m.MessageThreadID != 0 {
		threadID = strconv.Itoa(m.MessageThreadID)
	}

	deps.Bus.PublishInbound(bus.InboundMessage{
		Channel:   channels.ChannelTelegram,
		AccountID: account.AccountID,
		SenderID:  sender.ID,
		ChatID:    chatID,
		ThreadID:  threadID,
		Content:   content,
		PeerKind:  string(sessions.PeerKindFromGroup(isGroup)),
		MessageID: strconv.Itoa(m.MessageID),
		Metadata: map[string]string{
			"username":     sender.Username,
			"display_name": sender.Name,
		},
	})
}

func mentionsBot(m *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	needle := "@" + strings.ToLower(botUsername)
	if strings.Contains(strings.ToLower(m.Text), needle) {
		return true
	}
	if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil &&
		strings.EqualFold(m.ReplyToMessage.From.Username, botUsername) {
		return true
	}
	return false
}

func stripMention(text, botUsername string) string {
	if botUsername == "" {
		return strings.TrimSpace(text)
	}
	cleaned := strings.ReplaceAll(text, "@"+botUsername, "")
	return strings.TrimSpace(cleaned)
}

// NormalizeTarget accepts "telegram:<chatId>", "@username", or a bare id.
func (p *Plugin) NormalizeTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "telegram:")
	return raw
}

// Send delivers an outbound message, chunking at the Telegram limit. An
// EditMessageID requests an in-place edit of a previous message.
func (p *Plugin) Send(ctx context.Context, account channels.ResolvedAccount, msg bus.OutboundMessage) (channels.SentMessage, error) {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.SentMessage{}, err
	}
	bot, err := newBot(ac)
	if err != nil {
		return channels.SentMessage{}, err
	}
	chatID, err := strconv.ParseInt(p.NormalizeTarget(msg.ChatID), 10, 64)
	if err != nil {
		return channels.SentMessage{}, fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}

	if msg.EditMessageID != "" {
		messageID, err := strconv.Atoi(msg.EditMessageID)
		if err != nil {
			return channels.SentMessage{}, fmt.Errorf("telegram message id %q: %w", msg.EditMessageID, err)
		}
		_, err = bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    telego.ChatID{ID: chatID},
			MessageID: messageID,
			Text:      truncate(msg.Content, maxMessageLen),
		})
		if err != nil {
			return channels.SentMessage{}, fmt.Errorf("edit telegram message: %w", err)
		}
		return channels.SentMessage{MessageID: msg.EditMessageID}, nil
	}

	var lastID string
	for _, chunk := range splitChunks(msg.Content, maxMessageLen) {
		params := &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   chunk,
		}
		if msg.ThreadID != "" {
			if tid, err := strconv.Atoi(msg.ThreadID); err == nil {
				params.MessageThreadID = tid
			}
		}
		if msg.ReplyToMessageID != "" && lastID == "" {
			if rid, err := strconv.Atoi(msg.ReplyToMessageID); err == nil {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: rid}
			}
		}
		sent, err := bot.SendMessage(ctx, params)
		if err != nil {
			return channels.SentMessage{}, fmt.Errorf("send telegram message: %w", err)
		}
		lastID = strconv.Itoa(sent.MessageID)
	}
	return channels.SentMessage{MessageID: lastID}, nil
}

// splitChunks splits content into maxLen pieces, preferring newline breaks
// in the back half of each chunk.
func splitChunks(content string, maxLen int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

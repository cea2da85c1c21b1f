// Package discord implements the Discord channel plugin over the gateway
// WebSocket via discordgo.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
)

const (
	// maxMessageLen is Discord's per-message limit.
	maxMessageLen = 2000

	// helloTimeout bounds the wait for the gateway READY after a connect.
	helloTimeout = 30 * time.Second

	// maxConsecutiveHelloStalls before resume state is discarded and a
	// fresh identify is forced.
	maxConsecutiveHelloStalls = 3

	// reconnectStallTimeout force-stops the monitor when the gateway stays
	// closed without a successful reconnect.
	reconnectStallTimeout = 5 * time.Minute

	// closeCodeDisallowedIntents is fatal: the bot lacks gateway intents.
	closeCodeDisallowedIntents = 4014
)

type accountConfig struct {
	BotToken       string `json:"botToken"`
	RequireMention *bool  `json:"requireMention,omitempty"`
}

// Plugin is the Discord channel plugin.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return channels.ChannelDiscord }

func (p *Plugin) Meta() channels.Meta {
	return channels.Meta{
		Label:    "Discord",
		DocsPath: "channels/discord",
		Blurb:    "Discord bot via gateway WebSocket",
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
	return channels.ListConfiguredAccounts(cfg, channels.ChannelDiscord)
}

func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) (channels.ResolvedAccount, error) {
	return channels.ResolveConfiguredAccount(cfg, channels.ChannelDiscord, accountID)
}

func (p *Plugin) Actions(cfg *config.Config) []string {
	return []string{
		channels.ActionSend, channels.ActionEdit, channels.ActionDelete,
		channels.ActionReact, channels.ActionTopicCreate,
	}
}

func decodeAccount(account channels.ResolvedAccount) (accountConfig, error) {
	var ac accountConfig
	if len(account.Raw) > 0 {
		if err := json.Unmarshal(account.Raw, &ac); err != nil {
			return ac, fmt.Errorf("discord account %s: %w", account.AccountID, err)
		}
	}
	if ac.BotToken == "" {
		return ac, fmt.Errorf("discord account %s: botToken missing", account.AccountID)
	}
	return ac, nil
}

// Probe verifies the token against the REST identity endpoint without
// opening a gateway connection.
func (p *Plugin) Probe(ctx context.Context, account channels.ResolvedAccount) channels.ProbeResult {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	session, err := discordgo.New("Bot " + ac.BotToken)
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	user, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return channels.ProbeResult{Err: err}
	}
	return channels.ProbeResult{OK: true, BotOpenID: user.ID}
}

// monitor holds the per-account gateway state.
type monitor struct {
	deps      channels.RunnerDeps
	account   channels.ResolvedAccount
	ac        accountConfig
	session   *discordgo.Session
	botUserID string

	helloStalls int
	fatal       chan error
	watchdog    *channels.Watchdog
}

// StartAccount opens the gateway and blocks until cancellation or a fatal
// close. Repeated hello stalls clear resume state to force a fresh identify;
// a five-minute reconnect stall force-stops the task.
func (p *Plugin) StartAccount(ctx context.Context, deps channels.RunnerDeps, account channels.ResolvedAccount) error {
	ac, err := decodeAccount(account)
	if err != nil {
		return err
	}
	session, err := discordgo.New("Bot " + ac.BotToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	m := &monitor{
		deps:    deps,
		account: account,
		ac:      ac,
		session: session,
		fatal:   make(chan error, 1),
	}
	m.watchdog = channels.NewWatchdog(reconnectStallTimeout, func() {
		m.fail(fmt.Errorf("%w: reconnect stalled for %s", channels.ErrFatalMonitor, reconnectStallTimeout))
	})

	session.AddHandler(m.onReady)
	session.AddHandler(m.onDisconnect)
	session.AddHandler(m.onResumed)
	session.AddHandler(m.onMessage)

	helloTimer := time.AfterFunc(helloTimeout, m.onHelloStall)
	if err := session.Open(); err != nil {
		helloTimer.Stop()
		if isDisallowedIntents(err) {
			return fmt.Errorf("%w: disallowed intents: %v", channels.ErrFatalMonitor, err)
		}
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer m.watchdog.Stop()
	defer session.Close()

	user, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	helloTimer.Stop()
	m.botUserID = user.ID
	deps.Logger.Info("discord bot connected", "username", user.Username, "id", user.ID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.fatal:
		return err
	}
}

func (m *monitor) fail(err error) {
	select {
	case m.fatal <- err:
	default:
	}
}

func (m *monitor) onReady(_ *discordgo.Session, _ *discordgo.Ready) {
	m.helloStalls = 0
	m.watchdog.Disarm()
	connected := true
	nowMs := time.Now().UnixMilli()
	m.deps.Status(channels.StatusPatch{Connected: &connected, LastConnectedAt: &nowMs})
}

func (m *monitor) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	m.watchdog.Disarm()
	connected := true
	m.deps.Status(channels.StatusPatch{Connected: &connected})
}

func (m *monitor) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	m.deps.Logger.Debug("discord gateway connection closed")
	m.watchdog.Arm()
	connected := false
	reason := "gateway closed"
	m.deps.Status(channels.StatusPatch{Connected: &connected, LastDisconnect: &reason})
	time.AfterFunc(helloTimeout, m.onHelloStall)
}

// onHelloStall fires when a reconnect has not produced a READY within the
// hello timeout. After enough consecutive stalls the resume state is cleared
// so the next attempt performs a fresh identify instead of replaying a dead
// resume forever.
func (m *monitor) onHelloStall() {
	if m.sessionConnected() {
		return
	}
	m.helloStalls++
	m.deps.Logger.Warn("discord hello stalled", "count", m.helloStalls)
	if m.helloStalls >= maxConsecutiveHelloStalls {
		m.deps.Logger.Warn("clearing discord resume state to force fresh identify")
		m.clearResumeState()
		m.helloStalls = 0
	}
}

func (m *monitor) sessionConnected() bool {
	return m.session.DataReady
}

// clearResumeState drops sessionId/resumeGatewayUrl/sequence by cycling the
// connection; discordgo re-identifies when its resume state is gone.
func (m *monitor) clearResumeState() {
	_ = m.session.Close()
	if err := m.session.Open(); err != nil {
		if isDisallowedIntents(err) {
			m.fail(fmt.Errorf("%w: disallowed intents: %v", channels.ErrFatalMonitor, err))
			return
		}
		m.deps.Logger.Warn("discord fresh identify failed", "error", err)
	}
}

func isDisallowedIntents(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == closeCodeDisallowedIntents
	}
	return strings.Contains(err.Error(), "disallowed intents")
}

func (m *monitor) onMessage(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Author == nil || e.Author.ID == m.botUserID || e.Author.Bot {
		return
	}
	nowMs := time.Now().UnixMilli()
	m.deps.Status(channels.StatusPatch{LastEventAt: &nowMs})

	isGroup := e.GuildID != ""
	sender := channels.Sender{
		ID:       e.Author.ID,
		Username: e.Author.Username,
		Name:     resolveDisplayName(e),
	}

	dec := channels.EvaluatePolicy(channels.PolicyInput{
		Config:                 m.deps.Config,
		Channel:                channels.ChannelDiscord,
		GroupID:                e.ChannelID,
		AccountID:              m.account.AccountID,
		IsGroup:                isGroup,
		Sender:                 sender,
		RequireMentionOverride: m.ac.RequireMention,
	})
	if !dec.Allow {
		m.deps.Logger.Debug("discord message dropped", "reason", dec.Reason, "channel_id", e.ChannelID)
		return
	}

	if isGroup && dec.RequireMention && !mentionsBot(e, m.botUserID) {
		return
	}

	content := e.Content
	for _, att := range e.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	// Fire-and-forget off the gateway receive path.
	go m.deps.Bus.PublishInbound(bus.InboundMessage{
		Channel:   channels.ChannelDiscord,
		AccountID: m.account.AccountID,
		SenderID:  sender.ID,
		ChatID:    e.ChannelID,
		Content:   content,
		PeerKind:  string(sessions.PeerKindFromGroup(isGroup)),
		MessageID: e.ID,
		Metadata: map[string]string{
			"username":     sender.Username,
			"display_name": sender.Name,
			"guild_id":     e.GuildID,
		},
	})
}

func mentionsBot(e *discordgo.MessageCreate, botUserID string) bool {
	for _, u := range e.Mentions {
		if u.ID == botUserID {
			return true
		}
	}
	if e.ReferencedMessage != nil && e.ReferencedMessage.Author != nil {
		return e.ReferencedMessage.Author.ID == botUserID
	}
	return false
}

// resolveDisplayName prefers server nickname, then global name, then the
// username.
func resolveDisplayName(e *discordgo.MessageCreate) string {
	if e.Member != nil && e.Member.Nick != "" {
		return e.Member.Nick
	}
	if e.Author.GlobalName != "" {
		return e.Author.GlobalName
	}
	return e.Author.Username
}

// NormalizeTarget accepts "discord:<channelId>" or a bare channel id.
func (p *Plugin) NormalizeTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "discord:")
	raw = strings.TrimPrefix(raw, "channel:")
	return raw
}

// Send delivers an outbound message, chunked at the Discord limit.
func (p *Plugin) Send(ctx context.Context, account channels.ResolvedAccount, msg bus.OutboundMessage) (channels.SentMessage, error) {
	ac, err := decodeAccount(account)
	if err != nil {
		return channels.SentMessage{}, err
	}
	session, err := discordgo.New("Bot " + ac.BotToken)
	if err != nil {
		return channels.SentMessage{}, err
	}
	channelID := p.NormalizeTarget(msg.ChatID)

	if msg.EditMessageID != "" {
		_, err := session.ChannelMessageEdit(channelID, msg.EditMessageID,
			truncate(msg.Content, maxMessageLen), discordgo.WithContext(ctx))
		if err != nil {
			return channels.SentMessage{}, fmt.Errorf("edit discord message: %w", err)
		}
		return channels.SentMessage{MessageID: msg.EditMessageID}, nil
	}

	var lastID string
	for _, chunk := range splitChunks(msg.Content, maxMessageLen) {
		sent, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return channels.SentMessage{}, fmt.Errorf("send discord message: %w", err)
		}
		lastID = sent.ID
	}
	return channels.SentMessage{MessageID: lastID}, nil
}

// splitChunks splits content at the message limit, preferring newline breaks
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

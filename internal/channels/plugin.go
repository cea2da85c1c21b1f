// Package channels provides the channel plugin registry, the group/DM policy
// evaluator, and the account lifecycle supervisor that connects external
// messaging platforms to the agent runtime via the message bus.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/config"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":      true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Meta is the static descriptor a plugin registers.
type Meta struct {
	Label    string
	DocsPath string
	Blurb    string
}

// Capabilities declares what a channel can do.
type Capabilities struct {
	ChatTypes       []string // subset of {direct, group}
	Media           bool
	SupportsButtons bool
}

// Action identifiers a plugin may support.
const (
	ActionSend              = "send"
	ActionEdit              = "edit"
	ActionDelete            = "delete"
	ActionReact             = "react"
	ActionPoll              = "poll"
	ActionTopicCreate       = "topic-create"
	ActionRenameGroup       = "renameGroup"
	ActionAddParticipant    = "addParticipant"
	ActionRemoveParticipant = "removeParticipant"
	ActionLeaveGroup        = "leaveGroup"
)

// ResolvedAccount is one configured account of a channel, with the opaque
// channel-specific payload left for the owning plugin to decode.
type ResolvedAccount struct {
	ChannelID string
	AccountID string
	Raw       json.RawMessage
	Config    config.ChannelConfig
}

// SentMessage is what a messaging adapter returns for a delivered message.
type SentMessage struct {
	MessageID string
}

// ProbeResult is the outcome of a startup preflight probe.
type ProbeResult struct {
	OK        bool
	BotOpenID string
	Err       error
}

// Plugin is the capability set every channel registers. Optional behaviors
// are expressed as extension interfaces (Messenger, AccountRunner, Prober,
// HTTPPlugin) checked at use sites.
type Plugin interface {
	ID() string
	Meta() Meta
	Capabilities() Capabilities

	// ListAccounts enumerates configured account ids, including the default
	// sentinel when the channel carries a single unnamed account.
	ListAccounts(cfg *config.Config) []string
	ResolveAccount(cfg *config.Config, accountID string) (ResolvedAccount, error)

	// Actions lists the action ids this plugin supports for cfg.
	Actions(cfg *config.Config) []string
}

// Messenger is the outbound adapter surface.
type Messenger interface {
	NormalizeTarget(raw string) string
	Send(ctx context.Context, account ResolvedAccount, msg bus.OutboundMessage) (SentMessage, error)
}

// Editor extends Messenger with in-place message edits.
type Editor interface {
	Edit(ctx context.Context, account ResolvedAccount, messageID string, msg bus.OutboundMessage) error
}

// Reactor extends Messenger with emoji reactions on user messages.
type Reactor interface {
	React(ctx context.Context, account ResolvedAccount, chatID, messageID, emoji string) error
}

// AccountRunner is implemented by plugins that run a live account monitor
// (WS client, webhook server, or long-poll loop). StartAccount blocks until
// ctx is cancelled or the monitor fails fatally.
type AccountRunner interface {
	StartAccount(ctx context.Context, deps RunnerDeps, account ResolvedAccount) error
}

// Prober is implemented by plugins that support a startup preflight probe.
type Prober interface {
	Probe(ctx context.Context, account ResolvedAccount) ProbeResult
}

// ThreadCreator is implemented by plugins that can open a thread (topic,
// forum post) under an existing conversation.
type ThreadCreator interface {
	CreateThread(ctx context.Context, account ResolvedAccount, parentConversationID, title string) (string, error)
}

// Route is an explicit, auth-protected HTTP route a plugin registers.
type Route struct {
	Path    string
	Handler http.Handler
}

// WildcardHandler is a self-authenticating HTTP prefix handler (webhooks
// carry their own signature or token checks, so gateway auth is skipped).
type WildcardHandler struct {
	Prefix  string
	Handler http.Handler
}

// HTTPPlugin is implemented by plugins that register gateway HTTP surfaces.
type HTTPPlugin interface {
	Routes() []Route
	WildcardHandlers() []WildcardHandler
}

// Registry is an immutable snapshot of registered plugins. Build it once at
// startup; reads take no locks.
type Registry struct {
	byID  map[string]Plugin
	order []string
}

// NewRegistry builds a registry from plugins. Duplicate ids are an error.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{byID: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		id := p.ID()
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate channel plugin %q", id)
		}
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get returns the plugin for id.
func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// IDs returns all registered channel ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the plugins in id order.
func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// TestRegistry builds a registry for tests, panicking on duplicates so test
// setup stays terse.
func TestRegistry(plugins ...Plugin) *Registry {
	r, err := NewRegistry(plugins...)
	if err != nil {
		panic(err)
	}
	return r
}

// MetaPlugin is a metadata-only plugin: it describes a channel, enumerates
// its configured accounts, and advertises actions, but has no live monitor.
// Channels gain a monitor by wrapping or replacing their MetaPlugin entry.
type MetaPlugin struct {
	ChannelID string
	Info      Meta
	Caps      Capabilities
	ActionIDs []string
}

func (p *MetaPlugin) ID() string                 { return p.ChannelID }
func (p *MetaPlugin) Meta() Meta                 { return p.Info }
func (p *MetaPlugin) Capabilities() Capabilities { return p.Caps }

func (p *MetaPlugin) ListAccounts(cfg *config.Config) []string {
	return ListConfiguredAccounts(cfg, p.ChannelID)
}

func (p *MetaPlugin) ResolveAccount(cfg *config.Config, accountID string) (ResolvedAccount, error) {
	return ResolveConfiguredAccount(cfg, p.ChannelID, accountID)
}

func (p *MetaPlugin) Actions(cfg *config.Config) []string {
	out := make([]string, len(p.ActionIDs))
	copy(out, p.ActionIDs)
	return out
}

// ListConfiguredAccounts enumerates account ids for a channel from config.
// A channel block with no named accounts still has the default account.
func ListConfiguredAccounts(cfg *config.Config, channelID string) []string {
	ch, ok := cfg.Channels[channelID]
	if !ok {
		return nil
	}
	if len(ch.Accounts) == 0 {
		return []string{config.ChannelDefaultAccount}
	}
	ids := make([]string, 0, len(ch.Accounts))
	for id := range ch.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveConfiguredAccount resolves one account of a channel from config.
func ResolveConfiguredAccount(cfg *config.Config, channelID, accountID string) (ResolvedAccount, error) {
	ch, ok := cfg.Channels[channelID]
	if !ok {
		return ResolvedAccount{}, fmt.Errorf("channel %s not configured", channelID)
	}
	if accountID == "" {
		accountID = ch.DefaultAccount
	}
	if accountID == "" {
		accountID = config.ChannelDefaultAccount
	}
	raw, ok := ch.Accounts[accountID]
	if !ok && accountID != config.ChannelDefaultAccount {
		return ResolvedAccount{}, fmt.Errorf("channel %s has no account %q", channelID, accountID)
	}
	return ResolvedAccount{
		ChannelID: channelID,
		AccountID: accountID,
		Raw:       raw,
		Config:    ch,
	}, nil
}

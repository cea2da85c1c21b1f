package channels

// Builtin channel ids. Every id here has at least a metadata entry in the
// default registry; a subset additionally runs a live account monitor.
const (
	ChannelTelegram   = "telegram"
	ChannelDiscord    = "discord"
	ChannelSlack      = "slack"
	ChannelWhatsApp   = "whatsapp"
	ChannelSignal     = "signal"
	ChannelFeishu     = "feishu"
	ChannelZalo       = "zalo"
	ChannelWebchat    = "webchat"
	ChannelIMessage   = "imessage"
	ChannelLine       = "line"
	ChannelMatrix     = "matrix"
	ChannelMSTeams    = "msteams"
	ChannelGoogleChat = "googlechat"
	ChannelEmail      = "email"
)

var defaultActions = []string{ActionSend}

// builtinMetas are the metadata-only entries for channels without a bundled
// monitor. Their accounts are still enumerable and doctor can describe them.
var builtinMetas = []*MetaPlugin{
	{
		ChannelID: ChannelSlack,
		Info:      Meta{Label: "Slack", DocsPath: "channels/slack", Blurb: "Slack workspaces via bot token"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true, SupportsButtons: true},
		ActionIDs: []string{ActionSend, ActionEdit, ActionDelete, ActionReact},
	},
	{
		ChannelID: ChannelWhatsApp,
		Info:      Meta{Label: "WhatsApp", DocsPath: "channels/whatsapp", Blurb: "WhatsApp via linked device"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true},
		ActionIDs: []string{ActionSend, ActionReact, ActionRenameGroup, ActionAddParticipant, ActionRemoveParticipant, ActionLeaveGroup},
	},
	{
		ChannelID: ChannelSignal,
		Info:      Meta{Label: "Signal", DocsPath: "channels/signal", Blurb: "Signal via signal-cli endpoint"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true},
		ActionIDs: []string{ActionSend, ActionReact},
	},
	{
		ChannelID: ChannelIMessage,
		Info:      Meta{Label: "iMessage", DocsPath: "channels/imessage", Blurb: "iMessage via macOS bridge"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true},
		ActionIDs: defaultActions,
	},
	{
		ChannelID: ChannelLine,
		Info:      Meta{Label: "LINE", DocsPath: "channels/line", Blurb: "LINE messaging API webhooks"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true, SupportsButtons: true},
		ActionIDs: defaultActions,
	},
	{
		ChannelID: ChannelMatrix,
		Info:      Meta{Label: "Matrix", DocsPath: "channels/matrix", Blurb: "Matrix homeserver client"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true},
		ActionIDs: []string{ActionSend, ActionEdit, ActionReact, ActionLeaveGroup},
	},
	{
		ChannelID: ChannelMSTeams,
		Info:      Meta{Label: "Microsoft Teams", DocsPath: "channels/msteams", Blurb: "Teams bot framework webhooks"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: true, SupportsButtons: true},
		ActionIDs: []string{ActionSend, ActionEdit},
	},
	{
		ChannelID: ChannelGoogleChat,
		Info:      Meta{Label: "Google Chat", DocsPath: "channels/googlechat", Blurb: "Google Chat app webhooks"},
		Caps:      Capabilities{ChatTypes: []string{"direct", "group"}, Media: false, SupportsButtons: true},
		ActionIDs: []string{ActionSend, ActionEdit},
	},
	{
		ChannelID: ChannelEmail,
		Info:      Meta{Label: "Email", DocsPath: "channels/email", Blurb: "Inbound IMAP, outbound SMTP"},
		Caps:      Capabilities{ChatTypes: []string{"direct"}, Media: true},
		ActionIDs: []string{ActionSend},
	},
}

// DefaultRegistry builds the process registry: live plugins plus the
// metadata-only entries. live entries win on id collision by construction
// (metadata entries never duplicate a live id).
func DefaultRegistry(live ...Plugin) (*Registry, error) {
	plugins := make([]Plugin, 0, len(live)+len(builtinMetas))
	plugins = append(plugins, live...)
	seen := map[string]bool{}
	for _, p := range live {
		seen[p.ID()] = true
	}
	for _, m := range builtinMetas {
		if !seen[m.ChannelID] {
			plugins = append(plugins, m)
		}
	}
	return NewRegistry(plugins...)
}

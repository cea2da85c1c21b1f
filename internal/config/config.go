// Package config defines the openclaw.json schema, its loader, the startup
// migration pass, and the reload watcher. Channel account configs are opaque
// to the core; only the recognized common fields are typed here.
package config

import "encoding/json"

// Config is the root configuration for the OpenClaw gateway.
type Config struct {
	Agents    AgentsConfig             `json:"agents"`
	Channels  map[string]ChannelConfig `json:"channels,omitempty"`
	Gateway   GatewayConfig            `json:"gateway"`
	ACP       ACPConfig                `json:"acp,omitempty"`
	Cron      CronConfig               `json:"cron,omitempty"`
	Diffs     DiffsConfig              `json:"diffs,omitempty"`
	Telemetry TelemetryConfig          `json:"telemetry,omitempty"`
	Media     MediaConfig              `json:"media,omitempty"`
	MCP       MCPConfig                `json:"mcp,omitempty"`
	Meta      MetaConfig               `json:"meta,omitempty"`
}

// MetaConfig is bookkeeping the migrator and secrets applier maintain.
type MetaConfig struct {
	LastTouchedAt string `json:"lastTouchedAt,omitempty"`
}

// AgentsConfig holds agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentSpec            `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentSpec configures one agent (or the defaults).
type AgentSpec struct {
	Model          string   `json:"model,omitempty"`
	ModelProvider  string   `json:"modelProvider,omitempty"`
	ModelFallbacks []string `json:"modelFallbacks,omitempty"`
	AllowedModels  []string `json:"allowedModels,omitempty"`
	Workspace      string   `json:"workspace,omitempty"`
	SkillFilter    []string `json:"skillFilter,omitempty"`
}

// ResolveAgent merges defaults with the named agent's overrides.
// Overriding only the primary model preserves the default fallbacks.
func (c *Config) ResolveAgent(agentID string) AgentSpec {
	spec := c.Agents.Defaults
	if agentID == "" {
		return spec
	}
	over, ok := c.Agents.List[agentID]
	if !ok {
		return spec
	}
	if over.Model != "" {
		spec.Model = over.Model
	}
	if over.ModelProvider != "" {
		spec.ModelProvider = over.ModelProvider
	}
	if len(over.ModelFallbacks) > 0 {
		spec.ModelFallbacks = over.ModelFallbacks
	}
	if len(over.AllowedModels) > 0 {
		spec.AllowedModels = over.AllowedModels
	}
	if over.Workspace != "" {
		spec.Workspace = over.Workspace
	}
	if len(over.SkillFilter) > 0 {
		spec.SkillFilter = over.SkillFilter
	}
	return spec
}

// DefaultAgentID resolves the default agent id ("main" unless configured).
func (c *Config) DefaultAgentID() string {
	if _, ok := c.Agents.List["default"]; ok {
		return "default"
	}
	return "main"
}

// ChannelDefaultAccount is the account id used when a channel carries a
// single unnamed account.
const ChannelDefaultAccount = "default"

// ChannelConfig is the per-channel record. Channel-specific account payloads
// stay raw; the supervisor hands them to the owning plugin untouched.
type ChannelConfig struct {
	Enabled        *bool                      `json:"enabled,omitempty"`
	DefaultAccount string                     `json:"defaultAccount,omitempty"`
	GroupPolicy    string                     `json:"groupPolicy,omitempty"` // open | allowlist | disabled
	Groups         map[string]GroupConfig     `json:"groups,omitempty"`      // "*" wildcard supported
	AllowFrom      []string                   `json:"allowFrom,omitempty"`
	RequireMention *bool                      `json:"requireMention,omitempty"`
	Accounts       map[string]json.RawMessage `json:"accounts,omitempty"`
	ThreadBindings ThreadBindingsConfig       `json:"threadBindings,omitempty"`
	// Webhook listener settings for webhook-mode channels.
	WebhookHost string `json:"webhookHost,omitempty"`
	WebhookPort int    `json:"webhookPort,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

// IsEnabled treats a missing flag as disabled; channels opt in explicitly.
func (cc ChannelConfig) IsEnabled() bool {
	return cc.Enabled != nil && *cc.Enabled
}

// GroupConfig is the per-group policy record.
type GroupConfig struct {
	RequireMention *bool               `json:"requireMention,omitempty"`
	AllowFrom      []string            `json:"allowFrom,omitempty"`
	Tools          []string            `json:"tools,omitempty"`
	ToolsBySender  map[string][]string `json:"toolsBySender,omitempty"`
}

// ThreadBindingsConfig gates thread-bound child session spawning.
type ThreadBindingsConfig struct {
	SpawnACPSessions bool `json:"spawnAcpSessions,omitempty"`
}

// GatewayConfig configures the RPC + HTTP surface.
type GatewayConfig struct {
	// Bind selects the listen interface: loopback (default), lan, tailnet,
	// or custom (with CustomBindHost).
	Bind           string          `json:"bind,omitempty"`
	CustomBindHost string          `json:"customBindHost,omitempty"`
	Port           int             `json:"port,omitempty"`
	Auth           GatewayAuth     `json:"auth,omitempty"`
	ControlUI      ControlUIConfig `json:"controlUi,omitempty"`
	Tailscale      TailscaleConfig `json:"tailscale,omitempty"`
}

// GatewayAuth selects the auth mode for protected surfaces.
type GatewayAuth struct {
	Mode  string `json:"mode,omitempty"` // token | device
	Token string `json:"token,omitempty"`
}

// ControlUIConfig configures the browser control-UI origin policy.
type ControlUIConfig struct {
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	// AllowLegacyHostHeader enables the host-header fallback for clients
	// that omit Origin. Off unless explicitly configured.
	AllowLegacyHostHeader bool `json:"allowLegacyHostHeader,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener (build tag tsnet).
// The auth key comes from env only, never from disk.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"stateDir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// ACPConfig governs out-of-process agent runtimes.
type ACPConfig struct {
	DefaultAgent  string   `json:"defaultAgent,omitempty"`
	AllowedAgents []string `json:"allowedAgents,omitempty"`
}

// AgentAllowed reports whether agentID may be spawned.
func (a ACPConfig) AgentAllowed(agentID string) bool {
	for _, id := range a.AllowedAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

// CronConfig configures the scheduler.
type CronConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// DiffsConfig configures the diff artifact viewer.
type DiffsConfig struct {
	AllowRemoteViewer bool `json:"allowRemoteViewer,omitempty"`
	TTLMinutes        int  `json:"ttlMinutes,omitempty"`
}

// TelemetryConfig configures OTLP trace export for agent runs.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // http | grpc
}

// MediaConfig bounds outbound media handling.
type MediaConfig struct {
	MediaMaxMB float64 `json:"mediaMaxMb,omitempty"`
}

// MCPConfig lists MCP tool servers available to agents.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Transport string            `json:"transport,omitempty"` // stdio | sse | http
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
}

// GatewayPort returns the effective port (default 18789).
func (g GatewayConfig) GatewayPort() int {
	if g.Port > 0 {
		return g.Port
	}
	return 18789
}

// BindHost maps the bind mode to a listen host.
func (g GatewayConfig) BindHost() string {
	switch g.Bind {
	case "lan", "tailnet":
		return "0.0.0.0"
	case "custom":
		if g.CustomBindHost != "" {
			return g.CustomBindHost
		}
		return "127.0.0.1"
	default: // loopback
		return "127.0.0.1"
	}
}

// NonLoopbackBind reports whether the gateway listens beyond localhost.
func (g GatewayConfig) NonLoopbackBind() bool {
	switch g.Bind {
	case "lan", "tailnet":
		return true
	case "custom":
		host := g.CustomBindHost
		return host != "" && host != "127.0.0.1" && host != "::1" && host != "localhost"
	}
	return false
}

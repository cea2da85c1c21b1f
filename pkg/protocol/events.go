package protocol

// Event names pushed from server to RPC clients.
const (
	EventAgent           = "agent"
	EventChat            = "chat"
	EventHealth          = "health"
	EventCron            = "cron"
	EventHeartbeat       = "heartbeat"
	EventShutdown        = "shutdown"
	EventExecApprovalReq = "exec.approval.requested"
	EventExecApprovalRes = "exec.approval.resolved"

	// Channel account status patches (connected, lastEventAt, ...).
	EventChannelStatus = "channel.status"

	// Internal events never forwarded to RPC clients.
	EventCacheInvalidate = "cache.invalidate"
)

// Agent event subtypes (in payload.type).
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventRunRetrying  = "run.retrying"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
)

// Chat event subtypes (in payload.type).
const (
	ChatEventChunk   = "chunk"
	ChatEventMessage = "message"
)

package protocol

// RPC method name constants.

// Core gateway methods.
const (
	MethodConnect       = "connect"
	MethodHealth        = "health"
	MethodStatus        = "status"
	MethodLastHeartbeat = "last-heartbeat"

	// Agent dispatch: run a turn on a session, optionally delivering the
	// reply to a channel target.
	MethodAgent     = "agent"
	MethodAgentWait = "agent.wait"

	MethodModelsList = "models.list"

	MethodSessionsList    = "sessions.list"
	MethodSessionsGet     = "sessions.get"
	MethodSessionsPatch   = "sessions.patch"
	MethodSessionsDelete  = "sessions.delete"
	MethodSessionsSpawn   = "sessions.spawn"
	MethodSessionsHistory = "sessions.history"

	MethodChatSend  = "chat.send"
	MethodChatAbort = "chat.abort"

	MethodDoctorCheck = "doctor.check"
	MethodDoctorFix   = "doctor.fix"

	MethodNodeInvoke = "node.invoke"
)

// Exec approval two-phase protocol.
const (
	MethodExecApprovalRequest      = "exec.approval.request"
	MethodExecApprovalWaitDecision = "exec.approval.waitDecision"
	MethodExecApprovalResolve      = "exec.approval.resolve"
	MethodExecApprovalList         = "exec.approval.list"
)

// Cron job management.
const (
	MethodCronList   = "cron.list"
	MethodCronCreate = "cron.create"
	MethodCronUpdate = "cron.update"
	MethodCronDelete = "cron.delete"
	MethodCronRun    = "cron.run"
)

// Channel/account management.
const (
	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"
)

// Package sessions — session key derivation and the persistent session store.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{scope}
//
// Where {scope} depends on the session type:
//
//	Main:     main
//	DM:       {channel}:{accountId}:direct:{peerId}
//	Group:    {channel}:{accountId}:group:{groupId}
//	ACP:      acp:{opaque}
//	Subagent: subagent:{opaque}
//	Cron:     cron:{jobId}
package sessions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// DefaultAccountID is the sentinel account id when a channel has exactly one
// unnamed account.
const DefaultAccountID = "default"

// NormalizeAccountID trims and lowercases an account id, substituting the
// default sentinel when empty.
func NormalizeAccountID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return DefaultAccountID
	}
	return id
}

// BuildMainSessionKey builds the shared "main" session key for an agent.
func BuildMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// BuildConversationSessionKey builds the session key for a channel
// conversation.
func BuildConversationSessionKey(agentID, channel, accountID string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, NormalizeAccountID(accountID), kind, chatID)
}

// BuildCronSessionKey builds the session key for a cron job. Guards against
// double-prefixing when jobID is already a canonical session key.
func BuildCronSessionKey(agentID, jobID string) string {
	if _, rest, ok := ParseSessionKey(jobID); ok {
		jobID = rest
	}
	return fmt.Sprintf("agent:%s:cron:%s", agentID, jobID)
}

// MintACPSessionKey mints a fresh opaque ACP child session key.
func MintACPSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:acp:%s", agentID, uuid.NewString())
}

// MintSubagentSessionKey mints a fresh opaque subagent child session key.
func MintSubagentSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, uuid.NewString())
}

// ParseSessionKey extracts the agentID and scope from a canonical key.
func ParseSessionKey(key string) (agentID, scope string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// IsSubagentSession checks whether a key denotes a subagent child session.
func IsSubagentSession(key string) bool {
	_, scope, ok := ParseSessionKey(key)
	return ok && strings.HasPrefix(strings.ToLower(scope), "subagent:")
}

// IsACPSession checks whether a key denotes an ACP child session.
func IsACPSession(key string) bool {
	_, scope, ok := ParseSessionKey(key)
	return ok && strings.HasPrefix(strings.ToLower(scope), "acp:")
}

// IsCronSession checks whether a key denotes a cron session.
func IsCronSession(key string) bool {
	_, scope, ok := ParseSessionKey(key)
	return ok && strings.HasPrefix(strings.ToLower(scope), "cron:")
}

// PeerKindFromGroup maps an isGroup flag to a PeerKind.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

package sessions

// SkillsSnapshot captures the skill prompt state a session was built with.
type SkillsSnapshot struct {
	Prompt      string   `json:"prompt,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	SkillFilter []string `json:"skillFilter,omitempty"` // normalized: trimmed, lowercased, deduped, sorted
	Version     string   `json:"version,omitempty"`
}

// Entry is the persisted per-session metadata record. Only the Store mutates
// entries; everything else holds read-only snapshots.
type Entry struct {
	SessionID string `json:"sessionId,omitempty"`
	UpdatedAt int64  `json:"updatedAt"` // unix ms

	LastProvider string `json:"lastProvider,omitempty"`
	LastTo       string `json:"lastTo,omitempty"`

	Model         string `json:"model,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`

	// User /model override, distinct from the last-used model.
	ModelOverride    string `json:"modelOverride,omitempty"`
	ProviderOverride string `json:"providerOverride,omitempty"`

	SystemSent bool `json:"systemSent,omitempty"`

	SkillsSnapshot *SkillsSnapshot `json:"skillsSnapshot,omitempty"`

	// CLI-backed provider session ids, keyed by provider.
	CLISessionIDs map[string]string `json:"cliSessionIds,omitempty"`

	TranscriptPath string `json:"transcriptPath,omitempty"`
}

// CLISessionIDForRun returns the stored CLI session id to forward to the
// runtime. Fresh sessions never inherit a stored id, regardless of what is
// persisted — forwarding one would silently hand the new session an old
// provider conversation.
func (e *Entry) CLISessionIDForRun(provider string, isNewSession bool) string {
	if e == nil || isNewSession {
		return ""
	}
	return e.CLISessionIDs[provider]
}

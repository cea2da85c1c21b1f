package cron

import (
	"sort"
	"strings"

	"github.com/openclaw/openclaw/internal/sessions"
)

// NormalizeSkillFilter trims, lowercases, dedupes, and sorts the filter so
// that cosmetically different configs compare equal.
func NormalizeSkillFilter(filter []string) []string {
	seen := make(map[string]bool, len(filter))
	out := make([]string, 0, len(filter))
	for _, f := range filter {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// snapshotCurrent reports whether the stored snapshot matches the normalized
// filter and the current snapshot version. A mismatch on either triggers a
// rebuild.
func snapshotCurrent(snap *sessions.SkillsSnapshot, filter []string, version string) bool {
	if snap == nil || snap.Version != version {
		return false
	}
	if len(snap.SkillFilter) != len(filter) {
		return false
	}
	for i, f := range filter {
		if snap.SkillFilter[i] != f {
			return false
		}
	}
	return true
}

package cron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openclaw/openclaw/internal/mcp"
	"github.com/openclaw/openclaw/internal/sessions"
)

// ToolLister reports the tools currently discovered on connected MCP
// servers. Nil means no tool servers.
type ToolLister interface {
	Tools() []mcp.Tool
}

// WorkspaceSnapshots builds skill snapshots by scanning the agent workspace.
// Each directory under <workspace>/skills containing a SKILL.md is a skill;
// the snapshot version hashes the skill names, file sizes, and the MCP tool
// set so a changed workspace invalidates cached snapshots.
type WorkspaceSnapshots struct {
	skillsDir string
	tools     ToolLister
}

func NewWorkspaceSnapshots(workspace string, tools ToolLister) *WorkspaceSnapshots {
	return &WorkspaceSnapshots{skillsDir: filepath.Join(workspace, "skills"), tools: tools}
}

func (w *WorkspaceSnapshots) Build(ctx context.Context, filter []string) (*sessions.SkillsSnapshot, error) {
	names, bodies, err := w.scan()
	if err != nil {
		return nil, err
	}

	keep := func(string) bool { return true }
	if len(filter) > 0 {
		allowed := make(map[string]bool, len(filter))
		for _, f := range filter {
			allowed[f] = true
		}
		keep = func(name string) bool { return allowed[strings.ToLower(name)] }
	}

	snap := &sessions.SkillsSnapshot{
		SkillFilter: filter,
		Version:     w.Version(),
	}
	var prompt strings.Builder
	for _, name := range names {
		if !keep(name) {
			continue
		}
		snap.Skills = append(snap.Skills, name)
		fmt.Fprintf(&prompt, "## Skill: %s\n\n%s\n\n", name, bodies[name])
	}
	if tools := w.listTools(); len(tools) > 0 {
		prompt.WriteString("## Available tools\n\n")
		for _, t := range tools {
			if t.Description != "" {
				fmt.Fprintf(&prompt, "- %s: %s\n", t.Name, t.Description)
			} else {
				fmt.Fprintf(&prompt, "- %s\n", t.Name)
			}
		}
		prompt.WriteString("\n")
	}
	snap.Prompt = strings.TrimSpace(prompt.String())
	return snap, nil
}

func (w *WorkspaceSnapshots) listTools() []mcp.Tool {
	if w.tools == nil {
		return nil
	}
	return w.tools.Tools()
}

// Version fingerprints the skills directory and the connected tool set. A
// missing directory hashes to a stable empty-state version.
func (w *WorkspaceSnapshots) Version() string {
	names, _, err := w.scan()
	h := sha256.New()
	if err == nil {
		for _, name := range names {
			fmt.Fprintf(h, "%s\n", name)
			if info, statErr := os.Stat(filepath.Join(w.skillsDir, name, "SKILL.md")); statErr == nil {
				fmt.Fprintf(h, "%d:%d\n", info.Size(), info.ModTime().UnixNano())
			}
		}
	}
	for _, t := range w.listTools() {
		fmt.Fprintf(h, "tool:%s\n", t.Name)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func (w *WorkspaceSnapshots) scan() ([]string, map[string]string, error) {
	entries, err := os.ReadDir(w.skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read skills dir: %w", err)
	}

	var names []string
	bodies := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.skillsDir, e.Name(), "SKILL.md"))
		if err != nil {
			continue
		}
		names = append(names, e.Name())
		bodies[e.Name()] = strings.TrimSpace(string(data))
	}
	sort.Strings(names)
	return names, bodies, nil
}

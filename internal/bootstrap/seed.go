// Package bootstrap seeds a fresh agent workspace with its starter files.
// Existing files are never overwritten; users own their workspace.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace file names.
const (
	AgentsFile    = "AGENTS.md"
	IdentityFile  = "IDENTITY.md"
	UserFile      = "USER.md"
	ToolsFile     = "TOOLS.md"
	BootstrapFile = "BOOTSTRAP.md"
)

//go:embed templates/*.md
var templateFS embed.FS

// seedFiles are written into every workspace that lacks them. BOOTSTRAP.md
// is special-cased: it only appears in brand-new workspaces so returning
// users aren't re-onboarded.
var seedFiles = []string{AgentsFile, IdentityFile, UserFile, ToolsFile}

// ReadTemplate returns an embedded template's content.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspaceFiles seeds missing starter files into workspaceDir and
// returns the names it created.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}

	_, err := os.Stat(filepath.Join(workspaceDir, AgentsFile))
	brandNew := os.IsNotExist(err)

	var created []string
	for _, name := range seedFiles {
		ok, err := seedFile(workspaceDir, name)
		if err != nil {
			slog.Warn("workspace seed failed", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}

	if brandNew {
		if ok, err := seedFile(workspaceDir, BootstrapFile); err != nil {
			slog.Warn("workspace seed failed", "file", BootstrapFile, "error", err)
		} else if ok {
			created = append(created, BootstrapFile)
		}
	}
	return created, nil
}

// seedFile writes one template unless the target already exists. O_EXCL
// keeps concurrent gateways from clobbering each other.
func seedFile(workspaceDir, name string) (bool, error) {
	dst := filepath.Join(workspaceDir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		_ = os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

// Package winspawn resolves command names to safely-executable programs on
// Windows. npm-style `.cmd` shims are unwrapped to their real `.exe` or `.js`
// targets so child processes can be spawned without a shell; strict mode
// refuses shell execution outright instead of silently degrading.
//
// The resolver is platform-parametric (the caller passes the platform, env,
// and runtime path) so the full algorithm is exercisable in tests on any OS.
package winspawn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolution tags how a resolved program should be executed.
type Resolution string

const (
	ResolutionDirect            Resolution = "direct"
	ResolutionNodeEntrypoint    Resolution = "node-entrypoint"
	ResolutionExeEntrypoint     Resolution = "exe-entrypoint"
	ResolutionShellFallback     Resolution = "shell-fallback"
	ResolutionUnresolvedWrapper Resolution = "unresolved-wrapper"
)

// Program describes how to exec a resolved command. Argv freshness is the
// caller's: Materialize appends caller args to LeadingArgv at spawn time.
type Program struct {
	Command     string
	LeadingArgv []string
	Shell       bool
	WindowsHide bool
	Resolution  Resolution
}

// Invocation is a materialized spawn: Program plus the caller's argv.
type Invocation struct {
	Command     string
	Argv        []string
	Shell       bool
	WindowsHide bool
}

// Materialize combines the program with caller args.
func (p Program) Materialize(args []string) Invocation {
	argv := make([]string, 0, len(p.LeadingArgv)+len(args))
	argv = append(argv, p.LeadingArgv...)
	argv = append(argv, args...)
	return Invocation{Command: p.Command, Argv: argv, Shell: p.Shell, WindowsHide: p.WindowsHide}
}

// Options parameterize a resolve call.
type Options struct {
	Command  string
	Platform string            // "win32" enables Windows handling
	Env      map[string]string // PATH, PATHEXT
	ExecPath string            // runtime executable (node) for .js entrypoints
	// PackageName names the npm package whose package.json bin field is
	// consulted when shim token parsing fails.
	PackageName string
	// AllowShellFallback permits `shell: true` for wrappers that cannot be
	// unwrapped. nil means allowed (legacy default); strict callers pass
	// an explicit false.
	AllowShellFallback *bool
}

func (o Options) strict() bool {
	return o.AllowShellFallback != nil && !*o.AllowShellFallback
}

// Resolve resolves a command to a Program per the platform policy.
// Never returns Shell=true on non-Windows platforms or in strict mode.
func Resolve(opts Options) (Program, error) {
	if opts.Platform != "win32" {
		return Program{Command: opts.Command, Resolution: ResolutionDirect}, nil
	}

	resolved := lookupCommand(opts.Command, opts.Env)
	if resolved == "" {
		resolved = opts.Command
	}

	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".js", ".cjs", ".mjs":
		return Program{
			Command:     opts.ExecPath,
			LeadingArgv: []string{resolved},
			WindowsHide: true,
			Resolution:  ResolutionNodeEntrypoint,
		}, nil
	case ".cmd", ".bat":
		if prog, ok := unwrapShim(resolved, opts); ok {
			return prog, nil
		}
		if opts.strict() {
			return Program{}, fmt.Errorf(
				"winspawn: cannot run wrapper %s: no executable/Node entrypoint without shell execution",
				resolved)
		}
		return Program{Command: resolved, Shell: true, Resolution: ResolutionShellFallback}, nil
	default:
		return Program{Command: resolved, Resolution: ResolutionDirect}, nil
	}
}

// lookupCommand resolves command against PATH + PATHEXT, case-insensitive.
// Commands that already carry a path separator skip the lookup.
func lookupCommand(command string, env map[string]string) string {
	if strings.ContainsAny(command, `/\`) || filepath.IsAbs(command) {
		return command
	}

	pathVar := envLookup(env, "PATH")
	extVar := envLookup(env, "PATHEXT")
	if extVar == "" {
		extVar = ".COM;.EXE;.BAT;.CMD"
	}

	exts := []string{""}
	for _, e := range strings.Split(extVar, ";") {
		if e != "" {
			exts = append(exts, e)
		}
	}

	for _, dir := range strings.Split(pathVar, ";") {
		if dir == "" {
			continue
		}
		dir = normalizeSeparators(dir)
		for _, ext := range exts {
			candidate := filepath.Join(dir, command+strings.ToLower(ext))
			if fileExists(candidate) {
				return candidate
			}
			candidate = filepath.Join(dir, command+strings.ToUpper(ext))
			if fileExists(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func envLookup(env map[string]string, key string) string {
	for k, v := range env {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// unwrapShim tries to extract the real target of a .cmd/.bat npm shim.
// Preference order: .exe sibling target, then node entrypoint.
func unwrapShim(wrapperPath string, opts Options) (Program, bool) {
	dir := filepath.Dir(wrapperPath)

	candidates := shimTokenTargets(wrapperPath, dir)
	if len(candidates) == 0 && opts.PackageName != "" {
		candidates = packageBinTargets(dir, opts.PackageName)
	}

	var exeTarget, nodeTarget string
	for _, c := range candidates {
		if !fileExists(c) {
			continue
		}
		base := strings.ToLower(filepath.Base(c))
		if base == "node.exe" {
			continue
		}
		switch strings.ToLower(filepath.Ext(c)) {
		case ".exe":
			if exeTarget == "" {
				exeTarget = c
			}
		case ".js", ".cjs", ".mjs":
			if nodeTarget == "" {
				nodeTarget = c
			}
		}
	}

	if exeTarget != "" {
		return Program{Command: exeTarget, WindowsHide: true, Resolution: ResolutionExeEntrypoint}, true
	}
	if nodeTarget != "" {
		return Program{
			Command:     opts.ExecPath,
			LeadingArgv: []string{nodeTarget},
			WindowsHide: true,
			Resolution:  ResolutionNodeEntrypoint,
		}, true
	}
	return Program{}, false
}

// shimTokenTargets parses quoted `"%~dp0..."` tokens out of the wrapper and
// resolves them relative to the wrapper's directory.
func shimTokenTargets(wrapperPath, dir string) []string {
	data, err := os.ReadFile(wrapperPath)
	if err != nil {
		return nil
	}

	var targets []string
	content := string(data)
	for {
		start := strings.Index(content, `"%~dp0`)
		if start < 0 {
			break
		}
		rest := content[start+1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			break
		}
		token := rest[:end]
		content = rest[end+1:]

		rel := strings.TrimPrefix(token, "%~dp0")
		rel = strings.TrimLeft(normalizeSeparators(rel), string(filepath.Separator))
		if rel == "" {
			continue
		}
		targets = append(targets, filepath.Join(dir, rel))
	}
	return targets
}

// packageBinTargets consults node_modules/<pkg>/package.json's bin field.
func packageBinTargets(dir, packageName string) []string {
	pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(packageName))
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return nil
	}

	var pkg struct {
		Bin json.RawMessage `json:"bin"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || len(pkg.Bin) == 0 {
		return nil
	}

	var targets []string
	var single string
	if err := json.Unmarshal(pkg.Bin, &single); err == nil {
		targets = append(targets, filepath.Join(pkgDir, normalizeSeparators(single)))
		return targets
	}
	var multi map[string]string
	if err := json.Unmarshal(pkg.Bin, &multi); err == nil {
		for _, rel := range multi {
			targets = append(targets, filepath.Join(pkgDir, normalizeSeparators(rel)))
		}
	}
	return targets
}

func normalizeSeparators(p string) string {
	p = strings.ReplaceAll(p, "\\", string(filepath.Separator))
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

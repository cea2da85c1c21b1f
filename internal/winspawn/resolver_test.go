package winspawn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestResolveNonWindowsIsDirect(t *testing.T) {
	prog, err := Resolve(Options{Command: "acpx", Platform: "linux"})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionDirect || prog.Command != "acpx" || prog.Shell {
		t.Errorf("got %+v", prog)
	}
	if len(prog.LeadingArgv) != 0 {
		t.Errorf("leading argv should be empty, got %v", prog.LeadingArgv)
	}
}

// .cmd shim whose %~dp0 token resolves to a .js under the same prefix routes
// through the runtime with caller args preserved in order.
func TestResolveCmdShimUnwrapToNode(t *testing.T) {
	dir := t.TempDir()
	jsPath := filepath.Join(dir, "node_modules", "acpx", "bin", "acpx.js")
	writeFile(t, jsPath, "// entry")
	writeFile(t, filepath.Join(dir, "acpx.cmd"),
		"@ECHO off\r\nnode \"%~dp0/node_modules/acpx/bin/acpx.js\" %*\r\n")

	prog, err := Resolve(Options{
		Command:  "acpx",
		Platform: "win32",
		Env:      map[string]string{"PATH": dir, "PATHEXT": ".COM;.EXE;.BAT;.CMD"},
		ExecPath: filepath.Join(dir, "node.exe"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionNodeEntrypoint {
		t.Fatalf("resolution = %s", prog.Resolution)
	}
	if prog.Command != filepath.Join(dir, "node.exe") {
		t.Errorf("command = %s", prog.Command)
	}
	if !prog.WindowsHide {
		t.Error("windowsHide should be set")
	}

	inv := prog.Materialize([]string{"--format", "json", "agent", "status"})
	if inv.Argv[0] != jsPath {
		t.Errorf("argv[0] = %s, want %s", inv.Argv[0], jsPath)
	}
	want := []string{jsPath, "--format", "json", "agent", "status"}
	if strings.Join(inv.Argv, " ") != strings.Join(want, " ") {
		t.Errorf("argv = %v", inv.Argv)
	}
	if inv.Shell {
		t.Error("shell must be absent for node entrypoint")
	}
}

// A sibling .exe target wins over the .js entrypoint.
func TestResolveCmdShimPrefersExe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bin", "acpx.js"), "// entry")
	writeFile(t, filepath.Join(dir, "bin", "acpx.exe"), "MZ")
	writeFile(t, filepath.Join(dir, "acpx.cmd"),
		"\"%~dp0/bin/acpx.exe\" %*\r\n\"%~dp0/bin/acpx.js\" %*\r\n")

	prog, err := Resolve(Options{
		Command:  "acpx",
		Platform: "win32",
		Env:      map[string]string{"PATH": dir},
		ExecPath: "node.exe",
	})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionExeEntrypoint {
		t.Fatalf("resolution = %s", prog.Resolution)
	}
	if filepath.Base(prog.Command) != "acpx.exe" {
		t.Errorf("command = %s", prog.Command)
	}
	if prog.Shell {
		t.Error("shell must be absent when .exe target exists")
	}
}

// node.exe itself is never accepted as the unwrapped target.
func TestResolveCmdShimSkipsNodeExe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "node.exe"), "MZ")
	writeFile(t, filepath.Join(dir, "real.js"), "// entry")
	writeFile(t, filepath.Join(dir, "tool.cmd"),
		"\"%~dp0/node.exe\" \"%~dp0/real.js\" %*\r\n")

	prog, err := Resolve(Options{
		Command:  "tool",
		Platform: "win32",
		Env:      map[string]string{"PATH": dir},
		ExecPath: filepath.Join(dir, "node.exe"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionNodeEntrypoint {
		t.Fatalf("resolution = %s", prog.Resolution)
	}
	if prog.LeadingArgv[0] != filepath.Join(dir, "real.js") {
		t.Errorf("entrypoint = %s", prog.LeadingArgv[0])
	}
}

// package.json bin fallback when shim tokens don't resolve.
func TestResolveCmdShimPackageJSONFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acpx.cmd"), "@ECHO off\r\nsomething opaque\r\n")
	writeFile(t, filepath.Join(dir, "node_modules", "acpx", "package.json"),
		`{"name":"acpx","bin":{"acpx":"./cli.js"}}`)
	writeFile(t, filepath.Join(dir, "node_modules", "acpx", "cli.js"), "// cli")

	prog, err := Resolve(Options{
		Command:     "acpx",
		Platform:    "win32",
		Env:         map[string]string{"PATH": dir},
		ExecPath:    "node.exe",
		PackageName: "acpx",
	})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionNodeEntrypoint {
		t.Fatalf("resolution = %s", prog.Resolution)
	}
	if filepath.Base(prog.LeadingArgv[0]) != "cli.js" {
		t.Errorf("entrypoint = %s", prog.LeadingArgv[0])
	}
}

// Unresolvable wrapper: shell fallback by default, error in strict mode.
func TestResolveUnresolvedWrapperPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mystery.cmd"), "@ECHO off\r\nrem nothing here\r\n")
	env := map[string]string{"PATH": dir}

	t.Run("fallback allowed", func(t *testing.T) {
		prog, err := Resolve(Options{Command: "mystery", Platform: "win32", Env: env})
		if err != nil {
			t.Fatal(err)
		}
		if prog.Resolution != ResolutionShellFallback || !prog.Shell {
			t.Errorf("got %+v", prog)
		}
	})

	t.Run("strict mode throws", func(t *testing.T) {
		_, err := Resolve(Options{
			Command:            "mystery",
			Platform:           "win32",
			Env:                env,
			AllowShellFallback: boolPtr(false),
		})
		if err == nil {
			t.Fatal("expected error in strict mode")
		}
		if !strings.Contains(err.Error(), "mystery.cmd") {
			t.Errorf("error should name the wrapper: %v", err)
		}
		if !strings.Contains(err.Error(), "without shell execution") {
			t.Errorf("error should state the policy: %v", err)
		}
	})
}

// Direct .js commands route through the runtime.
func TestResolveJSDirect(t *testing.T) {
	dir := t.TempDir()
	js := filepath.Join(dir, "tool.js")
	writeFile(t, js, "// entry")

	prog, err := Resolve(Options{Command: js, Platform: "win32", ExecPath: "node.exe"})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionNodeEntrypoint || prog.Command != "node.exe" {
		t.Errorf("got %+v", prog)
	}
}

func TestCacheKeyedByStrictMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mystery.cmd"), "opaque\r\n")
	env := map[string]string{"PATH": dir}
	cache := NewCache()

	prog, err := cache.Resolve(Options{Command: "mystery", Platform: "win32", Env: env})
	if err != nil {
		t.Fatal(err)
	}
	if prog.Resolution != ResolutionShellFallback {
		t.Fatalf("resolution = %s", prog.Resolution)
	}

	// Strict variant is a distinct cache entry and must not see the
	// lenient program.
	if _, err := cache.Resolve(Options{
		Command: "mystery", Platform: "win32", Env: env,
		AllowShellFallback: boolPtr(false),
	}); err == nil {
		t.Error("strict resolve should fail, not hit the lenient cache entry")
	}
}

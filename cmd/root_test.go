package cmd

import (
	"io"
	"os"
	"strings"
	"testing"
)

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = old }()

	fn()
	w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestBannerPrintsNameAndVersion(t *testing.T) {
	t.Setenv("OPENCLAW_HIDE_BANNER", "")
	out := captureStderr(t, printBanner)
	if !strings.Contains(out, "openclaw "+Version) {
		t.Errorf("banner = %q", out)
	}
}

func TestBannerHiddenByEnv(t *testing.T) {
	t.Setenv("OPENCLAW_HIDE_BANNER", "1")
	if out := captureStderr(t, printBanner); out != "" {
		t.Errorf("banner printed despite OPENCLAW_HIDE_BANNER: %q", out)
	}
}

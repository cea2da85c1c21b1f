package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Env overrides for state/config locations.
const (
	EnvHome       = "OPENCLAW_HOME"
	EnvStateDir   = "OPENCLAW_STATE_DIR"
	EnvConfigPath = "OPENCLAW_CONFIG_PATH"
)

// StateDir resolves the state directory: OPENCLAW_STATE_DIR, then
// $OPENCLAW_HOME/.openclaw, then $HOME/.openclaw.
func StateDir() string {
	if dir := os.Getenv(EnvStateDir); dir != "" {
		return dir
	}
	home := os.Getenv(EnvHome)
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".openclaw")
}

// ConfigPath resolves the config file path (OPENCLAW_CONFIG_PATH wins).
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "openclaw.json")
}

// SessionStorePath is the canonical session store location.
func SessionStorePath() string {
	return filepath.Join(StateDir(), "sessions", "sessions.json")
}

// CronStorePath is the canonical cron job store location.
func CronStorePath() string {
	return filepath.Join(StateDir(), "cron", "jobs.json")
}

// Default returns the baseline config applied under missing fields.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Bind: "loopback",
			Port: 18789,
		},
	}
}

// Load reads and parses the config at path. The file is JSON5: comments and
// trailing commas are tolerated so hand-edited configs survive. A missing
// file yields the defaults; malformed content fails loudly.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw JSON5 config bytes over the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := json5.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18789
	}
	return cfg, nil
}

// LoadAndMigrate loads the config and runs the startup migration pass.
// Migration changes are returned for logging; they are not written back to
// disk automatically (doctor --fix does that).
func LoadAndMigrate(path string) (*Config, []string, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	changes := Migrate(cfg)
	return cfg, changes, nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onboard",
		Aliases: []string{"configure"},
		Short:   "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			if err := runOnboarding(); err != nil {
				fmt.Fprintf(os.Stderr, "setup aborted: %v\n", err)
				os.Exit(1)
			}
		},
	}
	return cmd
}

func runOnboarding() error {
	path := resolveConfigPath()
	cfg := config.Default()
	if existing, _, err := config.LoadAndMigrate(path); err == nil {
		cfg = existing
	}

	provider := cfg.Agents.Defaults.ModelProvider
	if provider == "" {
		provider = "anthropic"
	}
	model := cfg.Agents.Defaults.Model
	bind := cfg.Gateway.Bind
	if bind == "" {
		bind = "loopback"
	}
	token := cfg.Gateway.Auth.Token
	telegramToken := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Description("API key comes from the environment (ANTHROPIC_API_KEY / OPENAI_API_KEY)").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Default model").
				Placeholder(defaultAnthropicModel).
				Value(&model),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Gateway bind").
				Options(
					huh.NewOption("Loopback only (recommended)", "loopback"),
					huh.NewOption("LAN", "lan"),
					huh.NewOption("Tailnet", "tailnet"),
				).
				Value(&bind),
			huh.NewInput().
				Title("Gateway auth token").
				Description("Required for non-loopback binds; leave empty for loopback").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token (optional)").
				Description("Leave empty to skip Telegram").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agents.Defaults.ModelProvider = provider
	cfg.Agents.Defaults.Model = model
	cfg.Gateway.Bind = bind
	cfg.Gateway.Auth.Token = token
	if token != "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if telegramToken != "" {
		if cfg.Channels == nil {
			cfg.Channels = map[string]config.ChannelConfig{}
		}
		enabled := true
		account, err := json.Marshal(map[string]string{"botToken": telegramToken})
		if err != nil {
			return err
		}
		cfg.Channels["telegram"] = config.ChannelConfig{
			Enabled:  &enabled,
			Accounts: map[string]json.RawMessage{config.ChannelDefaultAccount: account},
		}
	}
	config.Migrate(cfg)

	if err := writeConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("config written to %s\n", path)
	fmt.Println("start the gateway with: openclaw gateway")
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

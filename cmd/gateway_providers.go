package cmd

import (
	"log/slog"
	"os"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/providers"
)

// Default models used when agents.defaults does not pin one.
const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4.1-mini"
)

// buildProviderRegistry registers every provider with credentials in the
// environment. Keys never live in the config file; the secrets plan stores
// refs instead.
func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry()
	spec := cfg.Agents.Defaults

	modelFor := func(provider, fallback string) string {
		if spec.ModelProvider == provider && spec.Model != "" {
			return spec.Model
		}
		return fallback
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		registry.Register(providers.NewAnthropic(key, modelFor("anthropic", defaultAnthropicModel)))
		slog.Info("provider registered", "provider", "anthropic")
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		registry.Register(providers.NewOpenAICompatible("openai", key,
			"https://api.openai.com/v1", modelFor("openai", defaultOpenAIModel)))
		slog.Info("provider registered", "provider", "openai")
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		registry.Register(providers.NewOpenAICompatible("openrouter", key,
			"https://openrouter.ai/api/v1", modelFor("openrouter", "")))
		slog.Info("provider registered", "provider", "openrouter")
	}
	return registry
}

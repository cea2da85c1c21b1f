package cron

import (
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/config"
)

// parseModelRef parses "provider/model" or a bare model id. defaultProvider
// fills in the provider for the bare form.
func parseModelRef(ref, defaultProvider string) (agent.ModelChoice, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return agent.ModelChoice{}, fmt.Errorf("empty model ref")
	}
	if strings.ContainsAny(ref, " \t\n") {
		return agent.ModelChoice{}, fmt.Errorf("malformed model ref %q", ref)
	}
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 1:
		if defaultProvider == "" {
			return agent.ModelChoice{}, fmt.Errorf("model ref %q has no provider and no default is configured", ref)
		}
		return agent.ModelChoice{Provider: defaultProvider, Model: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return agent.ModelChoice{}, fmt.Errorf("malformed model ref %q", ref)
		}
		return agent.ModelChoice{Provider: parts[0], Model: parts[1]}, nil
	default:
		return agent.ModelChoice{}, fmt.Errorf("malformed model ref %q", ref)
	}
}

// modelAllowed checks the agent's allowlist. An empty allowlist permits
// everything.
func modelAllowed(spec config.AgentSpec, choice agent.ModelChoice) bool {
	if len(spec.AllowedModels) == 0 {
		return true
	}
	full := choice.Provider + "/" + choice.Model
	for _, allowed := range spec.AllowedModels {
		if allowed == choice.Model || allowed == full {
			return true
		}
	}
	return false
}

// defaultChoices resolves the agent's configured primary and fallbacks.
// Fallback entries that fail to parse are skipped.
func defaultChoices(spec config.AgentSpec) (agent.ModelChoice, []agent.ModelChoice, error) {
	primary, err := parseModelRef(spec.Model, spec.ModelProvider)
	if err != nil {
		return agent.ModelChoice{}, nil, fmt.Errorf("agent default model: %w", err)
	}
	var fallbacks []agent.ModelChoice
	for _, ref := range spec.ModelFallbacks {
		choice, err := parseModelRef(ref, spec.ModelProvider)
		if err != nil {
			continue
		}
		fallbacks = append(fallbacks, choice)
	}
	return primary, fallbacks, nil
}

// resolveModel applies the payload override policy:
//
//   - override set and allowed: use it as primary, keeping the agent's
//     default fallbacks
//   - override set but not allowlisted: warn and use agent defaults
//   - override malformed: hard error, the job must not run
//   - override unset: agent defaults
//
// The returned warning is non-empty only for the disallowed case.
func resolveModel(spec config.AgentSpec, override string) (primary agent.ModelChoice, fallbacks []agent.ModelChoice, warning string, err error) {
	primary, fallbacks, err = defaultChoices(spec)
	if err != nil {
		return agent.ModelChoice{}, nil, "", err
	}
	if strings.TrimSpace(override) == "" {
		return primary, fallbacks, "", nil
	}

	choice, parseErr := parseModelRef(override, spec.ModelProvider)
	if parseErr != nil {
		return agent.ModelChoice{}, nil, "", parseErr
	}
	if !modelAllowed(spec, choice) {
		return primary, fallbacks,
			fmt.Sprintf("model %q is not in allowedModels, using agent defaults", override), nil
	}
	// Override replaces only the primary; the default fallbacks survive.
	return choice, fallbacks, "", nil
}

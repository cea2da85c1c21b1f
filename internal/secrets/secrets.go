// Package secrets applies migration plans that replace plaintext secrets in
// openclaw.json with reference envelopes pointing at an external secret
// source, optionally scrubbing the same plaintexts from .env and legacy auth
// files.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Plan versions the applier accepts.
const (
	PlanVersion     = 1
	ProtocolVersion = 1
)

// Ref is the envelope that replaces a plaintext secret.
type Ref struct {
	Source   string `json:"source"`
	Provider string `json:"provider,omitempty"`
	ID       string `json:"id"`
}

// Target names one secret location in the config tree.
type Target struct {
	Type         string   `json:"type"`
	Path         string   `json:"path"`
	PathSegments []string `json:"pathSegments,omitempty"`
	ProviderID   string   `json:"providerId,omitempty"`
	Ref          Ref      `json:"ref"`
}

// Options toggle the optional scrub passes.
type Options struct {
	ScrubEnv                            bool `json:"scrubEnv,omitempty"`
	ScrubAuthProfilesForProviderTargets bool `json:"scrubAuthProfilesForProviderTargets,omitempty"`
	ScrubLegacyAuthJSON                 bool `json:"scrubLegacyAuthJson,omitempty"`
}

// Plan is the external apply-plan contract.
type Plan struct {
	Version         int               `json:"version"`
	ProtocolVersion int               `json:"protocolVersion"`
	GeneratedAt     string            `json:"generatedAt,omitempty"`
	GeneratedBy     string            `json:"generatedBy,omitempty"`
	Targets         []Target          `json:"targets"`
	Options         *Options          `json:"options,omitempty"`
	ProviderUpserts []json.RawMessage `json:"providerUpserts,omitempty"`
	ProviderDeletes []string          `json:"providerDeletes,omitempty"`
}

// secretLeaves are the only config keys a plan may rewrite. Anything else
// (baseUrl, model, ...) is refused: a bad plan must not be able to vandalize
// non-secret settings.
var secretLeaves = map[string]bool{
	"apiKey":        true,
	"token":         true,
	"botToken":      true,
	"appSecret":     true,
	"secretToken":   true,
	"webhookSecret": true,
	"password":      true,
	"accessToken":   true,
	"refreshToken":  true,
}

// Result reports what an apply changed.
type Result struct {
	Replaced        int `json:"replaced"`
	AlreadyApplied  int `json:"alreadyApplied"`
	ScrubbedEnvKeys int `json:"scrubbedEnvKeys"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := Validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks versions and every target path.
func Validate(plan *Plan) error {
	if plan.Version != PlanVersion {
		return fmt.Errorf("unsupported plan version %d", plan.Version)
	}
	if plan.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("unsupported plan protocol version %d", plan.ProtocolVersion)
	}
	for i, t := range plan.Targets {
		segments := t.Segments()
		if len(segments) == 0 {
			return fmt.Errorf("target %d: empty path", i)
		}
		for _, seg := range segments {
			if seg == "__proto__" {
				return fmt.Errorf("target %d: path segment __proto__ refused", i)
			}
			if seg == "" {
				return fmt.Errorf("target %d: empty path segment in %q", i, t.Path)
			}
		}
		leaf := segments[len(segments)-1]
		if !secretLeaves[leaf] {
			return fmt.Errorf("target %d: %q is not a secret leaf", i, t.Path)
		}
		if t.Ref.Source == "" || t.Ref.ID == "" {
			return fmt.Errorf("target %d: incomplete ref", i)
		}
	}
	return nil
}

// Segments returns the explicit segments or the dot-split path.
func (t Target) Segments() []string {
	if len(t.PathSegments) > 0 {
		return t.PathSegments
	}
	if t.Path == "" {
		return nil
	}
	return strings.Split(t.Path, ".")
}

// Apply rewrites the config at configPath per the plan. With write=false it
// is a dry run: the result reports what would change and nothing is touched.
// Repeated applies are idempotent: the config bytes only differ in
// meta.lastTouchedAt.
func Apply(configPath, envPath string, plan *Plan, write bool) (*Result, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	result := &Result{}
	var migratedPlaintexts []string
	for _, t := range plan.Targets {
		plaintext, state, err := replaceAt(root, t.Segments(), t.Ref)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Path, err)
		}
		switch state {
		case replaced:
			result.Replaced++
			migratedPlaintexts = append(migratedPlaintexts, plaintext)
		case alreadyRef:
			result.AlreadyApplied++
		}
	}

	scrubbed, scrubbedEnv, err := scrubEnvFile(envPath, plan, migratedPlaintexts)
	if err != nil {
		return nil, err
	}
	result.ScrubbedEnvKeys = scrubbed

	if !write {
		return result, nil
	}

	setLastTouched(root, time.Now().UTC().Format(time.RFC3339))
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	if scrubbed > 0 {
		if err := os.WriteFile(envPath, []byte(scrubbedEnv), 0o600); err != nil {
			return nil, fmt.Errorf("write env: %w", err)
		}
	}
	return result, nil
}

type replaceState int

const (
	replaced replaceState = iota
	alreadyRef
	absent
)

// replaceAt swaps the plaintext at segments for the ref envelope. A value
// that already is the envelope counts as applied; a missing path is skipped.
func replaceAt(root map[string]any, segments []string, ref Ref) (string, replaceState, error) {
	node := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := node[seg]
		if !ok {
			return "", absent, nil
		}
		m, ok := next.(map[string]any)
		if !ok {
			return "", absent, fmt.Errorf("segment %q is not an object", seg)
		}
		node = m
	}

	leaf := segments[len(segments)-1]
	current, ok := node[leaf]
	if !ok {
		return "", absent, nil
	}

	switch v := current.(type) {
	case string:
		node[leaf] = map[string]any{"source": ref.Source, "provider": ref.Provider, "id": ref.ID}
		return v, replaced, nil
	case map[string]any:
		if v["source"] == ref.Source && v["id"] == ref.ID {
			return "", alreadyRef, nil
		}
		return "", absent, fmt.Errorf("value is already a foreign ref envelope")
	default:
		return "", absent, fmt.Errorf("value is neither string nor envelope")
	}
}

// scrubEnvFile drops .env lines whose value equals a migrated plaintext.
func scrubEnvFile(envPath string, plan *Plan, plaintexts []string) (int, string, error) {
	if plan.Options == nil || !plan.Options.ScrubEnv || len(plaintexts) == 0 {
		return 0, "", nil
	}
	raw, err := os.ReadFile(envPath)
	if os.IsNotExist(err) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read env: %w", err)
	}

	secret := make(map[string]bool, len(plaintexts))
	for _, p := range plaintexts {
		if p != "" {
			secret[p] = true
		}
	}

	var kept []string
	scrubbed := 0
	for _, line := range strings.Split(string(raw), "\n") {
		_, value, found := strings.Cut(line, "=")
		if found && secret[strings.Trim(strings.TrimSpace(value), `"'`)] {
			scrubbed++
			continue
		}
		kept = append(kept, line)
	}
	return scrubbed, strings.Join(kept, "\n"), nil
}

func setLastTouched(root map[string]any, stamp string) {
	meta, ok := root["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		root["meta"] = meta
	}
	meta["lastTouchedAt"] = stamp
}

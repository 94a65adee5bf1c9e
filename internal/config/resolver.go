package config

import (
	"fmt"
	"time"
)

// ProviderSet is the subset of the provider registry the resolver needs
// for eager validation of provider identifiers.
type ProviderSet interface {
	Has(id string) bool
}

// Resolver resolves effective per-stage settings against the three layers
// and owns the stage execution order.
type Resolver struct {
	cfg        *Config
	registered []string // stage names in registration order
	order      []string
}

// NewResolver validates the document against the registered stage set and
// the known providers, and precomputes the execution order.
//
// Validation is eager: configuration mistakes surface here, before any
// provider call is made.
func NewResolver(cfg *Config, registered []string, providers ProviderSet) (*Resolver, error) {
	r := &Resolver{cfg: cfg, registered: registered}

	known := make(map[string]bool, len(registered))
	for _, name := range registered {
		known[name] = true
	}

	// Every stage named in the order list must be registered.
	for _, name := range cfg.StageExecutionOrder {
		if !known[name] {
			return nil, &ConfigError{Reason: fmt.Sprintf("stage %q in stage_execution_order is not registered", name)}
		}
	}

	// Stage override blocks for unregistered stages are mistakes too: they
	// would otherwise be silently ignored.
	for name := range cfg.Stages {
		if !known[name] {
			return nil, &ConfigError{Reason: fmt.Sprintf("stage %q in stages block is not registered", name)}
		}
	}

	r.order = computeOrder(cfg.StageExecutionOrder, registered)

	// Resolve every registered stage once so bad values (unknown provider,
	// unknown fallback mode, out-of-range parameters) fail now.
	for _, name := range registered {
		eff, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		if !providers.Has(eff.Provider) {
			return nil, &ConfigError{Reason: fmt.Sprintf("stage %q references unknown provider %q", name, eff.Provider)}
		}
	}

	return r, nil
}

// ResolutionOrder returns the stage execution order. An explicit
// stage_execution_order in the document is returned as-is (duplicates
// collapsed, first occurrence wins); otherwise stages run in registration
// order. Deterministic across runs for the same document.
func (r *Resolver) ResolutionOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve flattens one stage against the three layers:
// per-stage override, then the defaults block, then built-in constants.
func (r *Resolver) Resolve(stage string) (EffectiveStageConfig, error) {
	override := r.cfg.Stages[stage]
	defaults := r.cfg.Defaults

	eff := EffectiveStageConfig{
		Stage:         stage,
		Provider:      resolveString(override.Provider, defaults.Provider, builtinProvider),
		Model:         resolveString(override.Model, defaults.Model, builtinModel),
		Temperature:   resolveFloat(override.Temperature, defaults.Temperature, builtinTemperature),
		MaxTokens:     resolveInt(override.MaxTokens, defaults.MaxTokens, builtinMaxTokens),
		RetryCount:    resolveInt(override.RetryCount, defaults.RetryCount, builtinRetryCount),
		Required:      resolveBool(override.Required, defaults.Required, builtinRequired),
		DefaultOutput: resolveString(override.DefaultOutput, defaults.DefaultOutput, builtinDefaultOutput),
	}

	timeoutSeconds := resolveInt(override.TimeoutSeconds, defaults.TimeoutSeconds, builtinTimeoutSeconds)
	eff.Timeout = time.Duration(timeoutSeconds) * time.Second

	fallback := resolveString(override.FallbackMode, defaults.FallbackMode, string(builtinFallbackMode))
	if !validFallbackMode(fallback) {
		return EffectiveStageConfig{}, &ConfigError{Reason: fmt.Sprintf("stage %q has unknown fallback_mode %q", stage, fallback)}
	}
	eff.FallbackMode = FallbackMode(fallback)

	// An optional stage with the built-in halt fallback would be
	// contradictory; optional stages default to skip instead.
	if !eff.Required && override.FallbackMode == nil && defaults.FallbackMode == nil {
		eff.FallbackMode = FallbackSkip
	}

	if err := validateEffective(eff); err != nil {
		return EffectiveStageConfig{}, err
	}
	return eff, nil
}

// computeOrder collapses duplicate order entries (first occurrence wins)
// or falls back to registration order when no explicit order is given.
func computeOrder(explicit, registered []string) []string {
	if len(explicit) == 0 {
		out := make([]string, len(registered))
		copy(out, registered)
		return out
	}
	seen := make(map[string]bool, len(explicit))
	out := make([]string, 0, len(explicit))
	for _, name := range explicit {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// validateEffective rejects resolved values no provider could accept.
func validateEffective(eff EffectiveStageConfig) error {
	if eff.Temperature < 0 || eff.Temperature > 2 {
		return &ConfigError{Reason: fmt.Sprintf("stage %q temperature %v out of range [0, 2]", eff.Stage, eff.Temperature)}
	}
	if eff.MaxTokens < 1 {
		return &ConfigError{Reason: fmt.Sprintf("stage %q max_tokens must be >= 1, got %d", eff.Stage, eff.MaxTokens)}
	}
	if eff.RetryCount < 0 {
		return &ConfigError{Reason: fmt.Sprintf("stage %q retry_count must be >= 0, got %d", eff.Stage, eff.RetryCount)}
	}
	if eff.Timeout <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("stage %q timeout_seconds must be > 0", eff.Stage)}
	}
	return nil
}

func resolveString(override, defaults *string, builtin string) string {
	if override != nil {
		return *override
	}
	if defaults != nil {
		return *defaults
	}
	return builtin
}

func resolveFloat(override, defaults *float64, builtin float64) float64 {
	if override != nil {
		return *override
	}
	if defaults != nil {
		return *defaults
	}
	return builtin
}

func resolveInt(override, defaults *int, builtin int) int {
	if override != nil {
		return *override
	}
	if defaults != nil {
		return *defaults
	}
	return builtin
}

func resolveBool(override, defaults *bool, builtin bool) bool {
	if override != nil {
		return *override
	}
	if defaults != nil {
		return *defaults
	}
	return builtin
}

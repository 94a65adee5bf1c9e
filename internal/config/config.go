// Package config loads the loom configuration document and resolves
// per-stage settings through a three-layer precedence scheme: explicit
// per-stage overrides win over the shared defaults block, which wins over
// built-in constants. The built-in layer is total, so resolution always
// terminates in a defined value.
package config

import (
	"fmt"
	"time"
)

// FallbackMode selects how a non-halting stage failure degrades.
type FallbackMode string

const (
	// FallbackUseCache reuses the most recent successful cache entry for the
	// stage; if none exists the stage behaves as skipped.
	FallbackUseCache FallbackMode = "use-cache"

	// FallbackUseDefault writes the stage's configured placeholder output.
	FallbackUseDefault FallbackMode = "use-default-value"

	// FallbackSkip writes nothing and lets the pipeline proceed.
	FallbackSkip FallbackMode = "skip"

	// FallbackHalt stops the whole run. Only meaningful on required stages.
	FallbackHalt FallbackMode = "halt-pipeline"
)

// validFallbackMode reports whether s names a known fallback mode.
func validFallbackMode(s string) bool {
	switch FallbackMode(s) {
	case FallbackUseCache, FallbackUseDefault, FallbackSkip, FallbackHalt:
		return true
	}
	return false
}

// StageSettings is one layer of stage configuration. Nil fields mean
// "unset at this layer": resolution falls through to the next layer.
// Pointers keep a deliberate zero (e.g. temperature 0) distinct from absence.
type StageSettings struct {
	Provider       *string  `koanf:"provider"`
	Model          *string  `koanf:"model"`
	Temperature    *float64 `koanf:"temperature"`
	MaxTokens      *int     `koanf:"max_tokens"`
	RetryCount     *int     `koanf:"retry_count"`
	TimeoutSeconds *int     `koanf:"timeout_seconds"`
	Required       *bool    `koanf:"required"`
	FallbackMode   *string  `koanf:"fallback_mode"`
	DefaultOutput  *string  `koanf:"default_output"`
}

// Config is the parsed configuration document.
type Config struct {
	Defaults            StageSettings            `koanf:"defaults"`
	Stages              map[string]StageSettings `koanf:"stages"`
	StageExecutionOrder []string                 `koanf:"stage_execution_order"`
	CacheDir            string                   `koanf:"cache_dir"`
	Logging             LoggingSettings          `koanf:"logging"`
}

// LoggingSettings configures the run's logger.
type LoggingSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EffectiveStageConfig is the flattened result of resolving one stage
// against all three layers. Immutable once computed for a run.
type EffectiveStageConfig struct {
	Stage         string
	Provider      string
	Model         string
	Temperature   float64
	MaxTokens     int
	RetryCount    int
	Timeout       time.Duration
	Required      bool
	FallbackMode  FallbackMode
	DefaultOutput string
}

// Built-in constants, the lowest precedence layer. Every setting has a
// defined value here so resolution never yields "undefined".
const (
	builtinProvider       = "anthropic"
	builtinModel          = "claude-3-5-sonnet-20241022"
	builtinTemperature    = 0.7
	builtinMaxTokens      = 4096
	builtinRetryCount     = 2
	builtinTimeoutSeconds = 60
	builtinRequired       = true
	builtinFallbackMode   = FallbackHalt
	builtinDefaultOutput  = ""
)

// ConfigError reports a configuration mistake: a malformed document, an
// unknown provider identifier, or an unregistered stage name. It is always
// fatal and always surfaced before any provider call.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileIsEmptyDocument(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.StageExecutionOrder)
	assert.Nil(t, cfg.Defaults.Provider)
	assert.NotNil(t, cfg.Stages)
}

func TestLoad_ParsesDocument(t *testing.T) {
	path := writeConfig(t, `
defaults:
  provider: openai
  temperature: 0.2
  retry_count: 5
stages:
  feature-research:
    provider: ollama
    required: false
    fallback_mode: skip
stage_execution_order:
  - project-analysis
  - feature-research
cache_dir: /tmp/loom-cache
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Provider)
	assert.Equal(t, "openai", *cfg.Defaults.Provider)
	require.NotNil(t, cfg.Defaults.Temperature)
	assert.Equal(t, 0.2, *cfg.Defaults.Temperature)
	require.NotNil(t, cfg.Defaults.RetryCount)
	assert.Equal(t, 5, *cfg.Defaults.RetryCount)

	research, ok := cfg.Stages["feature-research"]
	require.True(t, ok)
	require.NotNil(t, research.Required)
	assert.False(t, *research.Required)
	require.NotNil(t, research.FallbackMode)
	assert.Equal(t, "skip", *research.FallbackMode)

	assert.Equal(t, []string{"project-analysis", "feature-research"}, cfg.StageExecutionOrder)
	assert.Equal(t, "/tmp/loom-cache", cfg.CacheDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_UnsetStaysNil(t *testing.T) {
	// A setting absent from the document must stay a nil sentinel, never a
	// zero value, so the resolver can fall through layers.
	path := writeConfig(t, `
defaults:
  provider: openai
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Temperature)
	assert.Nil(t, cfg.Defaults.MaxTokens)
	assert.Nil(t, cfg.Defaults.Required)
}

func TestLoad_ExplicitZeroIsNotUnset(t *testing.T) {
	path := writeConfig(t, `
defaults:
  temperature: 0
  retry_count: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Temperature)
	assert.Equal(t, 0.0, *cfg.Defaults.Temperature)
	require.NotNil(t, cfg.Defaults.RetryCount)
	assert.Equal(t, 0, *cfg.Defaults.RetryCount)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "defaults: [unclosed")

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
defaults:
  provider: openai
`)
	t.Setenv("LOOM_DEFAULTS_PROVIDER", "ollama")
	t.Setenv("LOOM_CACHE_DIR", "/var/cache/loom")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Provider)
	assert.Equal(t, "ollama", *cfg.Defaults.Provider)
	assert.Equal(t, "/var/cache/loom", cfg.CacheDir)
}

func TestLoad_LoggingDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

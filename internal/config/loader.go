package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces environment overrides: LOOM_DEFAULTS_PROVIDER,
	// LOOM_CACHE_DIR, LOOM_LOGGING_LEVEL, ...
	envPrefix = "LOOM_"
)

// Load loads the configuration document from a YAML file, then overrides
// with LOOM_-prefixed environment variables.
//
// Precedence within the loaded document (highest to lowest):
//  1. Environment variables (LOOM_DEFAULTS_PROVIDER, LOOM_LOGGING_LEVEL, ...)
//  2. YAML config file
//
// A missing file is not an error: the document is simply empty and every
// stage resolves from the built-in layer. A present-but-malformed file is
// a ConfigError.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// Sectioned keys split on the first underscore; top-level keys stay flat.
	//
	//	LOOM_DEFAULTS_MAX_TOKENS -> defaults.max_tokens
	//	LOOM_LOGGING_LEVEL       -> logging.level
	//	LOOM_CACHE_DIR           -> cache_dir
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 2 {
			switch parts[0] {
			case "defaults", "stages", "logging":
				return parts[0] + "." + parts[1]
			}
		}
		return lower
	}), nil); err != nil {
		return nil, &ConfigError{Reason: "loading environment variables", Err: err}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &ConfigError{Reason: "unmarshaling document", Err: err}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// loadFile reads and parses one YAML document into k.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Absent config file means an empty document.
			return nil
		}
		return &ConfigError{Reason: fmt.Sprintf("opening %s", path), Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("stat %s", path), Err: err}
	}
	if info.Size() > maxConfigFileSize {
		return &ConfigError{Reason: fmt.Sprintf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)}
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("reading %s", path), Err: err}
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("parsing %s", path), Err: err}
	}
	return nil
}

// applyDefaults fills document-level settings that are not part of the
// three stage layers.
func applyDefaults(cfg *Config) {
	if cfg.Stages == nil {
		cfg.Stages = map[string]StageSettings{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

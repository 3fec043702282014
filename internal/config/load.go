// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the daemon's environment variables. A double
// underscore separates nesting levels so snake_case keys survive:
// MEDIAPRESS_SCHEDULER__POLL_INTERVAL -> scheduler.poll_interval.
const EnvPrefix = "MEDIAPRESS_"

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "MEDIAPRESS_CONFIG"

// DefaultConfigPaths are searched in order; the first hit wins.
var DefaultConfigPaths = []string{
	"mediapress.yaml",
	"mediapress.yml",
	"/etc/mediapress/config.yaml",
	"/etc/mediapress/config.yml",
}

// Load builds the effective configuration from defaults, the optional
// config file and the environment, then validates it.
func Load() (*Config, error) {
	return LoadFrom(FindConfigFile())
}

// LoadFrom is Load with an explicit file path (empty skips the file
// layer). Used by the hot-reload holder and tests.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile returns the first config file found, checking the
// MEDIAPRESS_CONFIG override before the default locations. Empty means
// the daemon runs on defaults plus environment.
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads and validates the daemon configuration: struct
// defaults, then an optional YAML file, then MEDIAPRESS_* environment
// variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the daemon-level configuration. Tenant- and template-level
// settings live in the database, not here.
type Config struct {
	Listen     string          `koanf:"listen" validate:"required,hostname_port"`
	DataDir    string          `koanf:"data_dir" validate:"required"`
	StorageDir string          `koanf:"storage_dir" validate:"required"`
	Log        LogConfig       `koanf:"log"`
	Vault      VaultConfig     `koanf:"vault"`
	Cache      CacheConfig     `koanf:"cache"`
	FFmpeg     FFmpegConfig    `koanf:"ffmpeg"`
	Scheduler  SchedulerConfig `koanf:"scheduler"`
	Sweep      SweepConfig     `koanf:"sweep"`
	Telemetry  TelemetryConfig `koanf:"telemetry"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// VaultConfig locates the credential master key.
type VaultConfig struct {
	// KeyFile holds the 32-byte master key, hex-encoded. Empty means the
	// MEDIAPRESS_VAULT_KEY environment variable is used instead.
	KeyFile string `koanf:"key_file"`
}

// CacheConfig selects the pattern/config cache backend.
type CacheConfig struct {
	// RedisAddr enables the redis cache when non-empty; otherwise an
	// in-memory cache is used.
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
}

// FFmpegConfig locates the media binary.
type FFmpegConfig struct {
	Binary  string        `koanf:"binary" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// SchedulerConfig tunes the automation loop.
type SchedulerConfig struct {
	PollInterval  time.Duration `koanf:"poll_interval" validate:"gt=0"`
	MaxConcurrent int           `koanf:"max_concurrent" validate:"gt=0"`
}

// SweepConfig tunes the background sweeps.
type SweepConfig struct {
	TempMaxAge     time.Duration `koanf:"temp_max_age" validate:"gt=0"`
	ExpiryInterval time.Duration `koanf:"expiry_interval" validate:"gt=0"`
}

// TelemetryConfig mirrors telemetry.Config for the loader.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ExporterType string  `koanf:"exporter" validate:"omitempty,oneof=grpc http"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	Environment  string  `koanf:"environment"`
}

func defaultConfig() *Config {
	return &Config{
		Listen:     "127.0.0.1:8080",
		DataDir:    "/var/lib/mediapress",
		StorageDir: "/var/lib/mediapress/storage",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		FFmpeg: FFmpegConfig{
			Binary:  "ffmpeg",
			Timeout: 2 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			PollInterval:  30 * time.Second,
			MaxConcurrent: 4,
		},
		Sweep: SweepConfig{
			TempMaxAge:     24 * time.Hour,
			ExpiryInterval: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ExporterType: "grpc",
			SamplingRate: 0.1,
			Environment:  "production",
		},
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("config validation: telemetry enabled without an endpoint")
	}
	return nil
}

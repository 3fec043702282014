// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediapress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o640))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.TempMaxAge)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:9090"
log:
  level: debug
scheduler:
  poll_interval: 10s
  max_concurrent: 8
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrent)
	// Untouched sections keep their defaults.
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.Binary)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: \"0.0.0.0:9090\"\n")
	t.Setenv("MEDIAPRESS_LISTEN", "127.0.0.1:7070")
	t.Setenv("MEDIAPRESS_LOG__LEVEL", "warn")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []string{
		"log:\n  level: loud\n",
		"scheduler:\n  max_concurrent: 0\n",
		"telemetry:\n  enabled: true\n",
	}
	for _, body := range cases {
		_, err := LoadFrom(writeConfig(t, body))
		require.Error(t, err, "config %q", body)
	}
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, "listen: \"0.0.0.0:9090\"\n")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o640))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, "0.0.0.0:9090", h.Get().Listen)

	require.NoError(t, os.WriteFile(path, []byte("listen: \"0.0.0.0:9191\"\n"), 0o640))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, "0.0.0.0:9191", h.Get().Listen)
}

func TestHolderNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "listen: \"0.0.0.0:9090\"\n")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	ch := make(chan *Config, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("listen: \"0.0.0.0:9191\"\n"), 0o640))
	require.NoError(t, h.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "0.0.0.0:9191", got.Listen)
	default:
		t.Fatal("listener was not notified")
	}
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/cache"
	"github.com/ManuGH/mediapress/internal/config"
	"github.com/ManuGH/mediapress/internal/configres"
	mplog "github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/media/ffmpeg"
	"github.com/ManuGH/mediapress/internal/pipeline/executor"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/pipeline/runlock"
	"github.com/ManuGH/mediapress/internal/pipeline/stages"
	"github.com/ManuGH/mediapress/internal/quota"
	"github.com/ManuGH/mediapress/internal/scheduler"
	"github.com/ManuGH/mediapress/internal/service"
	"github.com/ManuGH/mediapress/internal/storagepath"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/telemetry"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/vault"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// vaultKeyEnvVar supplies the credential master key when no key file is
// configured. Hex-encoded, 32 bytes.
const vaultKeyEnvVar = "MEDIAPRESS_VAULT_KEY"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	mplog.Configure(mplog.Config{Level: "info", Service: "mediapress"})
	logger := mplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectivePath := *configPath
	if effectivePath == "" {
		effectivePath = config.FindConfigFile()
	}
	cfg, err := config.LoadFrom(effectivePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	applyLogConfig(cfg)
	logger = mplog.WithComponent("daemon")

	if effectivePath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectivePath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := run(ctx, cfg, effectivePath, logger); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Msg("server exiting")
}

func applyLogConfig(cfg *config.Config) {
	lc := mplog.Config{Level: cfg.Log.Level, Service: "mediapress"}
	if cfg.Log.Format == "console" {
		lc.Output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	mplog.Configure(lc)
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger zerolog.Logger) error {
	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Msg("starting mediapress")

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "mediapress",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := sqlite.Open(filepath.Join(cfg.DataDir, "core.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	lockDB, err := badger.Open(
		badger.DefaultOptions(filepath.Join(cfg.DataDir, "runlock")).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("open run-lock store: %w", err)
	}
	defer func() {
		if err := lockDB.Close(); err != nil {
			logger.Warn().Err(err).Msg("run-lock store close failed")
		}
	}()

	key, err := loadVaultKey(cfg)
	if err != nil {
		return err
	}
	vlt, err := vault.New(st, key)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	layout, err := storagepath.New(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("init storage layout: %w", err)
	}
	if err := layout.EnsureBase(); err != nil {
		return fmt.Errorf("ensure storage dirs: %w", err)
	}

	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(
			cache.RedisConfig{Addr: cfg.Cache.RedisAddr}, mplog.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("connect redis cache: %w", err)
		}
		c = rc
	} else {
		c = cache.NewMemoryCache(cfg.Cache.TTL)
	}

	// Provider integrations register their adapters here. The core ships
	// with none compiled in; deployments link their own providers.
	registry := adapters.NewRegistry()

	deps := stages.NewDeps(layout, registry, ffmpeg.NewRunner(cfg.FFmpeg.Binary, cfg.FFmpeg.Timeout))
	resolver := configres.New(st, c)
	q := quota.New(st.DB())
	rec := audit.New(st)
	exec := executor.New(st, deps, resolver, q, runlock.NewBadger(lockDB), rec)
	exec.OnProgress(func(ev model.ProgressEvent) {
		logger.Debug().
			Str("recording_id", ev.RecordingID).
			Str("run_id", ev.RunID).
			Str("runner", string(ev.Runner)).
			Int("percent", ev.Percent).
			Msg("pipeline progress")
	})
	matcher := match.New(c)

	sched := scheduler.New(st, registry, matcher, exec, rec)
	sched.PollInterval = cfg.Scheduler.PollInterval
	sched.MaxConcurrent = cfg.Scheduler.MaxConcurrent

	svc := service.New(service.Deps{
		Store:     st,
		Layout:    layout,
		Vault:     vlt,
		Executor:  exec,
		Scheduler: sched,
		Matcher:   matcher,
		Resolver:  resolver,
		Quota:     q,
		Audit:     rec,
		Limiters:  tenant.NewLimiterRegistry(),
	})

	// Hot reload: only the log level is applied live; everything else
	// needs a restart.
	holder := config.NewHolder(cfg, configPath)
	updates := make(chan *config.Config, 1)
	holder.RegisterListener(updates)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
	}
	defer holder.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-updates:
				applyLogConfig(next)
				logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
			}
		}
	}()

	sched.Start(ctx)
	go sweepLoop(ctx, cfg, layout, svc, logger)
	go quotaBoundaryLoop(ctx, q, logger)

	return serveHTTP(ctx, cfg.Listen, logger)
}

// loadVaultKey reads the hex-encoded 32-byte master key from the
// configured key file, falling back to the environment.
func loadVaultKey(cfg *config.Config) ([]byte, error) {
	var encoded string
	if cfg.Vault.KeyFile != "" {
		raw, err := os.ReadFile(cfg.Vault.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read vault key file: %w", err)
		}
		encoded = strings.TrimSpace(string(raw))
	} else {
		encoded = strings.TrimSpace(os.Getenv(vaultKeyEnvVar))
	}
	if encoded == "" {
		return nil, fmt.Errorf("no vault key: set vault.key_file or %s", vaultKeyEnvVar)
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	return key, nil
}

// sweepLoop runs the periodic temp and expiry sweeps.
func sweepLoop(ctx context.Context, cfg *config.Config, layout *storagepath.Layout, svc *service.Service, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.Sweep.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := layout.SweepTemp(cfg.Sweep.TempMaxAge, now); err != nil {
				logger.Error().Err(err).Msg("temp sweep failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("temp sweep completed")
			}
			if n, err := svc.SweepExpired(ctx, now); err != nil {
				logger.Error().Err(err).Msg("expiry sweep failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("expiry sweep completed")
			}
		}
	}
}

// quotaBoundaryLoop rolls quota usage rows over at each month boundary.
func quotaBoundaryLoop(ctx context.Context, q *quota.Service, logger zerolog.Logger) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		period := quota.Period(time.Now())
		if err := q.ResetMonthly(ctx, period); err != nil {
			logger.Error().Err(err).Str("period", period).Msg("monthly quota rollover failed")
		} else {
			logger.Info().Str("period", period).Msg("monthly quota rollover completed")
		}
	}
}

// serveHTTP exposes liveness and metrics and blocks until ctx is done.
func serveHTTP(ctx context.Context, addr string, logger zerolog.Logger) error {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

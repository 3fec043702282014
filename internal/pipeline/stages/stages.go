// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package stages holds the six pipeline stage runners. A runner does one
// unit of work against the filesystem and the provider adapters; the
// executor owns sequencing, status transitions and persistence.
package stages

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/media/ffmpeg"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/storagepath"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Per-stage execution budgets enforced by the executor.
const (
	TimeoutDownload   = 2 * time.Hour
	TimeoutTrim       = 1 * time.Hour
	TimeoutTranscribe = 2 * time.Hour
	TimeoutTopics     = 10 * time.Minute
	TimeoutSubtitles  = 1 * time.Minute
	TimeoutUpload     = 2 * time.Hour // per target
)

const (
	// transientRetries bounds in-stage retries of transient provider
	// errors; the backoff doubles from retryBase.
	transientRetries = 3
	retryBase        = 2 * time.Second

	// transcribePerTenant caps concurrent transcriptions per tenant.
	transcribePerTenant = 2
	// uploadFanOut caps concurrent target uploads per recording.
	uploadFanOut = 2
)

// MediaRunner executes one media-tool invocation and returns its stderr
// tail. *ffmpeg.Runner is the production implementation.
type MediaRunner interface {
	Run(ctx context.Context, args []string) ([]string, error)
}

var _ MediaRunner = (*ffmpeg.Runner)(nil)

// Deps is the shared wiring every runner receives.
type Deps struct {
	Layout   *storagepath.Layout
	Registry *adapters.Registry
	FFmpeg   MediaRunner
	Logger   zerolog.Logger

	mu    sync.Mutex
	slots map[string]*semaphore.Weighted // per-tenant transcription slots
}

// NewDeps builds the runner wiring.
func NewDeps(layout *storagepath.Layout, registry *adapters.Registry, ff MediaRunner) *Deps {
	return &Deps{
		Layout:   layout,
		Registry: registry,
		FFmpeg:   ff,
		Logger:   log.WithComponent("stages"),
		slots:    make(map[string]*semaphore.Weighted),
	}
}

// transcribeSlot returns the tenant's transcription semaphore.
func (d *Deps) transcribeSlot(tenantID string) *semaphore.Weighted {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[tenantID]
	if !ok {
		s = semaphore.NewWeighted(transcribePerTenant)
		d.slots[tenantID] = s
	}
	return s
}

// retryTransient runs fn, retrying transient errors with exponential
// backoff. Permanent errors and context cancellation stop immediately.
func retryTransient(ctx context.Context, logger zerolog.Logger, stage string, fn func() error) error {
	delay := retryBase
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, stage+" cancelled", ctx.Err())
		}
		if !xerr.Retryable(err) || attempt >= transientRetries {
			return err
		}
		metrics.StageRetries.WithLabelValues(stage).Inc()
		logger.Warn().Err(err).
			Str("stage", stage).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("transient stage error, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return xerr.Wrap(xerr.KindCancelled, stage+" cancelled", ctx.Err())
		}
		delay *= 2
	}
}

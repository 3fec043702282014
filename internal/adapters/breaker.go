// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// breakerSink wraps a SinkAdapter so consecutive provider failures open
// the circuit and subsequent calls fail fast as Transient until the
// half-open probe succeeds. Cancellations and caller-side errors do not
// count as provider failures.
type breakerSink struct {
	inner SinkAdapter
	cb    *gobreaker.CircuitBreaker[TargetMeta]
}

func wrapSinkBreaker(name string, inner SinkAdapter) SinkAdapter {
	logger := log.WithComponent("sink-breaker")
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("platform", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("sink circuit state change")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only provider-side failures should trip the circuit.
			switch xerr.KindOf(err) {
			case xerr.KindTransient, xerr.KindInternal:
				return false
			}
			return true
		},
	}
	return &breakerSink{inner: inner, cb: gobreaker.NewCircuitBreaker[TargetMeta](settings)}
}

func (b *breakerSink) Upload(ctx context.Context, t tenant.Context, target model.OutputTarget, videoPath string, meta UploadMetadata, progress ProgressFunc) (TargetMeta, error) {
	return b.execute(func() (TargetMeta, error) {
		return b.inner.Upload(ctx, t, target, videoPath, meta, progress)
	})
}

func (b *breakerSink) UpdateMetadata(ctx context.Context, t tenant.Context, target model.OutputTarget, remoteID string, meta UploadMetadata) (TargetMeta, error) {
	return b.execute(func() (TargetMeta, error) {
		return b.inner.UpdateMetadata(ctx, t, target, remoteID, meta)
	})
}

func (b *breakerSink) Capabilities() Capabilities { return b.inner.Capabilities() }

func (b *breakerSink) execute(fn func() (TargetMeta, error)) (TargetMeta, error) {
	out, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, xerr.Wrap(xerr.KindTransient, "platform circuit open", err)
		}
		return nil, err
	}
	return out, nil
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"
	"time"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/pipeline/fsm"
)

const expiryBatch = 100

// SweepExpired expires recordings whose retention window has passed:
// files are deleted, storage bytes released, the row kept as EXPIRED.
// Runs cross-tenant; meant for the daemon's daily sweep.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	swept := 0
	for {
		recs, err := s.store.ExpiredRecordings(ctx, now, expiryBatch)
		if err != nil {
			return swept, err
		}
		if len(recs) == 0 {
			return swept, nil
		}
		before := swept
		for i := range recs {
			rec := &recs[i]
			t, err := s.store.TenantContext(ctx, rec.TenantID)
			if err != nil {
				s.logger.Error().Err(err).Str("tenant_id", rec.TenantID).Msg("expiry sweep tenant lookup failed")
				continue
			}
			if s.runActive(rec.ID) {
				continue
			}
			bytes, err := s.layout.RemoveRecording(t.ID(), rec.ID)
			if err != nil {
				s.logger.Error().Err(err).Str("recording_id", rec.ID).Msg("expiry sweep file removal failed")
				continue
			}
			if bytes > 0 {
				if err := s.quota.TrackStorageRemoved(ctx, t, bytes); err != nil {
					s.logger.Error().Err(err).Str("recording_id", rec.ID).Msg("expiry sweep quota release failed")
				}
			}
			fsm.MarkExpired(rec)
			if err := s.store.UpdateRecording(ctx, t, rec); err != nil {
				s.logger.Error().Err(err).Str("recording_id", rec.ID).Msg("expiry sweep persist failed")
				continue
			}
			s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventRecordingExpired, map[string]any{
				"freed_bytes": bytes,
			})
			metrics.SweepRemoved.WithLabelValues("expiry").Inc()
			swept++
		}
		// No batch progress means everything left is skipped or stuck.
		if len(recs) < expiryBatch || swept == before {
			return swept, nil
		}
	}
}

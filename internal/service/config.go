// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// EffectiveConfig resolves the recording's config document: the frozen
// snapshot while a run is in flight, the live three-layer merge otherwise.
func (s *Service) EffectiveConfig(ctx context.Context, t tenant.Context, recordingID string) (map[string]any, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Effective(ctx, t, rec)
}

// OverrideRecordingConfig replaces the per-recording override layer.
// Changes take effect on the next run; an existing snapshot is untouched.
func (s *Service) OverrideRecordingConfig(ctx context.Context, t tenant.Context, recordingID string, doc map[string]any) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	if _, err := s.store.GetRecording(ctx, t, recordingID); err != nil {
		return err
	}
	return s.store.SetRecordingOverride(ctx, t, recordingID, doc)
}

// ResetRecordingConfig drops the override layer and the captured snapshot
// so the next run resolves fresh from template and tenant defaults.
func (s *Service) ResetRecordingConfig(ctx context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	if s.runActive(rec.ID) {
		return xerr.E(xerr.KindConflict, "recording has an active pipeline run")
	}
	if err := s.store.SetRecordingOverride(ctx, t, recordingID, nil); err != nil {
		return err
	}
	s.resolver.ClearSnapshot(rec)
	return s.store.UpdateRecording(ctx, t, rec)
}

// SetTenantDefaults replaces the tenant defaults layer and invalidates
// the resolver cache.
func (s *Service) SetTenantDefaults(ctx context.Context, t tenant.Context, doc map[string]any) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	if err := s.store.SetTenantDefaults(ctx, t, doc); err != nil {
		return err
	}
	s.resolver.InvalidateTenant(t.ID())
	return nil
}

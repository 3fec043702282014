// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/pipeline/fsm"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// ListOutputTargets returns a recording's output targets.
func (s *Service) ListOutputTargets(ctx context.Context, t tenant.Context, recordingID string) ([]model.OutputTarget, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRecording(ctx, t, recordingID); err != nil {
		return nil, err
	}
	return s.store.TargetsForRecording(ctx, t, recordingID)
}

// AddOutputTarget registers a new platform target on a recording. On an
// already published recording the upload phase reopens and runs for the
// pending targets only; the original targets keep their state.
func (s *Service) AddOutputTarget(ctx context.Context, t tenant.Context, recordingID string, platform model.Platform, presetID string) (*model.OutputTarget, error) {
	if err := s.gate(t, tenant.PermUpload); err != nil {
		return nil, err
	}
	if platform == "" {
		return nil, xerr.E(xerr.KindValidation, "platform is required")
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.TargetsForRecording(ctx, t, rec.ID)
	if err != nil {
		return nil, err
	}
	for _, ot := range existing {
		if ot.Platform == platform {
			return nil, xerr.Ef(xerr.KindConflict, "recording already targets %s", platform)
		}
	}

	ot := &model.OutputTarget{
		RecordingID: rec.ID,
		TenantID:    t.ID(),
		Platform:    platform,
		PresetID:    presetID,
		Status:      model.TargetNotUploaded,
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.UpsertTarget(ctx, t, ot); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventTargetAdded, map[string]any{
		"target_id": ot.ID,
		"platform":  string(platform),
	})

	// A recording that never reached UPLOADED picks the target up on its
	// next pipeline run.
	if rec.Status != model.StatusUploaded {
		return ot, nil
	}
	if err := fsm.ReopenUploads(rec); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRecording(ctx, t, rec); err != nil {
		return nil, err
	}
	rctx, cancel, ok := s.trackRun(ctx, rec.ID)
	if !ok {
		return nil, xerr.E(xerr.KindAlreadyRunning, "pipeline already running for recording")
	}
	defer cancel()
	defer s.untrackRun(rec.ID)
	if err := s.exec.ResumeUploads(rctx, t, rec); err != nil {
		return ot, err
	}
	return ot, nil
}

// UpdateTargetMetadata re-renders the publish metadata from the effective
// config and pushes it to the platform holding an uploaded target.
func (s *Service) UpdateTargetMetadata(ctx context.Context, t tenant.Context, recordingID, targetID string) (*model.OutputTarget, error) {
	if err := s.gate(t, tenant.PermUpload); err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return nil, err
	}
	ot, err := s.store.GetTarget(ctx, t, targetID)
	if err != nil {
		return nil, err
	}
	if ot.RecordingID != rec.ID {
		return nil, xerr.E(xerr.KindValidation, "target does not belong to recording")
	}
	if err := s.exec.PushTargetMetadata(ctx, t, rec, ot); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventTargetUpdated, map[string]any{
		"target_id": ot.ID,
		"platform":  string(ot.Platform),
	})
	return ot, nil
}

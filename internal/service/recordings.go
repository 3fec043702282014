// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"
	"time"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/pipeline/fsm"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// CreateRecordingParams describes a manual ingestion.
type CreateRecordingParams struct {
	SourceID        string         `validate:"required"`
	DisplayName     string         `validate:"required"`
	StartTime       time.Time      `validate:"required"`
	DurationSeconds int64          `validate:"gte=0"`
	SizeBytes       int64          `validate:"gte=0"`
	SourceType      string         `validate:"required"`
	SourceKey       string         `validate:"required"`
	Payload         map[string]any `validate:"-"`
	ExpireAt        *time.Time     `validate:"-"`
}

// CreateRecording ingests a recording outside a scheduled sync. Blank
// records are created SKIPPED; everything else is template-matched and
// left INITIALIZED for RunPipeline.
func (s *Service) CreateRecording(ctx context.Context, t tenant.Context, p CreateRecordingParams) (*model.Recording, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	if err := s.checkInput(p); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSource(ctx, t, p.SourceID); err != nil {
		return nil, err
	}

	rec := &model.Recording{
		TenantID:        t.ID(),
		SourceID:        p.SourceID,
		DisplayName:     p.DisplayName,
		StartTime:       p.StartTime,
		DurationSeconds: p.DurationSeconds,
		SizeBytes:       p.SizeBytes,
		Status:          model.StatusInitialized,
		ExpireAt:        p.ExpireAt,
	}
	if model.IsBlank(time.Duration(p.DurationSeconds)*time.Second, p.SizeBytes) {
		rec.BlankRecord = true
		_ = fsm.MarkSkipped(rec)
	}

	templates, err := s.store.ListTemplates(ctx, t, true)
	if err != nil {
		return nil, err
	}
	if tplID, ok := s.matcher.Bind(rec, p.SourceType, templates); ok {
		rec.TemplateID = tplID
		rec.IsMapped = true
	}

	meta := &model.SourceMetadata{
		SourceType: p.SourceType,
		SourceKey:  p.SourceKey,
		Payload:    p.Payload,
	}
	if err := s.store.InsertRecording(ctx, t, rec, meta); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventRecordingCreated, map[string]any{
		"source_id":    p.SourceID,
		"display_name": p.DisplayName,
		"blank_record": rec.BlankRecord,
	})
	return rec, nil
}

// GetRecording loads one recording.
func (s *Service) GetRecording(ctx context.Context, t tenant.Context, id string) (*model.Recording, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.GetRecording(ctx, t, id)
}

// ListRecordings queries the tenant's recordings.
func (s *Service) ListRecordings(ctx context.Context, t tenant.Context, f sqlite.RecordingFilter) ([]model.Recording, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListRecordings(ctx, t, f)
}

// BindTemplate binds or rebinds a recording to a template by hand.
func (s *Service) BindTemplate(ctx context.Context, t tenant.Context, recordingID, templateID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	tpl, err := s.store.GetTemplate(ctx, t, templateID)
	if err != nil {
		return err
	}
	rec.TemplateID = tpl.ID
	rec.IsMapped = true
	if err := s.store.UpdateRecording(ctx, t, rec); err != nil {
		return err
	}
	s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventTemplateBound, map[string]any{
		"template_id": tpl.ID,
	})
	return nil
}

// RunPipeline executes the full pipeline for a recording. It blocks until
// the run finishes; CancelRun from another goroutine aborts it.
func (s *Service) RunPipeline(ctx context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	rctx, cancel, ok := s.trackRun(ctx, rec.ID)
	if !ok {
		return xerr.E(xerr.KindAlreadyRunning, "pipeline already running for recording")
	}
	defer cancel()
	defer s.untrackRun(rec.ID)
	return s.exec.Run(rctx, t, rec)
}

// RetryRecording resumes a failed recording from its checkpoint. Retries
// beyond the budget need ResetRetryBudget first.
func (s *Service) RetryRecording(ctx context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	if err := fsm.PrepareRetry(rec); err != nil {
		return err
	}
	if err := s.store.UpdateRecording(ctx, t, rec); err != nil {
		return err
	}
	rctx, cancel, ok := s.trackRun(ctx, rec.ID)
	if !ok {
		return xerr.E(xerr.KindAlreadyRunning, "pipeline already running for recording")
	}
	defer cancel()
	defer s.untrackRun(rec.ID)
	return s.exec.Run(rctx, t, rec)
}

// ResetRetryBudget clears retry_count after the budget is exhausted.
// Admin-only override.
func (s *Service) ResetRetryBudget(ctx context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	if t.Role() != tenant.RoleAdmin {
		return xerr.E(xerr.KindPermissionDenied, "retry override requires the admin role")
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	fsm.OverrideRetry(rec)
	return s.store.UpdateRecording(ctx, t, rec)
}

// CancelRun aborts an in-flight pipeline run for the recording. The run
// rolls its status back and does not consume the retry budget.
func (s *Service) CancelRun(_ context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, ok := s.running[recordingID]
	s.mu.Unlock()
	if !ok {
		return xerr.E(xerr.KindNotFound, "no active run for recording")
	}
	cancel()
	return nil
}

// DeleteRecording removes the recording's files, releases its storage
// bytes and deletes every row referencing it. Active runs must be
// cancelled first.
func (s *Service) DeleteRecording(ctx context.Context, t tenant.Context, recordingID string) error {
	if err := s.gate(t, tenant.PermDeleteRecordings); err != nil {
		return err
	}
	if s.runActive(recordingID) {
		return xerr.E(xerr.KindConflict, "recording has an active pipeline run")
	}
	rec, err := s.store.GetRecording(ctx, t, recordingID)
	if err != nil {
		return err
	}
	bytes, err := s.layout.RemoveRecording(t.ID(), rec.ID)
	if err != nil {
		return err
	}
	if bytes > 0 {
		if err := s.quota.TrackStorageRemoved(ctx, t, bytes); err != nil {
			return err
		}
	}
	if err := s.store.DeleteRecording(ctx, t, rec.ID); err != nil {
		return err
	}
	s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventRecordingDeleted, map[string]any{
		"freed_bytes": bytes,
	})
	return nil
}

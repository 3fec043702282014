// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audit records what happened to a recording: every state
// transition, stage outcome and operator action lands both in the
// structured log stream and in the persistent run log, so a run can be
// reconstructed after the process logs are gone.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
)

// Event names. Kept stable: the run log is queried by event.
const (
	EventPipelineStarted    = "pipeline_started"
	EventPipelineCompleted  = "pipeline_completed"
	EventPipelineCancelled  = "pipeline_cancelled"
	EventStageStarted       = "stage_started"
	EventStageCompleted     = "stage_completed"
	EventStageFailed        = "stage_failed"
	EventStatusChanged      = "status_changed"
	EventRecordingCreated   = "recording_created"
	EventRecordingDeleted   = "recording_deleted"
	EventTemplateBound      = "template_bound"
	EventUploadCompleted    = "upload_completed"
	EventUploadFailed       = "upload_failed"
	EventTargetAdded        = "target_added"
	EventTargetUpdated      = "target_updated"
	EventCredentialRotated  = "credential_rotated"
	EventAutomationRun      = "automation_run"
	EventQuotaRejected      = "quota_rejected"
	EventRecordingExpired   = "recording_expired"
)

// Sink persists audit events. The sqlite store satisfies it.
type Sink interface {
	AppendRunLog(ctx context.Context, e *sqlite.RunLogEntry) error
}

// Recorder fans one event out to zerolog and the run log. A nil sink
// degrades to log-only, which keeps tests light.
type Recorder struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

func New(sink Sink) *Recorder {
	return &Recorder{
		sink:   sink,
		logger: log.WithComponent("audit"),
		now:    time.Now,
	}
}

// Record writes one event. Persistence failures are logged and
// swallowed: audit must never fail the operation it describes.
func (r *Recorder) Record(ctx context.Context, tenantID, recordingID, runID, event string, detail map[string]any) {
	ev := r.logger.Info().
		Str("tenant_id", tenantID).
		Str("event", event)
	if recordingID != "" {
		ev = ev.Str("recording_id", recordingID)
	}
	if runID != "" {
		ev = ev.Str("run_id", runID)
	}
	if len(detail) > 0 {
		ev = ev.Interface("detail", detail)
	}
	ev.Msg("audit event")

	if r.sink == nil {
		return
	}
	entry := &sqlite.RunLogEntry{
		TenantID:    tenantID,
		RecordingID: recordingID,
		RunID:       runID,
		Event:       event,
		Detail:      detail,
		At:          r.now().UTC(),
	}
	if err := r.sink.AppendRunLog(ctx, entry); err != nil {
		r.logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("event", event).
			Msg("failed to persist audit event")
	}
}

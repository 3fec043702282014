// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/pipeline/fsm"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Candidates below both thresholds are ingested as blank records and
// skipped; everything else enters the pipeline.
const (
	syncMinDuration  = 30 * time.Minute
	syncMinSizeBytes = int64(40) * 1024 * 1024
)

// RunJob executes one automation job invocation: sync the lookback
// window, match new recordings, submit those bound to the job's template.
// A dry run counts what would happen without ingesting or pipelining
// anything. The run row is persisted either way.
func (s *Scheduler) RunJob(ctx context.Context, t tenant.Context, job *model.AutomationJob, retryAttempt int, dry bool) (model.AutomationRun, error) {
	run := model.AutomationRun{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		TenantID:     t.ID(),
		StartedAt:    s.clock.Now().UTC(),
		RetryAttempt: retryAttempt,
		DryRun:       dry,
		Status:       model.RunRunning,
	}
	if err := s.store.InsertRun(ctx, t, &run); err != nil {
		return run, err
	}

	err := s.runJob(ctx, t, job, &run, dry)
	done := s.clock.Now().UTC()
	run.CompletedAt = &done
	switch {
	case err == nil:
		if run.Status == model.RunRunning {
			run.Status = model.RunSuccess
		}
	default:
		run.Status = model.RunFailed
		run.Error = err.Error()
	}
	if perr := s.store.CompleteRun(context.WithoutCancel(ctx), t, &run); perr != nil {
		s.logger.Error().Err(perr).Str("run_id", run.ID).Msg("run bookkeeping failed")
	}

	s.audit.Record(context.WithoutCancel(ctx), t.ID(), "", run.ID, audit.EventAutomationRun, map[string]any{
		"job_id":    job.ID,
		"status":    string(run.Status),
		"synced":    run.Counts.Synced,
		"processed": run.Counts.Processed,
		"uploaded":  run.Counts.Uploaded,
		"dry_run":   dry,
	})
	return run, err
}

func (s *Scheduler) runJob(ctx context.Context, t tenant.Context, job *model.AutomationJob, run *model.AutomationRun, dry bool) error {
	tpl, err := s.store.GetTemplate(ctx, t, job.TemplateID)
	if err != nil {
		if xerr.IsKind(err, xerr.KindNotFound) {
			run.Status = model.RunSkipped
			run.Error = "template not found"
			return nil
		}
		return err
	}
	if tpl.State != model.TemplateActive {
		run.Status = model.RunSkipped
		run.Error = "template is not active"
		return nil
	}

	templates, err := s.store.ListTemplates(ctx, t, true)
	if err != nil {
		return err
	}
	sources, err := s.store.ListSources(ctx, t)
	if err != nil {
		return err
	}

	days := job.SyncDays
	if days <= 0 {
		days = 1
	}
	to := s.clock.Now().UTC()
	from := to.AddDate(0, 0, -days)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return xerr.Wrap(xerr.KindCancelled, "sync interrupted", err)
		}
		if err := s.syncSource(ctx, t, job, src, templates, from, to, run, dry); err != nil {
			return err
		}
	}
	return nil
}

// syncSource lists one source's window and ingests what is new.
func (s *Scheduler) syncSource(ctx context.Context, t tenant.Context, job *model.AutomationJob, src model.Source, templates []model.Template, from, to time.Time, run *model.AutomationRun, dry bool) error {
	adapter, err := s.registry.Source(model.Platform(src.Type))
	if err != nil {
		// No adapter for this source type is a deployment gap, not a
		// job failure.
		s.logger.Debug().Str("source_id", src.ID).Str("type", src.Type).Msg("no source adapter registered")
		return nil
	}

	ref := sourceRef(src)
	candidates, err := adapter.List(ctx, t, ref, from, to)
	if err != nil {
		return xerr.Wrap(xerr.KindOf(err), "list "+src.Type+" recordings", err)
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return xerr.Wrap(xerr.KindCancelled, "sync interrupted", err)
		}
		exists, err := s.store.SourceKeyExists(ctx, cand.SourceType, cand.SourceKey)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		rec := recordingFromCandidate(t, src, cand)
		eligible := rec.Status == model.StatusInitialized
		tplID, bound := s.matcher.Bind(rec, src.Type, templates)
		if bound {
			rec.TemplateID = tplID
			rec.IsMapped = true
		}

		if dry {
			run.Counts.Synced++
			if eligible && bound && tplID == job.TemplateID {
				run.Counts.Processed++
			}
			continue
		}

		meta := &model.SourceMetadata{
			SourceType: cand.SourceType,
			SourceKey:  cand.SourceKey,
			Payload:    cand.Payload,
		}
		if err := s.store.InsertRecording(ctx, t, rec, meta); err != nil {
			if xerr.IsKind(err, xerr.KindConflict) {
				// Raced with another sync of the same remote key.
				continue
			}
			return err
		}
		run.Counts.Synced++
		s.audit.Record(ctx, t.ID(), rec.ID, run.ID, audit.EventRecordingCreated, map[string]any{
			"source_id":    src.ID,
			"display_name": rec.DisplayName,
			"blank_record": rec.BlankRecord,
		})

		if !eligible || !bound || tplID != job.TemplateID {
			continue
		}
		if err := s.pipeline.Run(ctx, t, rec); err != nil {
			if xerr.IsKind(err, xerr.KindCancelled) {
				return err
			}
			// Recording-level failures are retried through the pipeline
			// retry budget, not by rerunning the whole job.
			s.logger.Warn().Err(err).
				Str("recording_id", rec.ID).
				Str("job_id", job.ID).
				Msg("scheduled pipeline run failed")
			continue
		}
		run.Counts.Processed++
		if rec.Status == model.StatusUploaded {
			run.Counts.Uploaded++
		}
	}
	return nil
}

// recordingFromCandidate builds the row a sync ingests. Candidates under
// the sync thresholds are kept for the audit trail but never pipelined.
func recordingFromCandidate(t tenant.Context, src model.Source, cand model.Candidate) *model.Recording {
	rec := &model.Recording{
		TenantID:        t.ID(),
		SourceID:        src.ID,
		DisplayName:     cand.DisplayName,
		StartTime:       cand.StartTime,
		DurationSeconds: cand.DurationSeconds,
		SizeBytes:       cand.SizeBytes,
		Status:          model.StatusInitialized,
	}
	dur := time.Duration(cand.DurationSeconds) * time.Second
	if dur <= syncMinDuration || cand.SizeBytes <= syncMinSizeBytes {
		rec.BlankRecord = true
		_ = fsm.MarkSkipped(rec)
	}
	return rec
}

func sourceRef(src model.Source) adapters.SourceRef {
	return adapters.SourceRef{
		SourceID:   src.ID,
		SourceType: src.Type,
		AccountKey: src.CredentialID,
		Settings:   src.Settings,
	}
}

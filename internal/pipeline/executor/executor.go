// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package executor orchestrates one pipeline run: sequencing, status
// transitions, per-stage budgets, quota settlement and audit. The stage
// runners do the actual work; the executor owns everything around them.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/pipeline/fsm"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/pipeline/outputs"
	"github.com/ManuGH/mediapress/internal/pipeline/runlock"
	"github.com/ManuGH/mediapress/internal/pipeline/stages"
	"github.com/ManuGH/mediapress/internal/quota"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// runLockTTL bounds how long a crashed run keeps its recording locked.
const runLockTTL = 5 * time.Hour

// Store is the persistence surface the executor needs. *sqlite.Store
// satisfies it.
type Store interface {
	UpdateRecording(ctx context.Context, t tenant.Context, rec *model.Recording) error
	GetSource(ctx context.Context, t tenant.Context, id string) (*model.Source, error)
	SourceMetadataFor(ctx context.Context, t tenant.Context, recordingID string) (*model.SourceMetadata, error)
	TargetsForRecording(ctx context.Context, t tenant.Context, recordingID string) ([]model.OutputTarget, error)
	GetTarget(ctx context.Context, t tenant.Context, id string) (*model.OutputTarget, error)
	UpsertTarget(ctx context.Context, t tenant.Context, ot *model.OutputTarget) error
	InsertStageRecord(ctx context.Context, t tenant.Context, sr *model.StageRecord) error
	CompleteStageRecord(ctx context.Context, t tenant.Context, sr *model.StageRecord) error
}

// ProgressSink receives run-level progress events. Optional.
type ProgressSink func(model.ProgressEvent)

// Executor drives recordings through the pipeline.
type Executor struct {
	store    Store
	stages   *stages.Deps
	resolver *configres.Resolver
	quota    *quota.Service
	locker   runlock.Locker
	audit    *audit.Recorder
	progress ProgressSink
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.Mutex
	lastPct map[string]int // highest percent emitted per run id
}

// New wires an executor.
func New(store Store, deps *stages.Deps, resolver *configres.Resolver, q *quota.Service, locker runlock.Locker, rec *audit.Recorder) *Executor {
	return &Executor{
		store:    store,
		stages:   deps,
		resolver: resolver,
		quota:    q,
		locker:   locker,
		audit:    rec,
		logger:   log.WithComponent("executor"),
		tracer:   otel.Tracer("mediapress/executor"),
		now:      time.Now,
		lastPct:  make(map[string]int),
	}
}

// OnProgress registers the progress sink.
func (e *Executor) OnProgress(sink ProgressSink) { e.progress = sink }

// Run executes the pipeline from the recording's current position to its
// end. Resumption is implicit: a recording sitting on DOWNLOADED starts
// at the processing phase. The caller must have armed failed recordings
// with fsm.PrepareRetry first.
func (e *Executor) Run(ctx context.Context, t tenant.Context, rec *model.Recording) error {
	if rec.Status.IsTerminal() && !rec.Failed {
		return xerr.Ef(xerr.KindConflict, "recording is terminal (%s)", rec.Status)
	}
	if rec.BlankRecord {
		return xerr.E(xerr.KindConflict, "blank recordings are not pipelined")
	}
	if rec.Failed {
		return xerr.E(xerr.KindConflict, "failed recording must be retried, not run")
	}

	runID := uuid.NewString()
	lock, err := e.locker.Acquire(ctx, rec.ID, runID, runLockTTL)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	defer e.dropProgress(runID)

	handle, err := e.quota.Reserve(ctx, t)
	if err != nil {
		e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventQuotaRejected, map[string]any{"error": err.Error()})
		return err
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("recording.id", rec.ID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	logger := e.logger.With().Str("recording_id", rec.ID).Str("run_id", runID).Logger()

	start, err := fsm.ResumePhase(rec)
	if err != nil {
		_ = e.quota.Release(ctx, handle)
		return err
	}

	// The effective config freezes the moment the run starts.
	if err := e.resolver.CaptureSnapshot(ctx, t, rec); err != nil {
		_ = e.quota.Release(ctx, handle)
		return err
	}
	doc, err := e.resolver.Effective(ctx, t, rec)
	if err != nil {
		_ = e.quota.Release(ctx, handle)
		return err
	}
	if err := e.store.UpdateRecording(ctx, t, rec); err != nil {
		_ = e.quota.Release(ctx, handle)
		return err
	}

	e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventPipelineStarted, map[string]any{
		"from_status": string(rec.Status),
	})
	logger.Info().Str("from_phase", string(start)).Msg("pipeline run started")

	started := false
	for _, phase := range fsm.Order {
		if !started {
			if phase != start {
				continue
			}
			started = true
		}
		if err := e.runPhase(ctx, t, rec, runID, phase, doc); err != nil {
			outcome := "failure"
			event := audit.EventStageFailed
			if xerr.IsKind(err, xerr.KindCancelled) {
				outcome = "cancelled"
				event = audit.EventPipelineCancelled
			}
			metrics.PipelineRuns.WithLabelValues(outcome).Inc()
			cctx := context.WithoutCancel(ctx)
			e.audit.Record(cctx, t.ID(), rec.ID, runID, event, map[string]any{
				"phase": string(phase),
				"error": err.Error(),
			})
			_ = e.quota.Release(cctx, handle)
			return err
		}
	}

	// An upload phase that settled with partial failures leaves the
	// Failed flag raised on an UPLOADED recording; that still counts as a
	// consumed monthly slot.
	if err := e.quota.Commit(ctx, handle); err != nil {
		logger.Error().Err(err).Msg("commit quota reservation")
	}
	metrics.PipelineRuns.WithLabelValues("success").Inc()
	e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventPipelineCompleted, map[string]any{
		"status": string(rec.Status),
		"failed": rec.Failed,
	})
	logger.Info().Str("status", string(rec.Status)).Bool("failed", rec.Failed).Msg("pipeline run finished")
	return nil
}

// runPhase drives one FSM phase: Begin, run its stage runners, then
// Complete or Fail. Every mutation is persisted before the work starts
// so a crash leaves an honest in-flight status behind.
func (e *Executor) runPhase(ctx context.Context, t tenant.Context, rec *model.Recording, runID string, phase model.Stage, doc map[string]any) error {
	if err := fsm.Begin(rec, phase); err != nil {
		return err
	}
	if err := e.store.UpdateRecording(ctx, t, rec); err != nil {
		return err
	}

	err := e.runRunners(ctx, t, rec, runID, phase, doc)
	now := e.now().UTC()
	if err != nil {
		if xerr.IsKind(err, xerr.KindCancelled) {
			_ = fsm.Cancel(rec, phase, now)
		} else {
			_ = fsm.Fail(rec, phase, err.Error(), now)
		}
		// Rollback state must land even when the run context is gone.
		if perr := e.store.UpdateRecording(context.WithoutCancel(ctx), t, rec); perr != nil {
			e.logger.Error().Err(perr).Str("recording_id", rec.ID).Msg("persist failed phase")
		}
		return err
	}

	if phase == model.StageUploading {
		// The upload phase settles through the target sub-machines.
		if err := e.settleUploads(ctx, t, rec, now); err != nil {
			return err
		}
	} else if err := fsm.Complete(rec, phase); err != nil {
		return err
	}
	return e.store.UpdateRecording(ctx, t, rec)
}

func (e *Executor) runRunners(ctx context.Context, t tenant.Context, rec *model.Recording, runID string, phase model.Stage, doc map[string]any) error {
	switch phase {
	case model.StageDownloading:
		return e.runOne(ctx, t, rec, runID, model.RunnerDownload, stages.TimeoutDownload, func(sctx context.Context) error {
			return e.download(sctx, t, rec, runID)
		})
	case model.StageProcessing:
		return e.runOne(ctx, t, rec, runID, model.RunnerTrim, stages.TimeoutTrim, func(sctx context.Context) error {
			return e.stages.Trim(sctx, t, rec, configres.Processing(doc))
		})
	case model.StageTranscribing:
		cfg := configres.Transcription(doc)
		if !cfg.EnableTranscription {
			return nil
		}
		if err := e.runOne(ctx, t, rec, runID, model.RunnerTranscribe, stages.TimeoutTranscribe, func(sctx context.Context) error {
			return e.stages.Transcribe(sctx, t, rec, cfg)
		}); err != nil {
			return err
		}
		if cfg.EnableTopics {
			if err := e.runOne(ctx, t, rec, runID, model.RunnerExtractTopics, stages.TimeoutTopics, func(sctx context.Context) error {
				return e.stages.ExtractTopics(sctx, t, rec, cfg)
			}); err != nil {
				return err
			}
		}
		if cfg.EnableSubtitles {
			if err := e.runOne(ctx, t, rec, runID, model.RunnerGenerateSubtitles, stages.TimeoutSubtitles, func(sctx context.Context) error {
				return e.stages.GenerateSubtitles(sctx, t, rec, cfg)
			}); err != nil {
				return err
			}
		}
		return nil
	case model.StageUploading:
		return e.runOne(ctx, t, rec, runID, model.RunnerUpload, 0, func(sctx context.Context) error {
			return e.upload(sctx, t, rec, runID, doc)
		})
	}
	return xerr.Ef(xerr.KindInternal, "unknown phase %s", phase)
}

// runOne wraps a single runner with its budget, stage record, span and
// metrics. A zero timeout means the runner budgets itself.
func (e *Executor) runOne(ctx context.Context, t tenant.Context, rec *model.Recording, runID string, runner model.Runner, timeout time.Duration, fn func(context.Context) error) error {
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sctx, span := e.tracer.Start(sctx, "pipeline.stage."+string(runner))
	defer span.End()

	startedAt := e.now().UTC()
	sr := &model.StageRecord{
		RecordingID: rec.ID,
		TenantID:    t.ID(),
		RunID:       runID,
		Runner:      runner,
		StartedAt:   startedAt,
		Result:      "running",
	}
	if err := e.store.InsertStageRecord(ctx, t, sr); err != nil {
		return err
	}
	e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventStageStarted, map[string]any{"runner": string(runner)})
	e.emitProgress(rec, runID, runner, 0)

	err := fn(sctx)
	if err != nil && sctx.Err() != nil && ctx.Err() == nil {
		err = xerr.Wrap(xerr.KindStagePermanent, string(runner)+" exceeded its time budget", err)
	}

	done := e.now().UTC()
	sr.CompletedAt = &done
	sr.DurationMS = done.Sub(startedAt).Milliseconds()
	outcome := "ok"
	switch {
	case err == nil:
		sr.Progress = 100
		sr.Result = "ok"
	case xerr.IsKind(err, xerr.KindCancelled):
		outcome = "cancelled"
		sr.Result = "cancelled"
		sr.Error = err.Error()
	default:
		outcome = "failed"
		sr.Result = "failed"
		sr.Error = err.Error()
	}
	metrics.ObserveStage(string(runner), outcome, done.Sub(startedAt).Seconds())
	if perr := e.store.CompleteStageRecord(context.WithoutCancel(ctx), t, sr); perr != nil {
		e.logger.Error().Err(perr).Str("recording_id", rec.ID).Msg("persist stage record")
	}
	if err == nil {
		e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventStageCompleted, map[string]any{
			"runner":      string(runner),
			"duration_ms": sr.DurationMS,
		})
		e.emitProgress(rec, runID, runner, 100)
	}
	return err
}

// download resolves the source reference and candidate for the fetch,
// then tracks the consumed storage.
func (e *Executor) download(ctx context.Context, t tenant.Context, rec *model.Recording, runID string) error {
	if limit := t.Limits().MaxFileBytes; limit > 0 && rec.SizeBytes > limit {
		return xerr.Ef(xerr.KindStagePermanent, "file size %d exceeds tenant limit %d", rec.SizeBytes, limit)
	}
	src, err := e.store.GetSource(ctx, t, rec.SourceID)
	if err != nil {
		return err
	}
	meta, err := e.store.SourceMetadataFor(ctx, t, rec.ID)
	if err != nil {
		return err
	}
	ref := adapters.SourceRef{
		SourceID:   src.ID,
		SourceType: src.Type,
		AccountKey: src.CredentialID,
		Settings:   src.Settings,
	}
	cand := model.Candidate{
		SourceType:      meta.SourceType,
		SourceKey:       meta.SourceKey,
		DisplayName:     rec.DisplayName,
		StartTime:       rec.StartTime,
		DurationSeconds: rec.DurationSeconds,
		SizeBytes:       rec.SizeBytes,
		Payload:         meta.Payload,
	}
	progress := func(done, total int64) {
		if total > 0 {
			e.emitProgress(rec, runID, model.RunnerDownload, int(done*100/total))
		}
	}
	if err := e.stages.Download(ctx, t, rec, ref, cand, progress); err != nil {
		return err
	}
	if err := e.quota.TrackStorageAdded(ctx, t, rec.SizeBytes); err != nil {
		return err
	}
	metrics.StorageBytes.WithLabelValues(t.ID()).Add(float64(rec.SizeBytes))
	return nil
}

// upload ensures the configured targets exist, then fans out.
func (e *Executor) upload(ctx context.Context, t tenant.Context, rec *model.Recording, runID string, doc map[string]any) error {
	src, err := e.store.GetSource(ctx, t, rec.SourceID)
	if err != nil {
		return err
	}
	existing, err := e.store.TargetsForRecording(ctx, t, rec.ID)
	if err != nil {
		return err
	}
	byPlatform := make(map[model.Platform]*model.OutputTarget, len(existing))
	targets := make([]*model.OutputTarget, 0, len(existing))
	for i := range existing {
		targets = append(targets, &existing[i])
		byPlatform[existing[i].Platform] = &existing[i]
	}
	for _, oc := range configres.Outputs(doc) {
		if !oc.Enabled || oc.Platform == "" {
			continue
		}
		p := model.Platform(oc.Platform)
		if _, ok := byPlatform[p]; ok {
			continue
		}
		ot := &model.OutputTarget{
			RecordingID: rec.ID,
			TenantID:    t.ID(),
			Platform:    p,
			PresetID:    oc.PresetID,
			Status:      model.TargetNotUploaded,
			UpdatedAt:   e.now().UTC(),
		}
		if err := e.store.UpsertTarget(ctx, t, ot); err != nil {
			return err
		}
		targets = append(targets, ot)
		byPlatform[p] = ot
	}
	if len(targets) == 0 {
		return xerr.E(xerr.KindValidation, "no output targets configured")
	}

	save := func(sctx context.Context, ot *model.OutputTarget) error {
		return e.store.UpsertTarget(sctx, t, ot)
	}
	progress := func(done, total int64) {
		if total > 0 {
			e.emitProgress(rec, runID, model.RunnerUpload, int(done*100/total))
		}
	}
	return e.stages.Upload(ctx, t, rec, src.Name, doc, targets, save, progress)
}

// ResumeUploads re-runs the upload phase for a recording whose target set
// grew after it finished, prepared with fsm.ReopenUploads. The original
// run already consumed the monthly slot, so the re-entry only holds a
// process slot; already-uploaded targets are left untouched.
func (e *Executor) ResumeUploads(ctx context.Context, t tenant.Context, rec *model.Recording) error {
	if rec.Status != model.StatusUploading {
		return xerr.Ef(xerr.KindConflict, "no reopened uploads on status %s", rec.Status)
	}

	runID := uuid.NewString()
	lock, err := e.locker.Acquire(ctx, rec.ID, runID, runLockTTL)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	defer e.dropProgress(runID)

	handle, err := e.quota.Reserve(ctx, t)
	if err != nil {
		e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventQuotaRejected, map[string]any{"error": err.Error()})
		return err
	}
	defer func() { _ = e.quota.Release(context.WithoutCancel(ctx), handle) }()

	ctx, span := e.tracer.Start(ctx, "pipeline.resume_uploads", trace.WithAttributes(
		attribute.String("recording.id", rec.ID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	doc, err := e.resolver.Effective(ctx, t, rec)
	if err != nil {
		return err
	}
	e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventPipelineStarted, map[string]any{
		"from_status": string(rec.Status),
	})
	if err := e.runPhase(ctx, t, rec, runID, model.StageUploading, doc); err != nil {
		metrics.PipelineRuns.WithLabelValues("failure").Inc()
		return err
	}
	metrics.PipelineRuns.WithLabelValues("success").Inc()
	e.audit.Record(ctx, t.ID(), rec.ID, runID, audit.EventPipelineCompleted, map[string]any{
		"status": string(rec.Status),
		"failed": rec.Failed,
	})
	return nil
}

// PushTargetMetadata re-renders the publish metadata from the effective
// config and pushes it to the platform holding the target.
func (e *Executor) PushTargetMetadata(ctx context.Context, t tenant.Context, rec *model.Recording, ot *model.OutputTarget) error {
	doc, err := e.resolver.Effective(ctx, t, rec)
	if err != nil {
		return err
	}
	src, err := e.store.GetSource(ctx, t, rec.SourceID)
	if err != nil {
		return err
	}
	return e.stages.UpdateMetadata(ctx, t, rec, src.Name, doc, ot, func(sctx context.Context, saved *model.OutputTarget) error {
		return e.store.UpsertTarget(sctx, t, saved)
	})
}

// settleUploads derives the combined recording state from the targets.
func (e *Executor) settleUploads(ctx context.Context, t tenant.Context, rec *model.Recording, now time.Time) error {
	list, err := e.store.TargetsForRecording(ctx, t, rec.ID)
	if err != nil {
		return err
	}
	combined := outputs.Derive(list)
	outputs.Apply(rec, combined, now)
	if combined.Settled && combined.Status == model.StatusTranscribed {
		// Every upload failed: the phase itself failed.
		if err := e.store.UpdateRecording(ctx, t, rec); err != nil {
			return err
		}
		return xerr.E(xerr.KindStagePermanent, "all uploads failed")
	}
	return nil
}

// progressBands maps each runner's local 0..100 onto its slice of the
// whole run, so the emitted percent is monotone across phases.
var progressBands = map[model.Runner][2]int{
	model.RunnerDownload:          {0, 35},
	model.RunnerTrim:              {35, 55},
	model.RunnerTranscribe:        {55, 75},
	model.RunnerExtractTopics:     {75, 80},
	model.RunnerGenerateSubtitles: {80, 85},
	model.RunnerUpload:            {85, 100},
}

// emitProgress reports run-level progress. local is the runner's own
// 0..100; the emitted percent is clamped so it never moves backwards
// within one run.
func (e *Executor) emitProgress(rec *model.Recording, runID string, runner model.Runner, local int) {
	if e.progress == nil {
		return
	}
	if local < 0 {
		local = 0
	} else if local > 100 {
		local = 100
	}
	pct := local
	if band, ok := progressBands[runner]; ok {
		pct = band[0] + local*(band[1]-band[0])/100
	}
	e.mu.Lock()
	if last, ok := e.lastPct[runID]; ok && pct < last {
		pct = last
	} else {
		e.lastPct[runID] = pct
	}
	e.mu.Unlock()
	e.progress(model.ProgressEvent{
		RecordingID: rec.ID,
		RunID:       runID,
		Runner:      runner,
		Percent:     pct,
		At:          e.now(),
	})
}

func (e *Executor) dropProgress(runID string) {
	e.mu.Lock()
	delete(e.lastPct, runID)
	e.mu.Unlock()
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsm enforces the legal lifecycle of a recording.
//
// The machine is strict: unknown transitions are errors. On stage failure
// the status is rolled back to the previous completed state and the Failed
// flag is raised; there is no FAILED status on the main pipeline.
package fsm

import (
	"time"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// MaxRetries is the pipeline-level retry budget. After the budget is
// exhausted the recording is left for manual intervention.
const MaxRetries = 2

// edge describes one phase of the pipeline.
type edge struct {
	from     model.Status // completed state the phase starts from
	inflight model.Status // status while the phase runs
	to       model.Status // status after success
}

var edges = map[model.Stage]edge{
	model.StageDownloading:  {model.StatusInitialized, model.StatusDownloading, model.StatusDownloaded},
	model.StageProcessing:   {model.StatusDownloaded, model.StatusProcessing, model.StatusProcessed},
	model.StageTranscribing: {model.StatusProcessed, model.StatusTranscribing, model.StatusTranscribed},
	model.StageUploading:    {model.StatusTranscribed, model.StatusUploading, model.StatusUploaded},
}

// Order lists the phases in execution order.
var Order = []model.Stage{
	model.StageDownloading,
	model.StageProcessing,
	model.StageTranscribing,
	model.StageUploading,
}

// Begin moves the recording into the in-flight status of the given phase.
// The recording must sit on the phase's from-status; the in-flight status
// itself is also legal so reopened and crash-interrupted phases can
// re-enter.
func Begin(rec *model.Recording, phase model.Stage) error {
	e, ok := edges[phase]
	if !ok {
		return xerr.Ef(xerr.KindInternal, "unknown stage %s", phase)
	}
	if rec.Status != e.from && rec.Status != e.inflight {
		return xerr.Ef(xerr.KindConflict, "cannot start %s from status %s", phase, rec.Status)
	}
	rec.Status = e.inflight
	return nil
}

// Complete moves the recording to the phase's success status and clears
// any stale failure markers from a prior attempt of this phase.
func Complete(rec *model.Recording, phase model.Stage) error {
	e, ok := edges[phase]
	if !ok {
		return xerr.Ef(xerr.KindInternal, "unknown stage %s", phase)
	}
	if rec.Status != e.inflight {
		return xerr.Ef(xerr.KindConflict, "cannot complete %s from status %s", phase, rec.Status)
	}
	rec.Status = e.to
	if rec.FailedAtStage == phase {
		clearFailure(rec)
	}
	return nil
}

// Fail rolls the recording back to the phase's from-status and records the
// failure. The retry counter is NOT incremented here; that belongs to the
// retry trigger.
func Fail(rec *model.Recording, phase model.Stage, reason string, now time.Time) error {
	e, ok := edges[phase]
	if !ok {
		return xerr.Ef(xerr.KindInternal, "unknown stage %s", phase)
	}
	rec.Status = e.from
	rec.Failed = true
	rec.FailedAtStage = phase
	rec.FailedReason = reason
	rec.FailedAt = &now
	return nil
}

// Cancel is Fail with the reserved "cancelled" reason. It is
// distinguishable from a real failure and never consumes retry budget.
func Cancel(rec *model.Recording, phase model.Stage, now time.Time) error {
	return Fail(rec, phase, "cancelled", now)
}

// PrepareRetry validates the retry preconditions and arms the recording
// for resumption: Failed is cleared and the counter incremented.
// Cancelled runs do not count against the budget, so their counter was
// never incremented; they pass through the same gate.
func PrepareRetry(rec *model.Recording) error {
	if !rec.Failed {
		return xerr.E(xerr.KindConflict, "recording is not failed")
	}
	if rec.FailedAtStage == "" {
		return xerr.E(xerr.KindInternal, "failed recording without failed_at_stage")
	}
	if _, ok := edges[rec.FailedAtStage]; !ok {
		return xerr.Ef(xerr.KindInternal, "illegal resumption point %s", rec.FailedAtStage)
	}
	if rec.FailedReason != "cancelled" && rec.RetryCount >= MaxRetries {
		return xerr.Ef(xerr.KindConflict, "retry budget exhausted (%d)", rec.RetryCount)
	}
	if rec.FailedReason != "cancelled" {
		rec.RetryCount++
	}
	clearFailure(rec)
	return nil
}

// OverrideRetry resets the retry budget. Explicit admin/user action only.
func OverrideRetry(rec *model.Recording) {
	rec.RetryCount = 0
}

// ResumePhase returns the phase a pipeline invocation should start from:
// the failed stage when resuming, otherwise the first phase whose
// from-status or in-flight status matches the current status. The
// in-flight match covers reopened uploads and runs a crash left behind.
func ResumePhase(rec *model.Recording) (model.Stage, error) {
	if rec.Failed && rec.FailedAtStage != "" {
		return rec.FailedAtStage, nil
	}
	for _, phase := range Order {
		if edges[phase].from == rec.Status || edges[phase].inflight == rec.Status {
			return phase, nil
		}
	}
	return "", xerr.Ef(xerr.KindConflict, "no runnable stage from status %s", rec.Status)
}

// ReopenUploads moves a published recording back into the upload phase
// after its target set grew. Failure markers from a partial upload are
// cleared; settling the new target set re-derives them.
func ReopenUploads(rec *model.Recording) error {
	if rec.Status != model.StatusUploaded {
		return xerr.Ef(xerr.KindConflict, "cannot reopen uploads from status %s", rec.Status)
	}
	rec.Status = model.StatusUploading
	clearFailure(rec)
	return nil
}

// MarkSkipped parks a blank or admin-disabled recording.
func MarkSkipped(rec *model.Recording) error {
	if rec.Status != model.StatusInitialized {
		return xerr.Ef(xerr.KindConflict, "cannot skip from status %s", rec.Status)
	}
	rec.Status = model.StatusSkipped
	return nil
}

// MarkExpired marks a TTL-swept recording whose files are gone.
func MarkExpired(rec *model.Recording) {
	rec.Status = model.StatusExpired
	clearFailure(rec)
}

// Coherent verifies the invariant between Status and the failure fields.
func Coherent(rec *model.Recording) bool {
	if rec.Failed {
		if rec.FailedAtStage == "" {
			return false
		}
		e, ok := edges[rec.FailedAtStage]
		if !ok {
			return false
		}
		// Partial upload success parks the recording on UPLOADED with the
		// Failed flag raised; everything else sits on the rollback status.
		if rec.FailedAtStage == model.StageUploading && rec.Status == model.StatusUploaded {
			return true
		}
		return rec.Status == e.from
	}
	return rec.RetryCount <= MaxRetries
}

func clearFailure(rec *model.Recording) {
	rec.Failed = false
	rec.FailedAtStage = ""
	rec.FailedReason = ""
	rec.FailedAt = nil
}

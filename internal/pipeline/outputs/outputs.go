// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package outputs holds the per-platform upload sub-state machine and the
// rule that derives a recording's combined upload status from its targets.
package outputs

import (
	"time"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// MaxUploadRetries bounds in-place upload retries per target.
const MaxUploadRetries = 2

// Begin moves a target into UPLOADING. Already-uploaded targets never
// re-enter the upload path; metadata updates use Update instead.
func Begin(t *model.OutputTarget) error {
	switch t.Status {
	case model.TargetNotUploaded, model.TargetUploading:
		t.Status = model.TargetUploading
		return nil
	case model.TargetUploaded:
		return xerr.E(xerr.KindConflict, "target already uploaded")
	case model.TargetFailed:
		// Pipeline-level retry re-runs failed targets.
		t.Status = model.TargetUploading
		t.Failed = false
		return nil
	}
	return xerr.Ef(xerr.KindInternal, "unknown target status %s", t.Status)
}

// Succeed finalizes a successful upload with the platform's response.
func Succeed(t *model.OutputTarget, meta map[string]any, now time.Time) error {
	if t.Status != model.TargetUploading {
		return xerr.Ef(xerr.KindConflict, "cannot finish upload from %s", t.Status)
	}
	t.Status = model.TargetUploaded
	t.Failed = false
	t.TargetMeta = meta
	t.UploadedAt = &now
	t.UpdatedAt = now
	return nil
}

// Fail records a failed attempt. Status stays UPLOADING while retry
// budget remains; once exhausted the target goes terminal FAILED.
func Fail(t *model.OutputTarget, now time.Time) error {
	if t.Status != model.TargetUploading {
		return xerr.Ef(xerr.KindConflict, "cannot fail upload from %s", t.Status)
	}
	t.Failed = true
	t.RetryCount++
	if t.RetryCount > MaxUploadRetries {
		t.Status = model.TargetFailed
	}
	t.UpdatedAt = now
	return nil
}

// Update mutates remote metadata on an UPLOADED target. Status is
// untouched; only TargetMeta and the update timestamp move.
func Update(t *model.OutputTarget, meta map[string]any, now time.Time) error {
	if t.Status != model.TargetUploaded {
		return xerr.Ef(xerr.KindConflict, "cannot update metadata on %s target", t.Status)
	}
	if t.TargetMeta == nil {
		t.TargetMeta = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		t.TargetMeta[k] = v
	}
	t.UpdatedAt = now
	return nil
}

// Combined is the derived recording-level view of all targets.
type Combined struct {
	Settled bool // all targets terminal
	Status  model.Status
	Failed  bool
}

// Derive computes the recording's final (status, failed) pair from its
// targets once they are all terminal:
//
//	all UPLOADED            -> UPLOADED, failed=false
//	mixed UPLOADED/FAILED   -> UPLOADED, failed=true  (partial success)
//	all FAILED              -> TRANSCRIBED, failed=true (retryable)
//
// With any non-terminal target the recording stays UPLOADING.
func Derive(targets []model.OutputTarget) Combined {
	if len(targets) == 0 {
		return Combined{Settled: false, Status: model.StatusUploading}
	}
	uploaded, failed := 0, 0
	for _, t := range targets {
		switch t.Status {
		case model.TargetUploaded:
			uploaded++
		case model.TargetFailed:
			failed++
		default:
			return Combined{Settled: false, Status: model.StatusUploading}
		}
	}
	switch {
	case failed == 0:
		return Combined{Settled: true, Status: model.StatusUploaded, Failed: false}
	case uploaded == 0:
		return Combined{Settled: true, Status: model.StatusTranscribed, Failed: true}
	default:
		return Combined{Settled: true, Status: model.StatusUploaded, Failed: true}
	}
}

// Apply writes a settled combined state onto the recording. Partial and
// total failures mark the UPLOADING stage as the failure point.
func Apply(rec *model.Recording, c Combined, now time.Time) {
	if !c.Settled {
		rec.Status = model.StatusUploading
		return
	}
	rec.Status = c.Status
	if c.Failed {
		rec.Failed = true
		rec.FailedAtStage = model.StageUploading
		rec.FailedReason = "one or more uploads failed"
		rec.FailedAt = &now
	} else {
		rec.Failed = false
		rec.FailedAtStage = ""
		rec.FailedReason = ""
		rec.FailedAt = nil
	}
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/metatmpl"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/pipeline/outputs"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// SaveTargetFunc persists an output target after each sub-state change.
type SaveTargetFunc func(ctx context.Context, ot *model.OutputTarget) error

// Upload publishes the processed video to every pending target with
// bounded fan-out. Each target settles independently; one platform
// failing never blocks the others. The caller derives the combined
// recording state from the targets afterwards.
func (d *Deps) Upload(ctx context.Context, t tenant.Context, rec *model.Recording, sourceName string, doc map[string]any, targets []*model.OutputTarget, save SaveTargetFunc, progress adapters.ProgressFunc) error {
	if err := t.Require(tenant.PermUpload); err != nil {
		return err
	}
	meta := d.renderMetadata(t, rec, sourceName, configres.Metadata(doc))
	videoAbs := filepath.Join(d.Layout.Root(), rec.ProcessedVideoPath)
	if _, err := os.Stat(videoAbs); err != nil {
		return xerr.Wrap(xerr.KindStagePermanent, "processed video missing", err)
	}

	pending := 0
	for _, ot := range targets {
		if ot.Status != model.TargetUploaded {
			pending++
		}
	}
	prog := newUploadProgress(pending, progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadFanOut)
	for _, ot := range targets {
		if ot.Status == model.TargetUploaded {
			continue
		}
		ot := ot
		g.Go(func() error {
			d.uploadOne(gctx, t, rec, ot, videoAbs, meta, save, prog)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return xerr.Wrap(xerr.KindCancelled, "upload cancelled", ctx.Err())
	}
	return nil
}

// uploadOne drives one target through its sub-machine. Errors land on
// the target, not on the stage: the target records the failure and the
// stage carries on.
func (d *Deps) uploadOne(ctx context.Context, t tenant.Context, rec *model.Recording, ot *model.OutputTarget, videoAbs string, meta adapters.UploadMetadata, save SaveTargetFunc, prog *uploadProgress) {
	logger := d.Logger.With().
		Str("recording_id", rec.ID).
		Str("target_id", ot.ID).
		Str("platform", string(ot.Platform)).
		Logger()

	sink, err := d.Registry.Sink(ot.Platform)
	if err != nil {
		logger.Error().Err(err).Msg("no sink adapter for platform")
		d.failTarget(ctx, ot, save)
		return
	}
	if err := outputs.Begin(ot); err != nil {
		logger.Warn().Err(err).Msg("target not startable")
		return
	}
	if err := save(ctx, ot); err != nil {
		logger.Error().Err(err).Msg("persist target state")
		return
	}

	tm := capMetadata(meta, sink.Capabilities())

	uctx, cancel := context.WithTimeout(ctx, TimeoutUpload)
	defer cancel()

	// In-place retry loop: the target's own retry budget governs it, the
	// sub-machine goes terminal FAILED once the budget is spent. Permanent
	// errors spend the whole budget at once.
	delay := retryBase
	for ot.Status == model.TargetUploading {
		result, err := sink.Upload(uctx, t, *ot, videoAbs, tm, func(done, total int64) {
			prog.step(ot.ID, done, total)
		})
		now := time.Now().UTC()
		if err == nil {
			if err := outputs.Succeed(ot, result, now); err != nil {
				logger.Error().Err(err).Msg("settle uploaded target")
				return
			}
			metrics.UploadsTotal.WithLabelValues(string(ot.Platform), "success").Inc()
			prog.step(ot.ID, 1, 1)
			if err := save(ctx, ot); err != nil {
				logger.Error().Err(err).Msg("persist uploaded target")
			}
			return
		}

		logger.Warn().Err(err).Int("retry_count", ot.RetryCount).Msg("upload attempt failed")
		retryable := xerr.Retryable(err) && uctx.Err() == nil
		for ot.Status == model.TargetUploading {
			_ = outputs.Fail(ot, now)
			if retryable {
				break
			}
		}
		_ = save(ctx, ot)
		if ot.Status == model.TargetFailed {
			metrics.UploadsTotal.WithLabelValues(string(ot.Platform), "failure").Inc()
			// A settled failure still finishes this target's share of
			// the stage.
			prog.step(ot.ID, 1, 1)
			return
		}
		metrics.StageRetries.WithLabelValues("upload").Inc()
		select {
		case <-time.After(delay):
		case <-uctx.Done():
		}
		delay *= 2
	}
}

// UpdateMetadata re-renders the publish metadata and pushes it to the
// platform holding an already uploaded target. The target keeps its
// status; the platform's response is merged into its stored metadata.
func (d *Deps) UpdateMetadata(ctx context.Context, t tenant.Context, rec *model.Recording, sourceName string, doc map[string]any, ot *model.OutputTarget, save SaveTargetFunc) error {
	if err := t.Require(tenant.PermUpload); err != nil {
		return err
	}
	if ot.Status != model.TargetUploaded {
		return xerr.Ef(xerr.KindConflict, "cannot update metadata on %s target", ot.Status)
	}
	sink, err := d.Registry.Sink(ot.Platform)
	if err != nil {
		return err
	}
	remoteID, _ := ot.TargetMeta["remote_id"].(string)
	if remoteID == "" {
		return xerr.E(xerr.KindInternal, "uploaded target without remote_id")
	}

	meta := capMetadata(d.renderMetadata(t, rec, sourceName, configres.Metadata(doc)), sink.Capabilities())
	uctx, cancel := context.WithTimeout(ctx, TimeoutUpload)
	defer cancel()
	result, err := sink.UpdateMetadata(uctx, t, *ot, remoteID, meta)
	if err != nil {
		return err
	}
	if err := outputs.Update(ot, result, time.Now().UTC()); err != nil {
		return err
	}
	return save(ctx, ot)
}

// uploadProgress folds concurrent per-target byte callbacks into one
// stage-level percent. Each target contributes an equal share; the
// reported value never moves backwards.
type uploadProgress struct {
	mu     sync.Mutex
	frac   map[string]float64 // target id -> 0..1
	total  float64
	high   int64
	report adapters.ProgressFunc
}

func newUploadProgress(targets int, report adapters.ProgressFunc) *uploadProgress {
	if report == nil || targets == 0 {
		return nil
	}
	return &uploadProgress{frac: make(map[string]float64, targets), total: float64(targets), report: report}
}

func (p *uploadProgress) step(targetID string, done, total int64) {
	if p == nil || total <= 0 {
		return
	}
	f := float64(done) / float64(total)
	if f > 1 {
		f = 1
	}
	p.mu.Lock()
	if f > p.frac[targetID] {
		p.frac[targetID] = f
	}
	var sum float64
	for _, v := range p.frac {
		sum += v
	}
	if pct := int64(sum / p.total * 100); pct > p.high {
		p.high = pct
	}
	pct := p.high
	p.mu.Unlock()
	p.report(pct, 100)
}

func (d *Deps) failTarget(ctx context.Context, ot *model.OutputTarget, save SaveTargetFunc) {
	if err := outputs.Begin(ot); err == nil {
		for ot.Status == model.TargetUploading {
			_ = outputs.Fail(ot, time.Now().UTC())
		}
		_ = save(ctx, ot)
	}
}

// capMetadata strips metadata the platform cannot accept.
func capMetadata(meta adapters.UploadMetadata, caps adapters.Capabilities) adapters.UploadMetadata {
	if !caps.Subtitles {
		meta.SubtitlePaths = nil
	}
	if !caps.Playlist {
		meta.Playlist = ""
	}
	if !caps.Thumbnail {
		meta.ThumbnailPath = ""
	}
	if !caps.PublishAt {
		meta.PublishAt = nil
	}
	return meta
}

// renderMetadata builds the platform-neutral publish metadata from the
// effective config and the recording's extracted topics.
func (d *Deps) renderMetadata(t tenant.Context, rec *model.Recording, sourceName string, cfg configres.MetadataConfig) adapters.UploadMetadata {
	in := metatmpl.Input{
		DisplayName: rec.DisplayName,
		SourceName:  sourceName,
		Topics:      rec.Topics,
		DurationS:   rec.DurationSeconds,
		RecordTime:  rec.StartTime,
		PublishTime: time.Now(),
		Location:    t.Location(),
		Locale:      t.Locale(),
		Display:     cfg.TopicsDisplay,
	}
	meta := adapters.UploadMetadata{
		Title:       metatmpl.Render(cfg.TitleTemplate, in),
		Description: metatmpl.Render(cfg.DescriptionTemplate, in),
		Tags:        cfg.Tags,
		Category:    cfg.Category,
	}
	if cfg.ThumbnailPath != "" {
		if p, err := d.Layout.LookupThumbnail(t.ID(), cfg.ThumbnailPath); err == nil {
			meta.ThumbnailPath = p
		}
	}
	for _, format := range []string{"srt", "vtt"} {
		p, err := d.Layout.SubtitlesFile(t.ID(), rec.ID, format)
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			meta.SubtitlePaths = append(meta.SubtitlePaths, p)
		}
	}
	return meta
}

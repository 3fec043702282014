// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/media/ffmpeg"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Trim cuts detected silence out of the source video and extracts the
// mono audio track transcription reads from.
//
// With processing disabled the source passes through untouched; the
// audio track is still extracted because downstream stages need it.
func (d *Deps) Trim(ctx context.Context, t tenant.Context, rec *model.Recording, cfg configres.ProcessingConfig) error {
	srcAbs := filepath.Join(d.Layout.Root(), rec.SourcePath)
	if _, err := os.Stat(srcAbs); err != nil {
		return xerr.Wrap(xerr.KindStagePermanent, "source file missing", err)
	}

	videoOut, err := d.Layout.VideoFile(t.ID(), rec.ID, cfg.OutputFormat)
	if err != nil {
		return err
	}

	var trimmedS int64
	if !cfg.EnableProcessing || !cfg.AudioDetection {
		rec.ProcessedVideoPath = rec.SourcePath
	} else if trimmedS, err = d.cutSilences(ctx, t, rec, cfg, srcAbs, videoOut); err != nil {
		return err
	}

	audioOut, err := d.Layout.AudioFile(t.ID(), rec.ID)
	if err != nil {
		return err
	}
	videoAbs := filepath.Join(d.Layout.Root(), rec.ProcessedVideoPath)
	if _, err := d.FFmpeg.Run(ctx, ffmpeg.ExtractAudioArgs(videoAbs, audioOut)); err != nil {
		return err
	}
	rec.ProcessedAudioPath = relPath(d.Layout.Root(), audioOut)

	// The shortened duration is committed only once the whole stage has
	// succeeded. A failed attempt keeps the source duration, so the next
	// attempt plans its cuts against the untrimmed total.
	if trimmedS > 0 {
		rec.DurationSeconds = trimmedS
	}
	return nil
}

// cutSilences writes the cut video and returns the trimmed duration,
// 0 when nothing was cut. The recording's duration is left untouched.
func (d *Deps) cutSilences(ctx context.Context, t tenant.Context, rec *model.Recording, cfg configres.ProcessingConfig, srcAbs, videoOut string) (int64, error) {
	lines, err := d.FFmpeg.Run(ctx, ffmpeg.SilenceDetectArgs(srcAbs, cfg.SilenceThresholdDB, cfg.MinSilenceDuration))
	if err != nil {
		return 0, err
	}
	totalS := float64(rec.DurationSeconds)
	silences := ffmpeg.ParseSilences(lines, totalS)
	segments := ffmpeg.PlanKeepSegments(totalS, silences, cfg.MinSilenceDuration, cfg.PaddingBefore, cfg.PaddingAfter)

	if len(segments) == 0 {
		return 0, xerr.E(xerr.KindStagePermanent, "recording is entirely silent")
	}
	if len(segments) == 1 && segments[0].StartS == 0 && segments[0].EndS >= totalS {
		// Nothing to cut.
		rec.ProcessedVideoPath = rec.SourcePath
		return 0, nil
	}

	tmp, err := d.Layout.TempDir(t.ID(), "trim-"+rec.ID)
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	parts := make([]string, 0, len(segments))
	for i, seg := range segments {
		part := filepath.Join(tmp, fmt.Sprintf("part_%03d.%s", i, cfg.OutputFormat))
		if _, err := d.FFmpeg.Run(ctx, ffmpeg.CutArgs(srcAbs, seg, part)); err != nil {
			return 0, err
		}
		parts = append(parts, part)
	}

	listFile := filepath.Join(tmp, "concat.txt")
	if err := ffmpeg.WriteConcatList(listFile, parts); err != nil {
		return 0, err
	}
	if _, err := d.FFmpeg.Run(ctx, ffmpeg.ConcatArgs(listFile, videoOut)); err != nil {
		return 0, err
	}

	rec.ProcessedVideoPath = relPath(d.Layout.Root(), videoOut)
	trimmedS := int64(ffmpeg.TotalDuration(segments))
	d.Logger.Info().
		Str("recording_id", rec.ID).
		Int("silences", len(silences)).
		Int("kept_segments", len(segments)).
		Int64("trimmed_duration_s", trimmedS).
		Msg("silence trim complete")
	return trimmedS, nil
}

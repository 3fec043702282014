// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Transcribe sends the extracted audio to the speech provider and
// persists the master transcript. Tenant concurrency is capped so one
// tenant cannot monopolize the provider quota.
func (d *Deps) Transcribe(ctx context.Context, t tenant.Context, rec *model.Recording, cfg configres.TranscriptionConfig) error {
	if err := t.Require(tenant.PermTranscribe); err != nil {
		return err
	}
	speech, err := d.Registry.Speech(model.PlatformSpeech)
	if err != nil {
		return err
	}
	audioAbs := filepath.Join(d.Layout.Root(), rec.ProcessedAudioPath)
	if _, err := os.Stat(audioAbs); err != nil {
		return xerr.Wrap(xerr.KindStagePermanent, "audio file missing", err)
	}

	slot := d.transcribeSlot(t.ID())
	if err := slot.Acquire(ctx, 1); err != nil {
		return xerr.Wrap(xerr.KindCancelled, "transcribe cancelled", err)
	}
	defer slot.Release(1)

	var transcript *model.Transcript
	err = retryTransient(ctx, d.Logger, "transcribe", func() error {
		var err error
		transcript, err = speech.Transcribe(ctx, t, audioAbs, cfg.Language, cfg.Prompt, cfg.Temperature)
		return err
	})
	if err != nil {
		return err
	}

	masterPath, err := d.Layout.MasterTranscript(t.ID(), rec.ID)
	if err != nil {
		return err
	}
	if err := writeJSON(masterPath, transcript); err != nil {
		return err
	}
	rec.TranscriptionDir = relPath(d.Layout.Root(), filepath.Dir(masterPath))
	if rec.TranscriptionInfo == nil {
		rec.TranscriptionInfo = make(map[string]any)
	}
	rec.TranscriptionInfo["language"] = transcript.Language
	rec.TranscriptionInfo["segments"] = len(transcript.Segments)
	return nil
}

// LoadTranscript reads the persisted master transcript back. Topic
// extraction and subtitles run from disk, not from memory, so a resumed
// run does not re-transcribe.
func (d *Deps) LoadTranscript(t tenant.Context, rec *model.Recording) (*model.Transcript, error) {
	masterPath, err := d.Layout.MasterTranscript(t.ID(), rec.ID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindStagePermanent, "read master transcript", err)
	}
	var tr model.Transcript
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, xerr.Wrap(xerr.KindStagePermanent, "decode master transcript", err)
	}
	return &tr, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return xerr.Wrap(xerr.KindInternal, "create dir", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "encode json", err)
	}
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return xerr.Wrap(xerr.KindInternal, "write json", err)
	}
	return nil
}

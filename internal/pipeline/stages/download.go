// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Download fetches the source file into the recording directory.
//
// Idempotent: when the destination already exists with the expected
// size the fetch is skipped, so a resumed run never re-downloads. A
// cancelled or failed fetch removes the partial file.
func (d *Deps) Download(ctx context.Context, t tenant.Context, rec *model.Recording, src adapters.SourceRef, cand model.Candidate, progress adapters.ProgressFunc) error {
	source, err := d.Registry.Source(model.Platform(src.SourceType))
	if err != nil {
		return err
	}

	ext := extFromKey(cand.SourceKey)
	dest, err := d.Layout.SourceFile(t.ID(), rec.ID, ext)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(dest); err == nil && fi.Size() == rec.SizeBytes && rec.SizeBytes > 0 {
		d.Logger.Info().
			Str("recording_id", rec.ID).
			Int64("size_bytes", fi.Size()).
			Msg("source file already present, skipping download")
		rec.SourcePath = relPath(d.Layout.Root(), dest)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return xerr.Wrap(xerr.KindInternal, "create recording dir", err)
	}

	err = retryTransient(ctx, d.Logger, "download", func() error {
		return source.Fetch(ctx, t, src, cand, dest, progress)
	})
	if err != nil {
		// Never leave a partial file behind: the size check above would
		// treat it as complete on the next attempt.
		_ = os.Remove(dest)
		return err
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "stat downloaded file", err)
	}
	if rec.SizeBytes > 0 && fi.Size() != rec.SizeBytes {
		_ = os.Remove(dest)
		return xerr.Ef(xerr.KindTransient, "downloaded %d bytes, expected %d", fi.Size(), rec.SizeBytes)
	}
	rec.SourcePath = relPath(d.Layout.Root(), dest)
	return nil
}

func extFromKey(key string) string {
	ext := strings.TrimPrefix(filepath.Ext(key), ".")
	if ext == "" {
		return "mp4"
	}
	return ext
}

func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return rel
}

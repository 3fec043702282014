// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package storagepath owns the on-disk layout for recording artifacts.
// The layout is deterministic and recording-centric so a recording can be
// deleted with a single directory removal, and identical relative paths
// work against any backend rooted at Root.
package storagepath

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Layout builds and guards every path the pipeline touches.
type Layout struct {
	root   string
	logger zerolog.Logger
}

// New resolves root to an absolute path. The directory does not need to
// exist yet; EnsureBase creates the fixed top-level structure.
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindValidation, "invalid storage root", err)
	}
	return &Layout{root: abs, logger: log.WithComponent("storagepath")}, nil
}

// Root returns the absolute storage root.
func (l *Layout) Root() string { return l.root }

// EnsureBase creates the fixed top-level directories.
func (l *Layout) EnsureBase() error {
	for _, d := range []string{"users", "shared/thumbnails", "temp"} {
		if err := os.MkdirAll(filepath.Join(l.root, d), 0o755); err != nil {
			return xerr.Wrap(xerr.KindInternal, "create storage base", err)
		}
	}
	return nil
}

// RecordingDir is the directory that owns every artifact of one recording.
// Deleting a recording is exactly the removal of this directory.
func (l *Layout) RecordingDir(tenantID, recordingID string) (string, error) {
	if err := validComponents(tenantID, recordingID); err != nil {
		return "", err
	}
	return l.confine(filepath.Join("users", tenantID, "recordings", recordingID))
}

// SourceFile is the downloaded original.
func (l *Layout) SourceFile(tenantID, recordingID, ext string) (string, error) {
	return l.recordingChild(tenantID, recordingID, "source."+cleanExt(ext))
}

// VideoFile is the trimmed output container.
func (l *Layout) VideoFile(tenantID, recordingID, ext string) (string, error) {
	return l.recordingChild(tenantID, recordingID, "video."+cleanExt(ext))
}

// AudioFile is the extracted mono 16 kHz track fed to transcription.
func (l *Layout) AudioFile(tenantID, recordingID string) (string, error) {
	return l.recordingChild(tenantID, recordingID, "audio.mp3")
}

// TranscriptionDir holds master.json, topic versions and subtitles.
func (l *Layout) TranscriptionDir(tenantID, recordingID string) (string, error) {
	return l.recordingChild(tenantID, recordingID, "transcription")
}

// MasterTranscript is the raw transcription artifact.
func (l *Layout) MasterTranscript(tenantID, recordingID string) (string, error) {
	return l.recordingChild(tenantID, recordingID, filepath.Join("transcription", "master.json"))
}

// TopicsFile is the versioned topic artifact; re-extraction bumps version.
func (l *Layout) TopicsFile(tenantID, recordingID string, version int) (string, error) {
	if version < 1 {
		return "", xerr.Ef(xerr.KindValidation, "topics version must be >= 1, got %d", version)
	}
	return l.recordingChild(tenantID, recordingID, filepath.Join("transcription", fmt.Sprintf("topics_v%d.json", version)))
}

// SubtitlesFile returns the srt or vtt artifact path.
func (l *Layout) SubtitlesFile(tenantID, recordingID, format string) (string, error) {
	switch format {
	case "srt", "vtt":
	default:
		return "", xerr.Ef(xerr.KindValidation, "unknown subtitle format %q", format)
	}
	return l.recordingChild(tenantID, recordingID, filepath.Join("transcription", "subtitles."+format))
}

// AssetsDir holds per-recording extras such as a custom thumbnail.
func (l *Layout) AssetsDir(tenantID, recordingID string) (string, error) {
	return l.recordingChild(tenantID, recordingID, "assets")
}

// CustomThumbnail is the per-recording thumbnail override.
func (l *Layout) CustomThumbnail(tenantID, recordingID string) (string, error) {
	return l.recordingChild(tenantID, recordingID, filepath.Join("assets", "custom_thumbnail.png"))
}

// TenantThumbnail resolves a tenant-owned thumbnail by file name.
func (l *Layout) TenantThumbnail(tenantID, name string) (string, error) {
	if err := validComponents(tenantID, name); err != nil {
		return "", err
	}
	return l.confine(filepath.Join("users", tenantID, "thumbnails", name))
}

// SharedThumbnail resolves a read-only template thumbnail.
func (l *Layout) SharedThumbnail(name string) (string, error) {
	if err := validComponents(name); err != nil {
		return "", err
	}
	return l.confine(filepath.Join("shared", "thumbnails", name))
}

// LookupThumbnail prefers the tenant-owned file and falls back to the
// shared pool. Missing in both places is NotFound.
func (l *Layout) LookupThumbnail(tenantID, name string) (string, error) {
	if p, err := l.TenantThumbnail(tenantID, name); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			return p, nil
		}
	}
	p, err := l.SharedThumbnail(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", xerr.Ef(xerr.KindNotFound, "thumbnail %q not found", name)
	}
	return p, nil
}

// TempDir is a transient per-job scratch directory, swept after 24 h.
func (l *Layout) TempDir(tenantID, jobID string) (string, error) {
	if err := validComponents(tenantID, jobID); err != nil {
		return "", err
	}
	p, err := l.confine(filepath.Join("temp", tenantID, jobID))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", xerr.Wrap(xerr.KindInternal, "create temp dir", err)
	}
	return p, nil
}

// DirSize sums the regular-file bytes under dir. A missing dir is zero.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// RemoveRecording deletes a recording's directory and reports how many
// bytes were freed, so the caller can settle the storage quota in the
// same operation.
func (l *Layout) RemoveRecording(tenantID, recordingID string) (int64, error) {
	dir, err := l.RecordingDir(tenantID, recordingID)
	if err != nil {
		return 0, err
	}
	freed, err := DirSize(dir)
	if err != nil {
		return 0, xerr.Wrap(xerr.KindInternal, "size recording dir", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, xerr.Wrap(xerr.KindInternal, "remove recording dir", err)
	}
	return freed, nil
}

// SweepTemp removes temp job directories older than maxAge and returns
// how many were removed. Errors on individual entries are logged and
// skipped so one stuck directory cannot stall the sweep.
func (l *Layout) SweepTemp(maxAge time.Duration, now time.Time) (int, error) {
	tempRoot := filepath.Join(l.root, "temp")
	tenants, err := os.ReadDir(tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, xerr.Wrap(xerr.KindInternal, "read temp root", err)
	}
	removed := 0
	for _, t := range tenants {
		if !t.IsDir() {
			continue
		}
		tenantDir := filepath.Join(tempRoot, t.Name())
		jobs, err := os.ReadDir(tenantDir)
		if err != nil {
			l.logger.Warn().Err(err).Str("dir", tenantDir).Msg("temp sweep: unreadable tenant dir")
			continue
		}
		for _, j := range jobs {
			info, err := j.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < maxAge {
				continue
			}
			target := filepath.Join(tenantDir, j.Name())
			if err := os.RemoveAll(target); err != nil {
				l.logger.Warn().Err(err).Str("dir", target).Msg("temp sweep: remove failed")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func (l *Layout) recordingChild(tenantID, recordingID, rel string) (string, error) {
	if err := validComponents(tenantID, recordingID); err != nil {
		return "", err
	}
	return l.confine(filepath.Join("users", tenantID, "recordings", recordingID, rel))
}

// validComponents rejects identifiers that could change which directory
// a path resolves to. filepath.Clean inside confine would otherwise fold
// a ".." tenant or recording id into a sibling tenant's tree.
func validComponents(names ...string) error {
	for _, name := range names {
		if name == "" || name == "." || name == ".." ||
			strings.ContainsAny(name, `/\`) {
			return xerr.Ef(xerr.KindValidation, "invalid path component: %q", name)
		}
	}
	return nil
}

// confine joins rel onto the root and verifies the result stays
// physically underneath it, rejecting traversal and symlink escapes.
func (l *Layout) confine(rel string) (string, error) {
	if strings.Contains(rel, "\\") {
		return "", xerr.Ef(xerr.KindValidation, "path contains backslash: %s", rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		return "", xerr.Ef(xerr.KindValidation, "path must be relative: %s", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", xerr.Ef(xerr.KindValidation, "path escapes storage root: %s", rel)
	}

	realRoot := l.root
	if rr, err := filepath.EvalSymlinks(l.root); err == nil {
		realRoot = rr
	}
	full := filepath.Join(realRoot, clean)

	real := full
	if _, err := os.Lstat(full); err == nil {
		rp, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", xerr.Wrap(xerr.KindValidation, "resolve path", err)
		}
		real = rp
	} else if rp, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		real = filepath.Join(rp, filepath.Base(full))
	}

	check, err := filepath.Rel(realRoot, real)
	if err != nil {
		return "", xerr.Wrap(xerr.KindValidation, "confinement check", err)
	}
	if check == ".." || strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", xerr.Ef(xerr.KindValidation, "path escapes storage root: %s", rel)
	}
	return full, nil
}

func cleanExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

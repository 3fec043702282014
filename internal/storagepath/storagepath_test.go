// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package storagepath

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/xerr"
)

func newLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.EnsureBase())
	return l
}

func TestLayoutPaths(t *testing.T) {
	l := newLayout(t)

	dir, err := l.RecordingDir("t-1", "rec-1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(l.Root(), "users", "t-1", "recordings", "rec-1"), dir)

	src, err := l.SourceFile("t-1", "rec-1", ".mp4")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "source.mp4"), src)

	audio, err := l.AudioFile("t-1", "rec-1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "audio.mp3"), audio)

	topics, err := l.TopicsFile("t-1", "rec-1", 3)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "transcription", "topics_v3.json"), topics)

	srt, err := l.SubtitlesFile("t-1", "rec-1", "srt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "transcription", "subtitles.srt"), srt)

	_, err = l.SubtitlesFile("t-1", "rec-1", "ass")
	require.Error(t, err)

	_, err = l.TopicsFile("t-1", "rec-1", 0)
	require.Error(t, err)
}

func TestConfinementRejectsTraversal(t *testing.T) {
	l := newLayout(t)

	tests := []struct {
		name     string
		tenantID string
		recID    string
	}{
		{"dotdot tenant", "../../etc", "rec"},
		{"dotdot recording", "t-1", "../../../etc/passwd"},
		{"cross-tenant recording", "tenant-a", "../../tenant-b/recordings/victim"},
		{"backslash", "t-1", `..\..\etc`},
		{"slash in recording", "t-1", "a/b"},
		{"empty recording", "t-1", ""},
		{"dot recording", "t-1", "."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.RecordingDir(tc.tenantID, tc.recID)
			require.Error(t, err)
			require.Equal(t, xerr.KindValidation, xerr.KindOf(err))
		})
	}

	// Every builder taking caller-supplied identifiers applies the same
	// component check.
	_, err := l.TempDir("t-1", "../other")
	require.Equal(t, xerr.KindValidation, xerr.KindOf(err))
	_, err = l.TenantThumbnail("t-1", "../../shared/thumbnails/x.png")
	require.Equal(t, xerr.KindValidation, xerr.KindOf(err))
	_, err = l.SharedThumbnail("..")
	require.Equal(t, xerr.KindValidation, xerr.KindOf(err))
}

func TestConfinementRejectsSymlinkEscape(t *testing.T) {
	l := newLayout(t)
	outside := t.TempDir()

	userDir := filepath.Join(l.Root(), "users", "t-1", "recordings")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(userDir, "rec-1")))

	_, err := l.SourceFile("t-1", "rec-1", "mp4")
	require.Error(t, err)
}

func TestRemoveRecordingReportsFreedBytes(t *testing.T) {
	l := newLayout(t)

	dir, err := l.RecordingDir("t-1", "rec-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "transcription"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.mp4"), make([]byte, 1000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transcription", "master.json"), make([]byte, 500), 0o644))

	freed, err := l.RemoveRecording("t-1", "rec-1")
	require.NoError(t, err)
	require.Equal(t, int64(1500), freed)

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	// Removing again frees nothing and is not an error.
	freed, err = l.RemoveRecording("t-1", "rec-1")
	require.NoError(t, err)
	require.Zero(t, freed)
}

func TestLookupThumbnailFallsBackToShared(t *testing.T) {
	l := newLayout(t)

	shared, err := l.SharedThumbnail("ml.png")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(shared, []byte("png"), 0o644))

	got, err := l.LookupThumbnail("t-1", "ml.png")
	require.NoError(t, err)
	require.Equal(t, shared, got)

	// A tenant-owned file wins over the shared pool.
	own, err := l.TenantThumbnail("t-1", "ml.png")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(own), 0o755))
	require.NoError(t, os.WriteFile(own, []byte("png2"), 0o644))

	got, err = l.LookupThumbnail("t-1", "ml.png")
	require.NoError(t, err)
	require.Equal(t, own, got)

	_, err = l.LookupThumbnail("t-1", "missing.png")
	require.Equal(t, xerr.KindNotFound, xerr.KindOf(err))
}

func TestSweepTempRemovesOnlyOldJobs(t *testing.T) {
	l := newLayout(t)
	now := time.Now()

	oldDir, err := l.TempDir("t-1", "job-old")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "part"), []byte("x"), 0o644))
	stale := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, stale, stale))

	freshDir, err := l.TempDir("t-1", "job-fresh")
	require.NoError(t, err)

	removed, err := l.SweepTemp(24*time.Hour, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(oldDir)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshDir)
	require.NoError(t, err)
}

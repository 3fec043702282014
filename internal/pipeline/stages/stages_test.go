// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/adapters/fake"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/media/ffmpeg"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/storagepath"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

func newTestDeps(t *testing.T) (*Deps, *adapters.Registry) {
	t.Helper()
	layout, err := storagepath.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())
	registry := adapters.NewRegistry()
	return NewDeps(layout, registry, ffmpeg.NewRunner("ffmpeg", time.Second)), registry
}

func fullTenant(id string) tenant.Context {
	return tenant.New(id, tenant.RoleUser, []tenant.Permission{
		tenant.PermTranscribe, tenant.PermProcessVideo, tenant.PermUpload,
	}, tenant.Limits{}, nil, "en")
}

func testRecording(tenantID string) *model.Recording {
	return &model.Recording{
		ID:              "rec-1",
		TenantID:        tenantID,
		DisplayName:     "ML Seminar",
		StartTime:       time.Date(2024, 12, 25, 18, 30, 0, 0, time.UTC),
		DurationSeconds: 3600,
		Status:          model.StatusInitialized,
	}
}

func TestDownloadWritesSourceFile(t *testing.T) {
	d, reg := newTestDeps(t)
	content := bytes.Repeat([]byte("v"), 200*1024)
	src := &fake.Source{Content: content}
	reg.RegisterSource(model.PlatformConferencing, src)

	tn := fullTenant("alice")
	rec := testRecording("alice")
	rec.SizeBytes = int64(len(content))
	cand := model.Candidate{SourceKey: "meet-42/video.mp4", SizeBytes: rec.SizeBytes}

	err := d.Download(context.Background(), tn, rec,
		adapters.SourceRef{SourceType: string(model.PlatformConferencing)}, cand, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rec.SourcePath)

	abs := filepath.Join(d.Layout.Root(), rec.SourcePath)
	fi, err := os.Stat(abs)
	require.NoError(t, err)
	assert.Equal(t, rec.SizeBytes, fi.Size())
	assert.Equal(t, 1, src.FetchCalls)

	// Second call skips the fetch entirely.
	require.NoError(t, d.Download(context.Background(), tn, rec,
		adapters.SourceRef{SourceType: string(model.PlatformConferencing)}, cand, nil))
	assert.Equal(t, 1, src.FetchCalls)
}

func TestDownloadRetriesTransientErrors(t *testing.T) {
	d, reg := newTestDeps(t)
	content := []byte("small video")
	src := &fake.Source{Content: content, FailFetches: 1}
	reg.RegisterSource(model.PlatformConferencing, src)

	rec := testRecording("alice")
	rec.SizeBytes = int64(len(content))

	err := d.Download(context.Background(), fullTenant("alice"), rec,
		adapters.SourceRef{SourceType: string(model.PlatformConferencing)},
		model.Candidate{SourceKey: "k.mp4"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.FetchCalls)
}

func TestDownloadCleansUpPartialFile(t *testing.T) {
	d, reg := newTestDeps(t)
	src := &fake.Source{Content: []byte("partial")}
	reg.RegisterSource(model.PlatformConferencing, src)

	rec := testRecording("alice")
	rec.SizeBytes = 9999 // provider announced more than it delivered

	err := d.Download(context.Background(), fullTenant("alice"), rec,
		adapters.SourceRef{SourceType: string(model.PlatformConferencing)},
		model.Candidate{SourceKey: "k.mp4"}, nil)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindTransient))

	dest, err := d.Layout.SourceFile("alice", rec.ID, "mp4")
	require.NoError(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTranscribeWritesMasterTranscript(t *testing.T) {
	d, reg := newTestDeps(t)
	speech := &fake.Speech{Result: &model.Transcript{
		Language: "en",
		Text:     "hello world",
		Segments: []model.Segment{{StartS: 0, EndS: 2, Text: "hello world"}},
	}}
	reg.RegisterSpeech(model.PlatformSpeech, speech)

	tn := fullTenant("alice")
	rec := testRecording("alice")
	audio, err := d.Layout.AudioFile("alice", rec.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(audio), 0o750))
	require.NoError(t, os.WriteFile(audio, []byte("mp3"), 0o640))
	rel, err := filepath.Rel(d.Layout.Root(), audio)
	require.NoError(t, err)
	rec.ProcessedAudioPath = rel

	require.NoError(t, d.Transcribe(context.Background(), tn, rec, configres.Transcription(nil)))
	assert.NotEmpty(t, rec.TranscriptionDir)
	assert.Equal(t, "en", rec.TranscriptionInfo["language"])

	tr, err := d.LoadTranscript(tn, rec)
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Text)
}

func TestTranscribeRequiresPermission(t *testing.T) {
	d, _ := newTestDeps(t)
	tn := tenant.New("alice", tenant.RoleUser, nil, tenant.Limits{}, nil, "en")
	err := d.Transcribe(context.Background(), tn, testRecording("alice"), configres.Transcription(nil))
	assert.True(t, xerr.IsKind(err, xerr.KindPermissionDenied))
}

func TestExtractTopicsWritesVersionedFile(t *testing.T) {
	d, reg := newTestDeps(t)
	reg.RegisterTopics(model.PlatformTopics, &fake.Topics{Result: []model.Topic{
		{Title: "Intro", StartS: 0, EndS: 300},
		{Title: "Main part", StartS: 300, EndS: 600},
	}})

	tn := fullTenant("alice")
	rec := testRecording("alice")
	master, err := d.Layout.MasterTranscript("alice", rec.ID)
	require.NoError(t, err)
	require.NoError(t, writeJSON(master, &model.Transcript{
		Segments: []model.Segment{{StartS: 0, EndS: 600, Text: "talk"}},
	}))

	require.NoError(t, d.ExtractTopics(context.Background(), tn, rec, configres.Transcription(nil)))
	assert.Equal(t, 1, rec.TopicsVersion)
	require.Len(t, rec.Topics, 2)

	// Re-extraction appends a new version, it never overwrites.
	require.NoError(t, d.ExtractTopics(context.Background(), tn, rec, configres.Transcription(nil)))
	assert.Equal(t, 2, rec.TopicsVersion)
	v1, err := d.Layout.TopicsFile("alice", rec.ID, 1)
	require.NoError(t, err)
	_, statErr := os.Stat(v1)
	assert.NoError(t, statErr)
}

func TestGenerateSubtitlesWritesFormats(t *testing.T) {
	d, _ := newTestDeps(t)
	tn := fullTenant("alice")
	rec := testRecording("alice")
	master, err := d.Layout.MasterTranscript("alice", rec.ID)
	require.NoError(t, err)
	require.NoError(t, writeJSON(master, &model.Transcript{
		Segments: []model.Segment{
			{StartS: 0, EndS: 2.5, Text: "hello there everyone"},
			{StartS: 2.5, EndS: 5, Text: "welcome to the seminar"},
		},
	}))

	require.NoError(t, d.GenerateSubtitles(context.Background(), tn, rec, configres.Transcription(nil)))

	srt, err := d.Layout.SubtitlesFile("alice", rec.ID, "srt")
	require.NoError(t, err)
	body, err := os.ReadFile(srt)
	require.NoError(t, err)
	assert.Contains(t, string(body), "00:00:00,000 --> 00:00:02,500")
	assert.Contains(t, string(body), "hello there everyone")

	vtt, err := d.Layout.SubtitlesFile("alice", rec.ID, "vtt")
	require.NoError(t, err)
	body, err = os.ReadFile(vtt)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("WEBVTT")))
	assert.Contains(t, string(body), "00:00:02.500 --> 00:00:05.000")
}

// scriptedMedia drives Trim in tests: silence detection returns the
// scripted stderr lines, audio extraction fails failAudio times, every
// other invocation writes its output file.
type scriptedMedia struct {
	silenceLines []string
	failAudio    int
	audioCalls   int
}

func (m *scriptedMedia) Run(_ context.Context, args []string) ([]string, error) {
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "silencedetect") {
		return m.silenceLines, nil
	}
	if strings.Contains(joined, "-vn") {
		m.audioCalls++
		if m.audioCalls <= m.failAudio {
			return nil, xerr.E(xerr.KindTransient, "audio extraction crashed")
		}
	}
	out := args[len(args)-1]
	if out == "-" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(out, []byte("media"), 0o640)
}

func TestTrimKeepsSourceDurationUntilStageCompletes(t *testing.T) {
	layout, err := storagepath.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())

	media := &scriptedMedia{
		silenceLines: []string{
			"[silencedetect @ 0x1] silence_start: 1000.0",
			"[silencedetect @ 0x1] silence_end: 1400.0 | silence_duration: 400.0",
		},
		failAudio: 1,
	}
	d := NewDeps(layout, adapters.NewRegistry(), media)

	tn := fullTenant("alice")
	rec := testRecording("alice")
	src, err := layout.SourceFile("alice", rec.ID, "mp4")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o750))
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o640))
	rec.SourcePath = relPath(layout.Root(), src)

	cfg := configres.ProcessingConfig{
		EnableProcessing:   true,
		AudioDetection:     true,
		SilenceThresholdDB: -35,
		MinSilenceDuration: 2,
		PaddingBefore:      0.25,
		PaddingAfter:       0.25,
		OutputFormat:       "mp4",
	}

	err = d.Trim(context.Background(), tn, rec, cfg)
	require.Error(t, err)
	// The failed attempt must not shrink the planning baseline, or the
	// retry would cut silences against the already-trimmed total.
	assert.Equal(t, int64(3600), rec.DurationSeconds)

	require.NoError(t, d.Trim(context.Background(), tn, rec, cfg))
	assert.Less(t, rec.DurationSeconds, int64(3600))
	assert.Greater(t, rec.DurationSeconds, int64(3000))
}

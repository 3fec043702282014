// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stages

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/adapters/fake"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/pipeline/outputs"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

func uploadFixture(t *testing.T, d *Deps) *model.Recording {
	t.Helper()
	rec := testRecording("alice")
	video, err := d.Layout.VideoFile("alice", rec.ID, "mp4")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(video), 0o750))
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o640))
	rel, err := filepath.Rel(d.Layout.Root(), video)
	require.NoError(t, err)
	rec.ProcessedVideoPath = rel
	rec.Status = model.StatusUploading
	rec.Topics = []model.Topic{{Title: "Intro", StartS: 0, EndS: 120}}
	return rec
}

func noopSave(context.Context, *model.OutputTarget) error { return nil }

func TestUploadAllTargetsSucceed(t *testing.T) {
	d, reg := newTestDeps(t)
	sinkA := &fake.Sink{Caps: adapters.Capabilities{Subtitles: true}}
	sinkB := &fake.Sink{}
	reg.RegisterSink(model.PlatformHostingA, sinkA)
	reg.RegisterSink(model.PlatformHostingB, sinkB)

	rec := uploadFixture(t, d)
	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingA, Status: model.TargetNotUploaded},
		{ID: "t2", RecordingID: rec.ID, Platform: model.PlatformHostingB, Status: model.TargetNotUploaded},
	}

	doc := map[string]any{"metadata": map[string]any{"title_template": "{display_name} — {duration}"}}
	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", doc, targets, noopSave, nil))

	for _, ot := range targets {
		assert.Equal(t, model.TargetUploaded, ot.Status)
		assert.NotEmpty(t, ot.TargetMeta["remote_id"])
		require.NotNil(t, ot.UploadedAt)
	}
	combined := outputs.Derive(derefTargets(targets))
	assert.True(t, combined.Settled)
	assert.Equal(t, model.StatusUploaded, combined.Status)
	assert.False(t, combined.Failed)

	require.Len(t, sinkA.Uploads, 1)
	assert.Equal(t, "ML Seminar — 1h 0m", sinkA.Uploads[0].Meta.Title)
}

func TestUploadPartialFailure(t *testing.T) {
	d, reg := newTestDeps(t)
	good := &fake.Sink{}
	bad := &fake.Sink{FailUploads: 99, FailKind: xerr.KindStagePermanent}
	reg.RegisterSink(model.PlatformHostingA, good)
	reg.RegisterSink(model.PlatformHostingB, bad)

	rec := uploadFixture(t, d)
	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingA, Status: model.TargetNotUploaded},
		{ID: "t2", RecordingID: rec.ID, Platform: model.PlatformHostingB, Status: model.TargetNotUploaded},
	}

	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", nil, targets, noopSave, nil))
	assert.Equal(t, model.TargetUploaded, targets[0].Status)
	assert.Equal(t, model.TargetFailed, targets[1].Status)

	combined := outputs.Derive(derefTargets(targets))
	assert.True(t, combined.Settled)
	assert.Equal(t, model.StatusUploaded, combined.Status)
	assert.True(t, combined.Failed)
}

func TestUploadSkipsAlreadyUploadedTargets(t *testing.T) {
	d, reg := newTestDeps(t)
	sink := &fake.Sink{}
	reg.RegisterSink(model.PlatformHostingA, sink)

	rec := uploadFixture(t, d)
	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingA, Status: model.TargetUploaded},
	}
	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", nil, targets, noopSave, nil))
	assert.Equal(t, 0, sink.UploadCount())
}

func TestUploadStripsUnsupportedMetadata(t *testing.T) {
	d, reg := newTestDeps(t)
	sink := &fake.Sink{Caps: adapters.Capabilities{}} // supports nothing extra
	reg.RegisterSink(model.PlatformHostingB, sink)

	rec := uploadFixture(t, d)
	// Subtitles exist on disk but the platform cannot take them.
	srt, err := d.Layout.SubtitlesFile("alice", rec.ID, "srt")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(srt), 0o750))
	require.NoError(t, os.WriteFile(srt, []byte("1\n"), 0o640))

	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingB, Status: model.TargetNotUploaded},
	}
	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", nil, targets, noopSave, nil))
	require.Len(t, sink.Uploads, 1)
	assert.Empty(t, sink.Uploads[0].Meta.SubtitlePaths)
}

func TestUploadRequiresPermission(t *testing.T) {
	d, _ := newTestDeps(t)
	rec := uploadFixture(t, d)
	tn := tenant.New("alice", tenant.RoleUser, nil, tenant.Limits{}, nil, "en")
	err := d.Upload(context.Background(), tn, rec, "Weekly meetings", nil, nil, noopSave, nil)
	assert.True(t, xerr.IsKind(err, xerr.KindPermissionDenied))
}

func TestUploadRendersSourceName(t *testing.T) {
	d, reg := newTestDeps(t)
	sink := &fake.Sink{}
	reg.RegisterSink(model.PlatformHostingA, sink)

	rec := uploadFixture(t, d)
	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingA, Status: model.TargetNotUploaded},
	}
	doc := map[string]any{"metadata": map[string]any{"title_template": "{source_name}: {display_name}"}}
	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", doc, targets, noopSave, nil))
	require.Len(t, sink.Uploads, 1)
	assert.Equal(t, "Weekly meetings: ML Seminar", sink.Uploads[0].Meta.Title)
}

func TestUploadReportsAggregateProgress(t *testing.T) {
	d, reg := newTestDeps(t)
	reg.RegisterSink(model.PlatformHostingA, &fake.Sink{})
	reg.RegisterSink(model.PlatformHostingB, &fake.Sink{})

	rec := uploadFixture(t, d)
	targets := []*model.OutputTarget{
		{ID: "t1", RecordingID: rec.ID, Platform: model.PlatformHostingA, Status: model.TargetNotUploaded},
		{ID: "t2", RecordingID: rec.ID, Platform: model.PlatformHostingB, Status: model.TargetNotUploaded},
	}

	var mu sync.Mutex
	var percents []int64
	progress := func(done, total int64) {
		mu.Lock()
		percents = append(percents, done)
		mu.Unlock()
	}
	require.NoError(t, d.Upload(context.Background(), fullTenant("alice"), rec, "Weekly meetings", nil, targets, noopSave, progress))

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, int64(100), percents[len(percents)-1])
}

func TestUpdateMetadataPushesToPlatform(t *testing.T) {
	d, reg := newTestDeps(t)
	sink := &fake.Sink{}
	reg.RegisterSink(model.PlatformHostingA, sink)

	rec := uploadFixture(t, d)
	rec.Status = model.StatusUploaded
	ot := &model.OutputTarget{
		ID:          "t1",
		RecordingID: rec.ID,
		Platform:    model.PlatformHostingA,
		Status:      model.TargetUploaded,
		TargetMeta:  map[string]any{"remote_id": "vid-42"},
	}
	doc := map[string]any{"metadata": map[string]any{"title_template": "{source_name}: {display_name}"}}

	require.NoError(t, d.UpdateMetadata(context.Background(), fullTenant("alice"), rec, "Weekly meetings", doc, ot, noopSave))
	require.Len(t, sink.Updates, 1)
	assert.Equal(t, "Weekly meetings: ML Seminar", sink.Updates[0].Meta.Title)

	// The platform response lands on the target; the status is untouched.
	assert.Equal(t, model.TargetUploaded, ot.Status)
	assert.Equal(t, true, ot.TargetMeta["updated"])
	assert.Equal(t, "vid-42", ot.TargetMeta["remote_id"])
}

func TestUpdateMetadataRejectsPendingTarget(t *testing.T) {
	d, reg := newTestDeps(t)
	reg.RegisterSink(model.PlatformHostingA, &fake.Sink{})

	rec := uploadFixture(t, d)
	ot := &model.OutputTarget{
		ID:          "t1",
		RecordingID: rec.ID,
		Platform:    model.PlatformHostingA,
		Status:      model.TargetNotUploaded,
	}
	err := d.UpdateMetadata(context.Background(), fullTenant("alice"), rec, "", nil, ot, noopSave)
	assert.True(t, xerr.IsKind(err, xerr.KindConflict))
}

func derefTargets(in []*model.OutputTarget) []model.OutputTarget {
	out := make([]model.OutputTarget, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/adapters/fake"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/pipeline/executor"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/pipeline/runlock"
	"github.com/ManuGH/mediapress/internal/pipeline/stages"
	"github.com/ManuGH/mediapress/internal/quota"
	"github.com/ManuGH/mediapress/internal/scheduler"
	"github.com/ManuGH/mediapress/internal/storagepath"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/vault"
	"github.com/ManuGH/mediapress/internal/xerr"
)

type svcFixture struct {
	svc      *Service
	store    *sqlite.Store
	layout   *storagepath.Layout
	registry *adapters.Registry
	quota    *quota.Service
	tenant   tenant.Context
	content  []byte
}

// fakeMedia stands in for the ffmpeg binary.
type fakeMedia struct{}

func (fakeMedia) Run(_ context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
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

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := storagepath.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())

	require.NoError(t, st.UpsertTenant(ctx, sqlite.TenantRow{
		ID:   "alice",
		Role: tenant.RoleUser,
		Permissions: []tenant.Permission{
			tenant.PermTranscribe, tenant.PermProcessVideo, tenant.PermUpload,
			tenant.PermCreateTemplates, tenant.PermDeleteRecordings,
			tenant.PermManageCredentials,
		},
		Limits:   tenant.Limits{MaxConcurrentProcesses: 2},
		Timezone: "UTC",
		Locale:   "en",
	}))
	tn, err := st.TenantContext(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, st.SetTenantDefaults(ctx, tn, map[string]any{
		"processing":    map[string]any{"enable_processing": false},
		"transcription": map[string]any{"enable_subtitles": true},
		"outputs": []any{
			map[string]any{"platform": "hosting_a"},
		},
	}))

	registry := adapters.NewRegistry()
	registry.RegisterSpeech(model.PlatformSpeech, &fake.Speech{})
	registry.RegisterTopics(model.PlatformTopics, &fake.Topics{})
	registry.RegisterSink(model.PlatformHostingA, &fake.Sink{Caps: adapters.Capabilities{Subtitles: true}})

	deps := stages.NewDeps(layout, registry, fakeMedia{})
	resolver := configres.New(st, nil)
	q := quota.New(st.DB())
	rec := audit.New(st)
	exec := executor.New(st, deps, resolver, q, runlock.NewMemory(), rec)
	matcher := match.New(nil)
	sched := scheduler.New(st, registry, matcher, exec, rec)

	v, err := vault.New(st, bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	svc := New(Deps{
		Store:     st,
		Layout:    layout,
		Vault:     v,
		Executor:  exec,
		Scheduler: sched,
		Matcher:   matcher,
		Resolver:  resolver,
		Quota:     q,
		Audit:     rec,
	})

	// Above the blank-record thresholds so created recordings stay
	// INITIALIZED and actually run the pipeline.
	content := bytes.Repeat([]byte("v"), int(model.BlankSizeBytes)+1024)
	require.NoError(t, st.UpsertSource(ctx, tn, &model.Source{
		ID:        "src-1",
		Type:      string(model.PlatformConferencing),
		Name:      "Weekly meetings",
		CreatedAt: time.Now(),
	}))
	registry.RegisterSource(model.PlatformConferencing, &fake.Source{Content: content})

	return &svcFixture{svc: svc, store: st, layout: layout, registry: registry, quota: q, tenant: tn, content: content}
}

func (f *svcFixture) createParams(key, name string) CreateRecordingParams {
	return CreateRecordingParams{
		SourceID:        "src-1",
		DisplayName:     name,
		StartTime:       time.Now().Add(-2 * time.Hour),
		DurationSeconds: 3600,
		SizeBytes:       int64(len(f.content)),
		SourceType:      string(model.PlatformConferencing),
		SourceKey:       key,
	}
}

func (f *svcFixture) seminarTemplate(t *testing.T) *model.Template {
	t.Helper()
	tpl := &model.Template{
		Name:  "Seminars",
		State: model.TemplateActive,
		Rules: []model.MatchRule{{MatchType: model.MatchContains, Pattern: "seminar"}},
	}
	require.NoError(t, f.svc.CreateTemplate(context.Background(), f.tenant, tpl))
	return tpl
}

func TestCreateRecordingBindsTemplate(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	tpl := f.seminarTemplate(t)

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-1", "ML seminar week 8"))
	require.NoError(t, err)
	assert.True(t, rec.IsMapped)
	assert.Equal(t, tpl.ID, rec.TemplateID)
	assert.Equal(t, model.StatusInitialized, rec.Status)

	// Same source key again is a conflict.
	_, err = f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-1", "ML seminar week 8"))
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindConflict))
}

func TestCreateRecordingBlankIsSkipped(t *testing.T) {
	f := newSvcFixture(t)
	p := f.createParams("meet-2", "Quick chat")
	p.DurationSeconds = 300
	p.SizeBytes = 1024

	rec, err := f.svc.CreateRecording(context.Background(), f.tenant, p)
	require.NoError(t, err)
	assert.True(t, rec.BlankRecord)
	assert.Equal(t, model.StatusSkipped, rec.Status)
}

func TestRunPipelineEndToEnd(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	f.seminarTemplate(t)

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-3", "ML seminar week 9"))
	require.NoError(t, err)

	require.NoError(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, got.Status)
	assert.False(t, got.Failed)
}

func TestAddOutputTargetAfterPublishUploadsNewPlatform(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	sinkA := &fake.Sink{}
	f.registry.RegisterSink(model.PlatformHostingA, sinkA)

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-10", "All hands"))
	require.NoError(t, err)
	require.NoError(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	// A second platform joins after publication.
	sinkB := &fake.Sink{}
	f.registry.RegisterSink(model.PlatformHostingB, sinkB)
	ot, err := f.svc.AddOutputTarget(ctx, f.tenant, rec.ID, model.PlatformHostingB, "")
	require.NoError(t, err)
	require.NotEmpty(t, ot.ID)

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, got.Status)
	assert.False(t, got.Failed)

	targets, err := f.svc.ListOutputTargets(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	for _, tg := range targets {
		assert.Equal(t, model.TargetUploaded, tg.Status)
	}

	// Only the fresh target went over the wire.
	assert.Equal(t, 1, sinkA.UploadCount())
	assert.Equal(t, 1, sinkB.UploadCount())

	// The platform can only be targeted once per recording.
	_, err = f.svc.AddOutputTarget(ctx, f.tenant, rec.ID, model.PlatformHostingB, "")
	assert.True(t, xerr.IsKind(err, xerr.KindConflict))
}

func TestUpdateTargetMetadataPushesToPlatform(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	sink := &fake.Sink{}
	f.registry.RegisterSink(model.PlatformHostingA, sink)

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-11", "All hands"))
	require.NoError(t, err)
	require.NoError(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	targets, err := f.svc.ListOutputTargets(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	updated, err := f.svc.UpdateTargetMetadata(ctx, f.tenant, rec.ID, targets[0].ID)
	require.NoError(t, err)
	require.Len(t, sink.Updates, 1)
	assert.Equal(t, model.TargetUploaded, updated.Status)
	assert.Equal(t, true, updated.TargetMeta["updated"])

	// A target of another recording is rejected.
	other, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-12", "Planning"))
	require.NoError(t, err)
	_, err = f.svc.UpdateTargetMetadata(ctx, f.tenant, other.ID, targets[0].ID)
	assert.True(t, xerr.IsKind(err, xerr.KindValidation))
}

func TestRetryRecordingResumesAfterFailure(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	speech := &fake.Speech{FailN: 99, FailKind: xerr.KindStagePermanent}
	f.registry.RegisterSpeech(model.PlatformSpeech, speech)

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-4", "All hands"))
	require.NoError(t, err)
	require.Error(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Failed)
	assert.Equal(t, model.StageTranscribing, got.FailedAtStage)

	speech.FailN = 0
	require.NoError(t, f.svc.RetryRecording(ctx, f.tenant, rec.ID))

	got, err = f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestCancelRunWithoutActiveRun(t *testing.T) {
	f := newSvcFixture(t)
	err := f.svc.CancelRun(context.Background(), f.tenant, "rec-x")
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindNotFound))
}

func TestDeleteRecordingFreesStorageAndRows(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-5", "Board meeting"))
	require.NoError(t, err)
	require.NoError(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	u, err := f.quota.Usage(ctx, f.tenant)
	require.NoError(t, err)
	require.Positive(t, u.StorageBytes)

	require.NoError(t, f.svc.DeleteRecording(ctx, f.tenant, rec.ID))

	_, err = f.svc.GetRecording(ctx, f.tenant, rec.ID)
	assert.True(t, xerr.IsKind(err, xerr.KindNotFound))

	dir, err := f.layout.RecordingDir(f.tenant.ID(), rec.ID)
	require.NoError(t, err)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	u, err = f.quota.Usage(ctx, f.tenant)
	require.NoError(t, err)
	assert.Zero(t, u.StorageBytes)
}

func TestDeleteRecordingRequiresPermission(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-6", "Sync"))
	require.NoError(t, err)

	limited := tenant.New("alice", tenant.RoleUser, nil, tenant.Limits{}, nil, "en")
	err = f.svc.DeleteRecording(ctx, limited, rec.ID)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindPermissionDenied))
}

func TestBulkRetryDryRunReportsWithoutMutation(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	f.registry.RegisterSpeech(model.PlatformSpeech, &fake.Speech{FailN: 99, FailKind: xerr.KindStagePermanent})
	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-7", "Town hall"))
	require.NoError(t, err)
	require.Error(t, f.svc.RunPipeline(ctx, f.tenant, rec.ID))

	failed := true
	res, err := f.svc.BulkRetry(ctx, f.tenant, BulkSelector{Filter: &sqlite.RecordingFilter{Failed: &failed}}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, res.Affected)
	assert.True(t, res.DryRun)

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Zero(t, got.RetryCount)
}

func TestBulkSelectorRejectsAmbiguity(t *testing.T) {
	f := newSvcFixture(t)
	failed := true
	_, err := f.svc.BulkDelete(context.Background(), f.tenant, BulkSelector{
		RecordingIDs: []string{"a"},
		Filter:       &sqlite.RecordingFilter{Failed: &failed},
	}, false)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindValidation))
}

func TestRematchTemplatesIsIdempotent(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-8", "ML seminar week 10"))
	require.NoError(t, err)
	require.False(t, rec.IsMapped)

	tpl := f.seminarTemplate(t)
	n, err := f.svc.RematchTemplates(ctx, f.tenant, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.TemplateID)

	n, err = f.svc.RematchTemplates(ctx, f.tenant, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertAutomationJobPlansNextRun(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	tpl := f.seminarTemplate(t)

	job := &model.AutomationJob{
		TemplateID: tpl.ID,
		Schedule:   model.Schedule{Kind: model.ScheduleTimeOfDay, TimeOfDay: "06:00"},
		Enabled:    true,
	}
	require.NoError(t, f.svc.UpsertAutomationJob(ctx, f.tenant, job))
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(time.Now()))

	bad := &model.AutomationJob{TemplateID: tpl.ID, Schedule: model.Schedule{Kind: "sometimes"}}
	err := f.svc.UpsertAutomationJob(ctx, f.tenant, bad)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindValidation))
}

func TestDryRunAutomationJobLeavesNoRecordings(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()
	tpl := f.seminarTemplate(t)

	src, _ := f.registry.Source(model.PlatformConferencing)
	src.(*fake.Source).Candidates = []model.Candidate{{
		SourceType:      string(model.PlatformConferencing),
		SourceKey:       "meet-9",
		DisplayName:     "ML seminar week 11",
		StartTime:       time.Now().Add(-time.Hour),
		DurationSeconds: 3600,
		SizeBytes:       100 * 1024 * 1024,
	}}

	job := &model.AutomationJob{
		TemplateID: tpl.ID,
		Schedule:   model.Schedule{Kind: model.ScheduleTimeOfDay, TimeOfDay: "06:00"},
		Enabled:    true,
	}
	require.NoError(t, f.svc.UpsertAutomationJob(ctx, f.tenant, job))

	run, err := f.svc.DryRunAutomationJob(ctx, f.tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Synced: 1, Processed: 1}, run.Counts)

	recs, err := f.svc.ListRecordings(ctx, f.tenant, sqlite.RecordingFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCredentialLifecycle(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	id, err := f.svc.PutCredential(ctx, f.tenant, model.PlatformHostingA, "studio", []byte(`{"client_id":"cid","client_secret":"cs","access_token":"s3cret"}`), map[string]string{"account": "studio"})
	require.NoError(t, err)

	metas, err := f.svc.ListCredentials(ctx, f.tenant)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)

	require.NoError(t, f.svc.RevokeCredential(ctx, f.tenant, id))
	metas, err = f.svc.ListCredentials(ctx, f.tenant)
	require.NoError(t, err)
	assert.Empty(t, metas)

	limited := tenant.New("alice", tenant.RoleUser, nil, tenant.Limits{}, nil, "en")
	_, err = f.svc.PutCredential(ctx, limited, model.PlatformHostingA, "studio", []byte("{}"), nil)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindPermissionDenied))
}

func TestSweepExpiredRemovesFilesAndMarksRows(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	p := f.createParams("meet-10", "Old recording")
	p.ExpireAt = &past
	rec, err := f.svc.CreateRecording(ctx, f.tenant, p)
	require.NoError(t, err)

	dir, err := f.layout.RecordingDir(f.tenant.ID(), rec.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.mp4"), f.content, 0o640))
	require.NoError(t, f.quota.TrackStorageAdded(ctx, f.tenant, int64(len(f.content))))

	n, err := f.svc.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetRecording(ctx, f.tenant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	u, err := f.quota.Usage(ctx, f.tenant)
	require.NoError(t, err)
	assert.Zero(t, u.StorageBytes)
}

func TestResetRetryBudgetRequiresAdmin(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CreateRecording(ctx, f.tenant, f.createParams("meet-11", "Workshop"))
	require.NoError(t, err)

	err = f.svc.ResetRetryBudget(ctx, f.tenant, rec.ID)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindPermissionDenied))
}

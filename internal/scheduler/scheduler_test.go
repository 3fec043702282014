// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/adapters/fake"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

// stubPipeline stands in for the executor: it marks submissions uploaded.
type stubPipeline struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (p *stubPipeline) Run(_ context.Context, _ tenant.Context, rec *model.Recording) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, rec.ID)
	rec.Status = model.StatusUploaded
	return nil
}

func (p *stubPipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type schedFixture struct {
	sched    *Scheduler
	store    *sqlite.Store
	source   *fake.Source
	pipeline *stubPipeline
	clock    *fakeClock
	tenant   tenant.Context
	job      *model.AutomationJob
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertTenant(ctx, sqlite.TenantRow{
		ID:   "alice",
		Role: tenant.RoleUser,
		Permissions: []tenant.Permission{
			tenant.PermTranscribe, tenant.PermProcessVideo, tenant.PermUpload,
		},
		Timezone: "UTC",
		Locale:   "en",
	}))
	tn, err := st.TenantContext(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, st.UpsertSource(ctx, tn, &model.Source{
		ID:   "src-1",
		Type: string(model.PlatformConferencing),
		Name: "Team space",
	}))

	tpl := &model.Template{
		ID:    "tpl-seminar",
		Name:  "Seminars",
		State: model.TemplateActive,
		Rules: []model.MatchRule{{MatchType: model.MatchContains, Pattern: "seminar"}},
	}
	require.NoError(t, st.SaveTemplate(ctx, tn, tpl))

	clock := &fakeClock{now: time.Date(2026, 3, 2, 6, 0, 30, 0, time.UTC)}
	src := &fake.Source{}
	registry := adapters.NewRegistry()
	registry.RegisterSource(model.PlatformConferencing, src)

	pipe := &stubPipeline{}
	s := New(st, registry, match.New(nil), pipe, audit.New(st))
	s.clock = clock
	s.sleep = func(context.Context, time.Duration) error { return nil }

	due := clock.Now().Add(-time.Second)
	job := &model.AutomationJob{
		ID:         "job-1",
		TemplateID: tpl.ID,
		Schedule:   model.Schedule{Kind: model.ScheduleTimeOfDay, TimeOfDay: "06:00"},
		Enabled:    true,
		SyncDays:   1,
		NextRun:    &due,
	}
	require.NoError(t, st.UpsertJob(ctx, tn, job))

	return &schedFixture{sched: s, store: st, source: src, pipeline: pipe, clock: clock, tenant: tn, job: job}
}

// candidate returns a pipeline-eligible candidate recorded inside the
// default one-day sync window.
func (f *schedFixture) candidate(key, name string) model.Candidate {
	return model.Candidate{
		SourceType:      string(model.PlatformConferencing),
		SourceKey:       key,
		DisplayName:     name,
		StartTime:       f.clock.Now().Add(-2 * time.Hour),
		DurationSeconds: 3600,
		SizeBytes:       100 * 1024 * 1024,
	}
}

func TestRunJobSyncsMatchesAndSubmits(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	blank := f.candidate("meet-3", "ML seminar standup")
	blank.DurationSeconds = 600
	blank.SizeBytes = 15 * 1024 * 1024
	f.source.Candidates = []model.Candidate{
		f.candidate("meet-1", "ML seminar week 8"),
		f.candidate("meet-2", "Budget review"), // no rule match
		blank,
	}

	run, err := f.sched.RunJob(ctx, f.tenant, f.job, 0, false)
	require.NoError(t, err)
	require.Equal(t, model.RunSuccess, run.Status)
	require.Equal(t, model.RunCounts{Synced: 3, Processed: 1, Uploaded: 1}, run.Counts)
	require.Equal(t, 1, f.pipeline.count())

	// The blank candidate is kept as a skipped row, never pipelined.
	recs, err := f.store.ListRecordings(ctx, f.tenant, sqlite.RecordingFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		if rec.BlankRecord {
			require.Equal(t, model.StatusSkipped, rec.Status)
		}
	}

	// A second pass sees nothing new: the source keys are already ingested.
	run, err = f.sched.RunJob(ctx, f.tenant, f.job, 0, false)
	require.NoError(t, err)
	require.Equal(t, model.RunCounts{}, run.Counts)
	require.Equal(t, 1, f.pipeline.count())
}

func TestRunJobDryRunLeavesNoTrace(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.source.Candidates = []model.Candidate{
		f.candidate("meet-1", "ML seminar week 8"),
		f.candidate("meet-2", "Budget review"),
	}

	run, err := f.sched.RunJob(ctx, f.tenant, f.job, 0, true)
	require.NoError(t, err)
	require.True(t, run.DryRun)
	require.Equal(t, model.RunCounts{Synced: 2, Processed: 1}, run.Counts)
	require.Zero(t, f.pipeline.count())

	recs, err := f.store.ListRecordings(ctx, f.tenant, sqlite.RecordingFilter{})
	require.NoError(t, err)
	require.Empty(t, recs)

	runs, err := f.store.ListRuns(ctx, f.tenant, f.job.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].DryRun)
}

func TestRunJobSkipsInactiveTemplate(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	tpl, err := f.store.GetTemplate(ctx, f.tenant, f.job.TemplateID)
	require.NoError(t, err)
	tpl.State = model.TemplateDraft
	require.NoError(t, f.store.SaveTemplate(ctx, f.tenant, tpl))

	run, err := f.sched.RunJob(ctx, f.tenant, f.job, 0, false)
	require.NoError(t, err)
	require.Equal(t, model.RunSkipped, run.Status)
	require.Zero(t, f.pipeline.count())
}

func TestRunJobSurvivesPipelineFailures(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.source.Candidates = []model.Candidate{f.candidate("meet-1", "ML seminar week 8")}
	f.pipeline.err = xerr.E(xerr.KindStagePermanent, "speech provider rejected the audio")

	run, err := f.sched.RunJob(ctx, f.tenant, f.job, 0, false)
	require.NoError(t, err)
	require.Equal(t, model.RunSuccess, run.Status)
	require.Equal(t, model.RunCounts{Synced: 1}, run.Counts)
}

func TestRunWithRetryExhaustsBudget(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.source.ListErr = xerr.E(xerr.KindTransient, "provider 503")
	f.job.RetryMax = 2
	f.job.RetryDelay = 1

	var slept []time.Duration
	f.sched.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	status := f.sched.runWithRetry(ctx, f.tenant, f.job)
	require.Equal(t, "failed", status)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)

	runs, err := f.store.ListRuns(ctx, f.tenant, f.job.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		require.Equal(t, model.RunFailed, r.Status)
	}
}

func TestTickFiresDueJobsAndAdvancesNextRun(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.source.Candidates = []model.Candidate{f.candidate("meet-1", "ML seminar week 8")}

	f.sched.Tick(ctx)

	job, err := f.store.GetJob(ctx, f.tenant, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, "success", job.LastStatus)
	require.NotNil(t, job.LastRun)
	require.NotNil(t, job.NextRun)
	// 06:00 already passed at tick time, so the next slot is tomorrow.
	require.Equal(t, time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC), job.NextRun.UTC())
	require.Equal(t, 1, f.pipeline.count())

	// The advanced next_run keeps the job quiet until its next slot.
	f.sched.Tick(ctx)
	require.Equal(t, 1, f.pipeline.count())
}

func TestBucketJobsGroupsByMinute(t *testing.T) {
	at := func(min int) *time.Time {
		ts := time.Date(2026, 3, 2, 6, min, 0, 0, time.UTC)
		return &ts
	}
	jobs := []model.AutomationJob{
		{ID: "a", NextRun: at(0)},
		{ID: "b", NextRun: at(5)},
		{ID: "c", NextRun: at(0)},
	}
	buckets := bucketJobs(jobs)
	require.Len(t, buckets, 2)
	require.Len(t, buckets[0], 2)
	require.Len(t, buckets[1], 1)
	require.Equal(t, "b", buckets[1][0].ID)
}

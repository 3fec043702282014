// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package scheduler fires automation jobs on their schedule descriptors.
// Due jobs are grouped into wall-clock buckets; one tick fires a bucket
// concurrently, bounded by a scheduler-wide limit.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/mediapress/internal/adapters"
	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultMaxConcurrent = 4
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer abstracts time.Timer for tests.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Store is the persistence surface the scheduler needs.
type Store interface {
	DueJobs(ctx context.Context, now time.Time) ([]model.AutomationJob, error)
	TenantContext(ctx context.Context, id string) (tenant.Context, error)
	GetTemplate(ctx context.Context, t tenant.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context, t tenant.Context, activeOnly bool) ([]model.Template, error)
	ListSources(ctx context.Context, t tenant.Context) ([]model.Source, error)
	SourceKeyExists(ctx context.Context, sourceType, sourceKey string) (bool, error)
	InsertRecording(ctx context.Context, t tenant.Context, rec *model.Recording, meta *model.SourceMetadata) error
	MarkJobRun(ctx context.Context, t tenant.Context, jobID string, lastRun time.Time, nextRun *time.Time, status string) error
	InsertRun(ctx context.Context, t tenant.Context, run *model.AutomationRun) error
	CompleteRun(ctx context.Context, t tenant.Context, run *model.AutomationRun) error
}

// PipelineRunner submits a recording for a full pipeline run.
type PipelineRunner interface {
	Run(ctx context.Context, t tenant.Context, rec *model.Recording) error
}

// Scheduler polls for due automation jobs and runs them.
type Scheduler struct {
	store    Store
	registry *adapters.Registry
	matcher  *match.Matcher
	pipeline PipelineRunner
	audit    *audit.Recorder
	logger   zerolog.Logger

	// PollInterval is how often the loop checks for due jobs.
	PollInterval time.Duration
	// MaxConcurrent bounds jobs firing within one bucket.
	MaxConcurrent int

	clock Clock
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a scheduler. The audit recorder may be nil.
func New(store Store, registry *adapters.Registry, matcher *match.Matcher, pipeline PipelineRunner, rec *audit.Recorder) *Scheduler {
	if rec == nil {
		rec = audit.New(nil)
	}
	return &Scheduler{
		store:         store,
		registry:      registry,
		matcher:       matcher,
		pipeline:      pipeline,
		audit:         rec,
		logger:        log.WithComponent("scheduler"),
		PollInterval:  defaultPollInterval,
		MaxConcurrent: defaultMaxConcurrent,
		clock:         RealClock{},
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start runs the polling loop in a background goroutine. It returns
// immediately; the loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info().Dur("poll_interval", s.PollInterval).Msg("scheduler started")
	timer := s.clock.NewTimer(s.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return
		case <-timer.C():
			s.Tick(ctx)
			timer.Reset(s.PollInterval)
		}
	}
}

// Tick fires every due job once, grouped into wall-clock buckets. Each
// bucket runs concurrently with a scheduler-wide bound; buckets fire in
// chronological order.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()
	now := s.clock.Now().UTC()

	jobs, err := s.store.DueJobs(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("due-job query failed")
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, bucket := range bucketJobs(jobs) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.MaxConcurrent)
		for i := range bucket {
			job := bucket[i]
			g.Go(func() error {
				s.fire(gctx, job, now)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// bucketJobs groups due jobs by their planned fire minute so jobs sharing
// a slot launch together.
func bucketJobs(jobs []model.AutomationJob) [][]model.AutomationJob {
	byMinute := make(map[int64][]model.AutomationJob)
	for _, j := range jobs {
		var key int64
		if j.NextRun != nil {
			key = j.NextRun.UTC().Truncate(time.Minute).Unix()
		}
		byMinute[key] = append(byMinute[key], j)
	}
	keys := make([]int64, 0, len(byMinute))
	for k := range byMinute {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([][]model.AutomationJob, 0, len(keys))
	for _, k := range keys {
		out = append(out, byMinute[k])
	}
	return out
}

// fire runs one due job with its retry policy, then advances next_run to
// the first future slot regardless of outcome.
func (s *Scheduler) fire(ctx context.Context, job model.AutomationJob, now time.Time) {
	t, err := s.store.TenantContext(ctx, job.TenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("tenant_id", job.TenantID).Msg("tenant lookup failed")
		return
	}

	status := s.runWithRetry(ctx, t, &job)

	var nextRun *time.Time
	if next, err := Next(job.Schedule, s.clock.Now(), t.Location()); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("next_run computation failed, job parked")
	} else {
		nextRun = &next
	}
	if err := s.store.MarkJobRun(context.WithoutCancel(ctx), t, job.ID, now, nextRun, status); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("job bookkeeping failed")
	}
}

// runWithRetry executes the job up to 1+retry_max times with exponential
// delay and returns the final status string.
func (s *Scheduler) runWithRetry(ctx context.Context, t tenant.Context, job *model.AutomationJob) string {
	attempts := job.RetryMax + 1
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(job.RetryDelay) * time.Second

	var last model.RunStatus
	for attempt := 1; attempt <= attempts; attempt++ {
		run, err := s.RunJob(ctx, t, job, attempt-1, false)
		last = run.Status
		if err == nil || run.Status == model.RunSkipped {
			break
		}
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Int("attempt", attempt).
			Msg("automation job attempt failed")
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		if delay > 0 {
			if err := s.sleep(ctx, delay<<(attempt-1)); err != nil {
				break
			}
		}
	}

	outcome := "failed"
	switch last {
	case model.RunSuccess:
		outcome = "success"
	case model.RunSkipped:
		outcome = "skipped"
	}
	metrics.SchedulerJobRuns.WithLabelValues(outcome).Inc()
	return outcome
}

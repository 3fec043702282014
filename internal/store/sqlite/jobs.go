// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

const jobColumns = `id, tenant_id, template_id, schedule, enabled, sync_days,
	last_run, next_run, last_status, retry_max, retry_delay, created_at`

// UpsertJob creates or updates an automation job.
func (s *Store) UpsertJob(ctx context.Context, t tenant.Context, job *model.AutomationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	sched, err := json.Marshal(job.Schedule)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode schedule", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			template_id = excluded.template_id,
			schedule = excluded.schedule,
			enabled = excluded.enabled,
			sync_days = excluded.sync_days,
			next_run = excluded.next_run,
			retry_max = excluded.retry_max,
			retry_delay = excluded.retry_delay
		WHERE automation_jobs.tenant_id = excluded.tenant_id`,
		job.ID, t.ID(), job.TemplateID, string(sched), job.Enabled, job.SyncDays,
		fmtTimePtr(job.LastRun), fmtTimePtr(job.NextRun), job.LastStatus,
		job.RetryMax, job.RetryDelay, fmtTime(job.CreatedAt))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "upsert automation job", err)
	}
	return nil
}

// GetJob loads one automation job, tenant-filtered.
func (s *Store) GetJob(ctx context.Context, t tenant.Context, id string) (*model.AutomationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM automation_jobs WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	job, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "automation job")
	}
	return job, nil
}

// ListJobs returns the tenant's automation jobs.
func (s *Store) ListJobs(ctx context.Context, t tenant.Context) ([]model.AutomationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM automation_jobs WHERE tenant_id = ? ORDER BY created_at`, t.ID())
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list automation jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DueJobs returns enabled jobs across all tenants whose next_run is at
// or before now. The scheduler groups them into bucket runs.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]model.AutomationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM automation_jobs
		 WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`, fmtTime(now))
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list due jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkJobRun records the outcome of a job tick and the next fire time.
func (s *Store) MarkJobRun(ctx context.Context, t tenant.Context, jobID string, lastRun time.Time, nextRun *time.Time, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_jobs SET last_run = ?, next_run = ?, last_status = ?
		WHERE tenant_id = ? AND id = ?`,
		fmtTime(lastRun), fmtTimePtr(nextRun), status, t.ID(), jobID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "mark job run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "automation job not found")
	}
	return nil
}

// DeleteJob removes an automation job.
func (s *Store) DeleteJob(ctx context.Context, t tenant.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_jobs WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "delete automation job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "automation job not found")
	}
	return nil
}

// InsertRun appends a new automation run row, status running.
func (s *Store) InsertRun(ctx context.Context, t tenant.Context, run *model.AutomationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode run counts", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_runs (id, job_id, tenant_id, started_at, counts, error, retry_attempt, dry_run, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, t.ID(), fmtTime(run.StartedAt), string(counts),
		run.Error, run.RetryAttempt, run.DryRun, run.Status)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "insert automation run", err)
	}
	return nil
}

// CompleteRun finalizes an automation run with its counts and outcome.
func (s *Store) CompleteRun(ctx context.Context, t tenant.Context, run *model.AutomationRun) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode run counts", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_runs SET completed_at = ?, counts = ?, error = ?, status = ?
		WHERE tenant_id = ? AND id = ?`,
		fmtTimePtr(run.CompletedAt), string(counts), run.Error, run.Status, t.ID(), run.ID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "complete automation run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "automation run not found")
	}
	return nil
}

// ListRuns returns the job's run history, newest first.
func (s *Store) ListRuns(ctx context.Context, t tenant.Context, jobID string, limit int) ([]model.AutomationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, tenant_id, started_at, completed_at, counts, error, retry_attempt, dry_run, status
		FROM automation_runs
		WHERE tenant_id = ? AND job_id = ?
		ORDER BY started_at DESC LIMIT ?`, t.ID(), jobID, limit)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list automation runs", err)
	}
	defer rows.Close()
	var out []model.AutomationRun
	for rows.Next() {
		var (
			run         model.AutomationRun
			startedAt   string
			completedAt sql.NullString
			counts      string
		)
		if err := rows.Scan(&run.ID, &run.JobID, &run.TenantID, &startedAt, &completedAt,
			&counts, &run.Error, &run.RetryAttempt, &run.DryRun, &run.Status); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan automation run", err)
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		run.CompletedAt = scanNullTime(completedAt)
		if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "decode run counts", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (*model.AutomationJob, error) {
	var (
		job               model.AutomationJob
		sched, createdAt  string
		lastRun, nextRun  sql.NullString
	)
	err := r.Scan(&job.ID, &job.TenantID, &job.TemplateID, &sched, &job.Enabled, &job.SyncDays,
		&lastRun, &nextRun, &job.LastStatus, &job.RetryMax, &job.RetryDelay, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sched), &job.Schedule); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	job.LastRun = scanNullTime(lastRun)
	job.NextRun = scanNullTime(nextRun)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]model.AutomationJob, error) {
	var out []model.AutomationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan automation job", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

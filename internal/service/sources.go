// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/scheduler"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// UpsertSource creates or updates an ingestion source.
func (s *Service) UpsertSource(ctx context.Context, t tenant.Context, src *model.Source) error {
	if err := s.gate(t, ""); err != nil {
		return err
	}
	if src.Type == "" || src.Name == "" {
		return xerr.E(xerr.KindValidation, "source type and name are required")
	}
	return s.store.UpsertSource(ctx, t, src)
}

// ListSources returns the tenant's sources.
func (s *Service) ListSources(ctx context.Context, t tenant.Context) ([]model.Source, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListSources(ctx, t)
}

// UpsertPreset creates or updates a credential/defaults pairing.
func (s *Service) UpsertPreset(ctx context.Context, t tenant.Context, p *model.Preset) error {
	if err := s.gate(t, tenant.PermManageCredentials); err != nil {
		return err
	}
	if p.Name == "" || p.Platform == "" || p.CredentialID == "" {
		return xerr.E(xerr.KindValidation, "preset name, platform and credential are required")
	}
	return s.store.UpsertPreset(ctx, t, p)
}

// ListPresets returns the tenant's presets.
func (s *Service) ListPresets(ctx context.Context, t tenant.Context) ([]model.Preset, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListPresets(ctx, t)
}

// UpsertAutomationJob validates the schedule descriptor and plans the
// job's first future slot in the tenant's timezone.
func (s *Service) UpsertAutomationJob(ctx context.Context, t tenant.Context, job *model.AutomationJob) error {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return err
	}
	if _, err := s.store.GetTemplate(ctx, t, job.TemplateID); err != nil {
		return err
	}
	if err := scheduler.ValidateSchedule(job.Schedule); err != nil {
		return err
	}
	if job.Enabled {
		next, err := scheduler.Next(job.Schedule, s.now(), t.Location())
		if err != nil {
			return err
		}
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}
	return s.store.UpsertJob(ctx, t, job)
}

// ListAutomationJobs returns the tenant's automation jobs.
func (s *Service) ListAutomationJobs(ctx context.Context, t tenant.Context) ([]model.AutomationJob, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListJobs(ctx, t)
}

// DeleteAutomationJob removes a job; its run history stays queryable.
func (s *Service) DeleteAutomationJob(ctx context.Context, t tenant.Context, id string) error {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return err
	}
	return s.store.DeleteJob(ctx, t, id)
}

// RunSync triggers one job invocation outside its schedule. The planned
// next_run is left untouched.
func (s *Service) RunSync(ctx context.Context, t tenant.Context, jobID string) (model.AutomationRun, error) {
	if err := s.gate(t, ""); err != nil {
		return model.AutomationRun{}, err
	}
	job, err := s.store.GetJob(ctx, t, jobID)
	if err != nil {
		return model.AutomationRun{}, err
	}
	return s.sched.RunJob(ctx, t, job, 0, false)
}

// DryRunAutomationJob reports what a job invocation would sync and
// process without mutating pipeline state or quotas.
func (s *Service) DryRunAutomationJob(ctx context.Context, t tenant.Context, jobID string) (model.AutomationRun, error) {
	if err := s.gate(t, ""); err != nil {
		return model.AutomationRun{}, err
	}
	job, err := s.store.GetJob(ctx, t, jobID)
	if err != nil {
		return model.AutomationRun{}, err
	}
	return s.sched.RunJob(ctx, t, job, 0, true)
}

// ListAutomationRuns returns a job's run history, newest first.
func (s *Service) ListAutomationRuns(ctx context.Context, t tenant.Context, jobID string, limit int) ([]model.AutomationRun, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, t, jobID, limit)
}

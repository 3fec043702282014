// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// TemplateState distinguishes drafts (pending completion) from active
// templates eligible for matching.
type TemplateState string

const (
	TemplateDraft  TemplateState = "draft"
	TemplateActive TemplateState = "active"
)

// Template bundles matching rules with config overrides and output
// configs. The config documents are stored JSON-shaped and resolved by
// the config resolver.
type Template struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Name      string        `json:"name"`
	State     TemplateState `json:"state"`
	Priority  int           `json:"priority"`
	Rules     []MatchRule   `json:"rules,omitempty"`
	Config    map[string]any `json:"config,omitempty"` // processing/transcription/metadata/outputs overrides
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MatchRule is one matching rule of a template.
type MatchRule struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	MatchType  MatchType `json:"match_type"`
	Pattern    string    `json:"pattern"`
	SourceType string    `json:"source_type,omitempty"` // optional constraint
	SourceID   string    `json:"source_id,omitempty"`   // optional constraint
	Priority   int       `json:"priority"`
}

// Source is a configured ingestion endpoint.
type Source struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	CredentialID string         `json:"credential_id,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"` // folder path, URL, sync cadence
	CreatedAt    time.Time      `json:"created_at"`
}

// Preset is a reusable pairing of a credential with platform defaults.
type Preset struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Name         string         `json:"name"`
	Platform     Platform       `json:"platform"`
	CredentialID string         `json:"credential_id"`
	Defaults     map[string]any `json:"defaults,omitempty"` // privacy, playlist, category, ...
	CreatedAt    time.Time      `json:"created_at"`
}

// ScheduleKind enumerates the automation schedule descriptor forms.
type ScheduleKind string

const (
	ScheduleTimeOfDay   ScheduleKind = "time_of_day"
	ScheduleEveryNHours ScheduleKind = "every_n_hours"
	ScheduleWeekdays    ScheduleKind = "weekdays_time"
	ScheduleCron        ScheduleKind = "cron"
)

// Schedule is the descriptor of an automation job.
type Schedule struct {
	Kind      ScheduleKind `json:"kind"`
	TimeOfDay string       `json:"time_of_day,omitempty"` // "06:00"
	EveryN    int          `json:"every_n_hours,omitempty"`
	Weekdays  []int        `json:"weekdays,omitempty"` // 0=Sunday
	CronExpr  string       `json:"cron,omitempty"`
}

// AutomationJob schedules template-driven pipeline runs.
type AutomationJob struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	TemplateID string     `json:"template_id"`
	Schedule   Schedule   `json:"schedule"`
	Enabled    bool       `json:"enabled"`
	SyncDays   int        `json:"sync_days"` // lookback window, default 1
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	RetryMax   int        `json:"retry_max_attempts"`
	RetryDelay int        `json:"retry_delay_seconds"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RunStatus is the outcome of one automation run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// RunCounts summarizes one automation run.
type RunCounts struct {
	Synced    int `json:"synced"`
	Processed int `json:"processed"`
	Uploaded  int `json:"uploaded"`
}

// AutomationRun is the append-only record of one job invocation.
type AutomationRun struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	TenantID     string     `json:"tenant_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Counts       RunCounts  `json:"counts"`
	Error        string     `json:"error,omitempty"`
	RetryAttempt int        `json:"retry_attempt"`
	DryRun       bool       `json:"dry_run"`
	Status       RunStatus  `json:"status"`
}

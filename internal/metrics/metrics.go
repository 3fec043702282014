// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics defines the Prometheus instruments for the pipeline,
// scheduler and quota layers. Collectors are registered at import time via
// promauto and served by the daemon's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts finished pipeline invocations by outcome.
	// outcome=uploaded|failed|cancelled|skipped
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_pipeline_runs_total",
		Help: "Finished pipeline invocations by outcome",
	}, []string{"outcome"})

	// StageDuration observes wall-clock seconds per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediapress_stage_duration_seconds",
		Help:    "Pipeline stage duration by stage and outcome",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2h
	}, []string{"stage", "outcome"}) // outcome=ok|error|cancelled

	// StageRetries counts transient-error retries inside a stage.
	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_stage_retries_total",
		Help: "Transient retries per stage",
	}, []string{"stage"})

	// UploadsTotal counts per-target upload attempts by platform and outcome.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_uploads_total",
		Help: "Output target uploads by platform and outcome",
	}, []string{"platform", "outcome"})

	// ActiveProcesses mirrors the quota gauge of running pipelines per tenant.
	ActiveProcesses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediapress_active_processes",
		Help: "Currently reserved pipeline slots per tenant",
	}, []string{"tenant"})

	// StorageBytes mirrors the accounted storage bytes per tenant.
	StorageBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediapress_storage_bytes",
		Help: "Accounted storage bytes per tenant",
	}, []string{"tenant"})

	// QuotaRejections counts denied reservations. kind=process|storage
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_quota_rejections_total",
		Help: "Quota denials by kind",
	}, []string{"kind"})

	// SchedulerTicks counts scheduler wake-ups.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediapress_scheduler_ticks_total",
		Help: "Scheduler bucket firings",
	})

	// SchedulerJobRuns counts automation job executions by outcome.
	// outcome=success|failed|skipped
	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_scheduler_job_runs_total",
		Help: "Automation job executions by outcome",
	}, []string{"outcome"})

	// SweepRemoved counts entries removed by background sweeps.
	// sweep=temp|expiry
	SweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_sweep_removed_total",
		Help: "Entries removed by background sweeps",
	}, []string{"sweep"})

	// CredentialRefreshes counts vault refresh attempts by platform and outcome.
	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediapress_credential_refreshes_total",
		Help: "Credential refresh attempts by platform and outcome",
	}, []string{"platform", "outcome"})
)

// ObserveStage records one stage execution.
func ObserveStage(stage, outcome string, seconds float64) {
	StageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}

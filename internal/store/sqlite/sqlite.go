// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sqlite is the persistence layer. One Store owns the database
// handle; repositories are method sets grouped by entity. Every query on
// tenant-owned tables filters by tenant_id, so a wrong-tenant read is a
// miss, not a leak.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/ManuGH/mediapress/internal/xerr"
)

// Store provides SQLite persistence for the whole core.
type Store struct {
	db *sql.DB
}

// Open initializes the database with WAL mode and runs the schema.
// _txlock=immediate makes read-modify-write transactions serialize
// instead of failing busy under concurrent workers.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for layers that run their own transactions
// (quota service).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL DEFAULT 'user',
		permissions TEXT NOT NULL DEFAULT '[]',
		limits TEXT NOT NULL DEFAULT '{}',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		locale TEXT NOT NULL DEFAULT 'en',
		defaults TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		account_key TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		last_used_at TEXT,
		UNIQUE (tenant_id, platform, account_key)
	);

	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		credential_id TEXT,
		settings TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS presets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		platform TEXT NOT NULL,
		credential_id TEXT NOT NULL,
		defaults TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'draft',
		priority INTEGER NOT NULL DEFAULT 0,
		config TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_templates_tenant ON templates(tenant_id, state);

	CREATE TABLE IF NOT EXISTS match_rules (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		match_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_match_rules_template ON match_rules(template_id);

	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source_id TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL DEFAULT '',
		is_mapped INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL,
		start_time TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		blank_record INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		failed_at_stage TEXT NOT NULL DEFAULT '',
		failed_reason TEXT NOT NULL DEFAULT '',
		failed_at TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		source_path TEXT NOT NULL DEFAULT '',
		processed_video_path TEXT NOT NULL DEFAULT '',
		processed_audio_path TEXT NOT NULL DEFAULT '',
		transcription_dir TEXT NOT NULL DEFAULT '',
		transcription_info TEXT NOT NULL DEFAULT '{}',
		topics TEXT NOT NULL DEFAULT '[]',
		topics_version INTEGER NOT NULL DEFAULT 0,
		config_snapshot TEXT NOT NULL DEFAULT '',
		override_config TEXT NOT NULL DEFAULT '{}',
		expire_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_tenant_status ON recordings(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_recordings_tenant_created ON recordings(tenant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_recordings_expire ON recordings(expire_at) WHERE expire_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS source_metadata (
		recording_id TEXT PRIMARY KEY REFERENCES recordings(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_key TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		UNIQUE (source_type, source_key)
	);

	CREATE TABLE IF NOT EXISTS output_targets (
		id TEXT PRIMARY KEY,
		recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		preset_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		target_meta TEXT NOT NULL DEFAULT '{}',
		uploaded_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_targets_recording ON output_targets(recording_id);

	CREATE TABLE IF NOT EXISTS processing_stages (
		id TEXT PRIMARY KEY,
		recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		runner TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		progress INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_stages_recording ON processing_stages(recording_id, started_at);

	CREATE TABLE IF NOT EXISTS quota_usage (
		tenant_id TEXT NOT NULL,
		period TEXT NOT NULL,
		recordings_this_period INTEGER NOT NULL DEFAULT 0,
		storage_bytes INTEGER NOT NULL DEFAULT 0,
		active_concurrent_processes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, period)
	);

	CREATE TABLE IF NOT EXISTS automation_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		schedule TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		sync_days INTEGER NOT NULL DEFAULT 1,
		last_run TEXT,
		next_run TEXT,
		last_status TEXT NOT NULL DEFAULT '',
		retry_max INTEGER NOT NULL DEFAULT 3,
		retry_delay INTEGER NOT NULL DEFAULT 60,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON automation_jobs(enabled, next_run);

	CREATE TABLE IF NOT EXISTS automation_runs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		counts TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		retry_attempt INTEGER NOT NULL DEFAULT 0,
		dry_run INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON automation_runs(job_id, started_at);

	CREATE TABLE IF NOT EXISTS run_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		recording_id TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '{}',
		at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_log_tenant_at ON run_log(tenant_id, at);
	CREATE INDEX IF NOT EXISTS idx_run_log_recording ON run_log(recording_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// inTx runs fn inside a transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerr.Wrap(xerr.KindInternal, "commit tx", err)
	}
	return nil
}

// ---- column codec helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return xerr.Ef(xerr.KindNotFound, "%s not found", what)
	}
	return xerr.Wrap(xerr.KindInternal, "query "+what, err)
}

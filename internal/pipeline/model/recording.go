// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"encoding/json"
	"time"
)

const (
	// BlankDuration and BlankSizeBytes classify a recording as blank.
	// Blank records are created but never pipelined.
	BlankDuration  = 20 * time.Minute
	BlankSizeBytes = 25 * 1024 * 1024
)

// Recording is the central entity: an ingested video and everything
// derived from it. File paths are relative to the tenant root; absolute
// resolution belongs to the storage path builder.
type Recording struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	SourceID        string     `json:"source_id"`
	TemplateID      string     `json:"template_id,omitempty"` // empty = unmapped
	IsMapped        bool       `json:"is_mapped"`
	DisplayName     string     `json:"display_name"`
	StartTime       time.Time  `json:"start_time"`
	DurationSeconds int64      `json:"duration_seconds"`
	SizeBytes       int64      `json:"size_bytes"`
	BlankRecord     bool       `json:"blank_record"`

	Status        Status     `json:"status"`
	Failed        bool       `json:"failed"`
	FailedAtStage Stage      `json:"failed_at_stage,omitempty"`
	FailedReason  string     `json:"failed_reason,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	RetryCount    int        `json:"retry_count"`

	// Relative artifact paths.
	SourcePath         string `json:"source_path,omitempty"`
	ProcessedVideoPath string `json:"processed_video_path,omitempty"`
	ProcessedAudioPath string `json:"processed_audio_path,omitempty"`
	TranscriptionDir   string `json:"transcription_dir,omitempty"`

	TranscriptionInfo map[string]any `json:"transcription_info,omitempty"`
	Topics            []Topic        `json:"topics,omitempty"`
	TopicsVersion     int            `json:"topics_version,omitempty"`

	// ConfigSnapshot is captured when the pipeline first advances past
	// INITIALIZED and is immutable for the life of that run.
	ConfigSnapshot json.RawMessage `json:"config_snapshot,omitempty"`

	ExpireAt  *time.Time `json:"expire_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasSnapshot reports whether the effective config snapshot is captured.
func (r *Recording) HasSnapshot() bool {
	return len(r.ConfigSnapshot) > 0
}

// IsBlank classifies a candidate by the blank-record thresholds.
func IsBlank(duration time.Duration, sizeBytes int64) bool {
	return duration < BlankDuration || sizeBytes < BlankSizeBytes
}

// SourceMetadata is the raw provider payload for a recording.
// (source_type, source_key) is unique across the whole system so a sync
// never ingests the same remote recording twice.
type SourceMetadata struct {
	RecordingID string         `json:"recording_id"`
	SourceType  string         `json:"source_type"`
	SourceKey   string         `json:"source_key"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Topic is one entry of the extracted topic list.
type Topic struct {
	Title  string  `json:"title"`
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Break  bool    `json:"break,omitempty"` // a silence gap, not a spoken topic
}

// OutputTarget is one (recording, platform) upload with its own sub-state.
type OutputTarget struct {
	ID          string         `json:"id"`
	RecordingID string         `json:"recording_id"`
	TenantID    string         `json:"tenant_id"`
	Platform    Platform       `json:"platform"`
	PresetID    string         `json:"preset_id,omitempty"`
	Status      TargetStatus   `json:"status"`
	Failed      bool           `json:"failed"`
	RetryCount  int            `json:"retry_count"`
	TargetMeta  map[string]any `json:"target_meta,omitempty"` // remote id, url, privacy, playlist
	UploadedAt  *time.Time     `json:"uploaded_at,omitempty"`
	UpdatedAt   time.Time      `json:"last_updated_at"`
}

// StageRecord is the append-only per-stage execution row.
type StageRecord struct {
	ID          string     `json:"id"`
	RecordingID string     `json:"recording_id"`
	TenantID    string     `json:"tenant_id"`
	RunID       string     `json:"run_id"`
	Runner      Runner     `json:"runner"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Progress    int        `json:"progress"` // 0..100, monotone within a run
	Result      string     `json:"result"`   // ok, failed, cancelled
	Error       string     `json:"error,omitempty"`
}

// ProgressEvent is emitted by the executor while a run is active.
type ProgressEvent struct {
	RecordingID string    `json:"recording_id"`
	RunID       string    `json:"run_id"`
	Runner      Runner    `json:"runner"`
	Percent     int       `json:"percent"` // 0..100 across the whole run
	At          time.Time `json:"at"`
}

// Candidate is a remote recording discovered by a source adapter sync.
type Candidate struct {
	SourceType      string         `json:"source_type"`
	SourceKey       string         `json:"source_key"`
	DisplayName     string         `json:"display_name"`
	StartTime       time.Time      `json:"start_time"`
	DurationSeconds int64          `json:"duration_seconds"`
	SizeBytes       int64          `json:"size_bytes"`
	Payload         map[string]any `json:"payload,omitempty"`
}

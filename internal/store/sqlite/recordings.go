// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

const recordingColumns = `id, tenant_id, source_id, template_id, is_mapped, display_name,
	start_time, duration_seconds, size_bytes, blank_record,
	status, failed, failed_at_stage, failed_reason, failed_at, retry_count,
	source_path, processed_video_path, processed_audio_path, transcription_dir,
	transcription_info, topics, topics_version, config_snapshot, expire_at,
	created_at, updated_at`

// InsertRecording stores a new recording together with its raw source
// metadata in one transaction. A duplicate (source_type, source_key)
// conflicts, which is how a sync stays idempotent.
func (s *Store) InsertRecording(ctx context.Context, t tenant.Context, rec *model.Recording, meta *model.SourceMetadata) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		info, topics, err := encodeRecordingDocs(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recordings (`+recordingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, t.ID(), rec.SourceID, rec.TemplateID, rec.IsMapped, rec.DisplayName,
			fmtTime(rec.StartTime), rec.DurationSeconds, rec.SizeBytes, rec.BlankRecord,
			rec.Status, rec.Failed, rec.FailedAtStage, rec.FailedReason, fmtTimePtr(rec.FailedAt), rec.RetryCount,
			rec.SourcePath, rec.ProcessedVideoPath, rec.ProcessedAudioPath, rec.TranscriptionDir,
			info, topics, rec.TopicsVersion, string(rec.ConfigSnapshot), fmtTimePtr(rec.ExpireAt),
			fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
		if err != nil {
			return xerr.Wrap(xerr.KindInternal, "insert recording", err)
		}
		if meta != nil {
			payload, err := marshalDoc(meta.Payload)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO source_metadata (recording_id, tenant_id, source_type, source_key, payload)
				VALUES (?, ?, ?, ?, ?)`,
				rec.ID, t.ID(), meta.SourceType, meta.SourceKey, string(payload)); err != nil {
				if strings.Contains(err.Error(), "UNIQUE") {
					return xerr.Ef(xerr.KindConflict, "recording %s/%s already ingested", meta.SourceType, meta.SourceKey)
				}
				return xerr.Wrap(xerr.KindInternal, "insert source metadata", err)
			}
		}
		return nil
	})
}

// GetRecording loads one recording, tenant-filtered.
func (s *Store) GetRecording(ctx context.Context, t tenant.Context, id string) (*model.Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	rec, err := scanRecording(row)
	if err != nil {
		return nil, notFound(err, "recording")
	}
	return rec, nil
}

// UpdateRecording persists every mutable field of the recording.
func (s *Store) UpdateRecording(ctx context.Context, t tenant.Context, rec *model.Recording) error {
	info, topics, err := encodeRecordingDocs(rec)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET
			template_id = ?, is_mapped = ?, display_name = ?,
			status = ?, failed = ?, failed_at_stage = ?, failed_reason = ?, failed_at = ?, retry_count = ?,
			blank_record = ?, size_bytes = ?, duration_seconds = ?,
			source_path = ?, processed_video_path = ?, processed_audio_path = ?, transcription_dir = ?,
			transcription_info = ?, topics = ?, topics_version = ?, config_snapshot = ?,
			expire_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rec.TemplateID, rec.IsMapped, rec.DisplayName,
		rec.Status, rec.Failed, rec.FailedAtStage, rec.FailedReason, fmtTimePtr(rec.FailedAt), rec.RetryCount,
		rec.BlankRecord, rec.SizeBytes, rec.DurationSeconds,
		rec.SourcePath, rec.ProcessedVideoPath, rec.ProcessedAudioPath, rec.TranscriptionDir,
		info, topics, rec.TopicsVersion, string(rec.ConfigSnapshot),
		fmtTimePtr(rec.ExpireAt), fmtTime(rec.UpdatedAt),
		t.ID(), rec.ID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "update recording", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "recording not found")
	}
	return nil
}

// RecordingFilter is the list-filter shape shared by queries and bulk ops.
type RecordingFilter struct {
	Statuses     []model.Status
	Failed       *bool
	Blank        *bool
	TemplateID   string
	SourceID     string
	IsMapped     *bool
	From, To     *time.Time
	NameContains string
	Limit        int
}

// ListRecordings returns the tenant's recordings matching the filter,
// newest first.
func (s *Store) ListRecordings(ctx context.Context, t tenant.Context, f RecordingFilter) ([]model.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE tenant_id = ?`
	args := []any{t.ID()}
	if len(f.Statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(",?", len(f.Statuses)-1) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Failed != nil {
		q += ` AND failed = ?`
		args = append(args, *f.Failed)
	}
	if f.Blank != nil {
		q += ` AND blank_record = ?`
		args = append(args, *f.Blank)
	}
	if f.TemplateID != "" {
		q += ` AND template_id = ?`
		args = append(args, f.TemplateID)
	}
	if f.SourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}
	if f.IsMapped != nil {
		q += ` AND is_mapped = ?`
		args = append(args, *f.IsMapped)
	}
	if f.From != nil {
		q += ` AND start_time >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		q += ` AND start_time < ?`
		args = append(args, fmtTime(*f.To))
	}
	if f.NameContains != "" {
		q += ` AND display_name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.NameContains)+"%")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list recordings", err)
	}
	defer rows.Close()
	var out []model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan recording", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ExpiredRecordings returns recordings whose expire_at is in the past,
// across all tenants, for the expiry sweep.
func (s *Store) ExpiredRecordings(ctx context.Context, now time.Time, limit int) ([]model.Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE expire_at IS NOT NULL AND expire_at < ? AND status != ?
		 ORDER BY expire_at LIMIT ?`, fmtTime(now), model.StatusExpired, limit)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list expired recordings", err)
	}
	defer rows.Close()
	var out []model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan recording", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteRecording removes the recording row and everything referencing
// it. Files and quota are the caller's concern.
func (s *Store) DeleteRecording(ctx context.Context, t tenant.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM recordings WHERE tenant_id = ? AND id = ?`, t.ID(), id)
		if err != nil {
			return xerr.Wrap(xerr.KindInternal, "delete recording", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return xerr.E(xerr.KindNotFound, "recording not found")
		}
		// Cascades cover source_metadata, output_targets and
		// processing_stages; the run log is scrubbed explicitly.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM run_log WHERE tenant_id = ? AND recording_id = ?`, t.ID(), id); err != nil {
			return xerr.Wrap(xerr.KindInternal, "scrub run log", err)
		}
		return nil
	})
}

// RecordingOverride returns the per-recording config override document.
// Part of the config resolver's store contract.
func (s *Store) RecordingOverride(ctx context.Context, t tenant.Context, recordingID string) (map[string]any, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT override_config FROM recordings WHERE tenant_id = ? AND id = ?`, t.ID(), recordingID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "recording")
	}
	return unmarshalDoc(doc)
}

// SetRecordingOverride replaces the per-recording override document.
func (s *Store) SetRecordingOverride(ctx context.Context, t tenant.Context, recordingID string, doc map[string]any) error {
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET override_config = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(raw), fmtTime(time.Now()), t.ID(), recordingID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "set recording override", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "recording not found")
	}
	return nil
}

// SourceMetadataFor loads the raw provider payload of a recording.
func (s *Store) SourceMetadataFor(ctx context.Context, t tenant.Context, recordingID string) (*model.SourceMetadata, error) {
	var (
		m       model.SourceMetadata
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT recording_id, source_type, source_key, payload
		FROM source_metadata WHERE tenant_id = ? AND recording_id = ?`, t.ID(), recordingID).
		Scan(&m.RecordingID, &m.SourceType, &m.SourceKey, &payload)
	if err != nil {
		return nil, notFound(err, "source metadata")
	}
	if m.Payload, err = unmarshalDoc(payload); err != nil {
		return nil, err
	}
	return &m, nil
}

// SourceKeyExists reports whether a remote recording was already
// ingested. The (source_type, source_key) pair is globally unique.
func (s *Store) SourceKeyExists(ctx context.Context, sourceType, sourceKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM source_metadata WHERE source_type = ? AND source_key = ?`, sourceType, sourceKey).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, xerr.Wrap(xerr.KindInternal, "check source key", err)
}

func encodeRecordingDocs(rec *model.Recording) (info string, topics string, err error) {
	infoRaw, err := marshalDoc(rec.TranscriptionInfo)
	if err != nil {
		return "", "", err
	}
	if rec.Topics == nil {
		return string(infoRaw), "[]", nil
	}
	topicsRaw, err := json.Marshal(rec.Topics)
	if err != nil {
		return "", "", xerr.Wrap(xerr.KindValidation, "encode topics", err)
	}
	return string(infoRaw), string(topicsRaw), nil
}

func scanRecording(r rowScanner) (*model.Recording, error) {
	var (
		rec                            model.Recording
		startTime, createdAt, updated  string
		failedAt, expireAt             sql.NullString
		infoJSON, topicsJSON, snapshot string
	)
	err := r.Scan(&rec.ID, &rec.TenantID, &rec.SourceID, &rec.TemplateID, &rec.IsMapped, &rec.DisplayName,
		&startTime, &rec.DurationSeconds, &rec.SizeBytes, &rec.BlankRecord,
		&rec.Status, &rec.Failed, &rec.FailedAtStage, &rec.FailedReason, &failedAt, &rec.RetryCount,
		&rec.SourcePath, &rec.ProcessedVideoPath, &rec.ProcessedAudioPath, &rec.TranscriptionDir,
		&infoJSON, &topicsJSON, &rec.TopicsVersion, &snapshot, &expireAt,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if rec.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	rec.FailedAt = scanNullTime(failedAt)
	rec.ExpireAt = scanNullTime(expireAt)
	if rec.TranscriptionInfo, err = unmarshalDoc(infoJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topicsJSON), &rec.Topics); err != nil {
		return nil, err
	}
	if snapshot != "" {
		rec.ConfigSnapshot = json.RawMessage(snapshot)
	}
	return &rec, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

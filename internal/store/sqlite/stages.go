// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// InsertStageRecord appends a stage execution row at stage start.
func (s *Store) InsertStageRecord(ctx context.Context, t tenant.Context, sr *model.StageRecord) error {
	if sr.ID == "" {
		sr.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_stages (id, recording_id, tenant_id, run_id, runner, started_at, progress, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RecordingID, t.ID(), sr.RunID, sr.Runner, fmtTime(sr.StartedAt), sr.Progress, sr.Result)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "insert stage record", err)
	}
	return nil
}

// CompleteStageRecord finalizes a stage row with its outcome.
func (s *Store) CompleteStageRecord(ctx context.Context, t tenant.Context, sr *model.StageRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_stages SET
			completed_at = ?, duration_ms = ?, progress = ?, result = ?, error = ?
		WHERE tenant_id = ? AND id = ?`,
		fmtTimePtr(sr.CompletedAt), sr.DurationMS, sr.Progress, sr.Result, sr.Error,
		t.ID(), sr.ID)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "complete stage record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "stage record not found")
	}
	return nil
}

// StagesForRecording returns all stage rows for a recording, oldest
// first. Multiple runs interleave by started_at.
func (s *Store) StagesForRecording(ctx context.Context, t tenant.Context, recordingID string) ([]model.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, tenant_id, run_id, runner, started_at, completed_at, duration_ms, progress, result, error
		FROM processing_stages
		WHERE tenant_id = ? AND recording_id = ?
		ORDER BY started_at, rowid`, t.ID(), recordingID)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list stage records", err)
	}
	defer rows.Close()
	var out []model.StageRecord
	for rows.Next() {
		var (
			sr          model.StageRecord
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&sr.ID, &sr.RecordingID, &sr.TenantID, &sr.RunID, &sr.Runner,
			&startedAt, &completedAt, &sr.DurationMS, &sr.Progress, &sr.Result, &sr.Error); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan stage record", err)
		}
		if sr.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		sr.CompletedAt = scanNullTime(completedAt)
		out = append(out, sr)
	}
	return out, rows.Err()
}

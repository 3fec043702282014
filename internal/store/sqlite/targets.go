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

const targetColumns = `id, recording_id, tenant_id, platform, preset_id,
	status, failed, retry_count, target_meta, uploaded_at, updated_at`

// UpsertTarget inserts or replaces one output target.
func (s *Store) UpsertTarget(ctx context.Context, t tenant.Context, ot *model.OutputTarget) error {
	if ot.ID == "" {
		ot.ID = uuid.NewString()
	}
	meta, err := marshalDoc(ot.TargetMeta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO output_targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			failed = excluded.failed,
			retry_count = excluded.retry_count,
			target_meta = excluded.target_meta,
			uploaded_at = excluded.uploaded_at,
			updated_at = excluded.updated_at
		WHERE output_targets.tenant_id = excluded.tenant_id`,
		ot.ID, ot.RecordingID, t.ID(), ot.Platform, ot.PresetID,
		ot.Status, ot.Failed, ot.RetryCount, string(meta), fmtTimePtr(ot.UploadedAt), fmtTime(ot.UpdatedAt))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "upsert output target", err)
	}
	return nil
}

// TargetsForRecording returns the recording's output targets in
// creation order.
func (s *Store) TargetsForRecording(ctx context.Context, t tenant.Context, recordingID string) ([]model.OutputTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM output_targets
		 WHERE tenant_id = ? AND recording_id = ? ORDER BY rowid`, t.ID(), recordingID)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list output targets", err)
	}
	defer rows.Close()
	var out []model.OutputTarget
	for rows.Next() {
		ot, err := scanTarget(rows)
		if err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan output target", err)
		}
		out = append(out, *ot)
	}
	return out, rows.Err()
}

// GetTarget loads one output target.
func (s *Store) GetTarget(ctx context.Context, t tenant.Context, id string) (*model.OutputTarget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM output_targets WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	ot, err := scanTarget(row)
	if err != nil {
		return nil, notFound(err, "output target")
	}
	return ot, nil
}

func scanTarget(r rowScanner) (*model.OutputTarget, error) {
	var (
		ot                   model.OutputTarget
		meta, updated        string
		uploadedAt           sql.NullString
	)
	err := r.Scan(&ot.ID, &ot.RecordingID, &ot.TenantID, &ot.Platform, &ot.PresetID,
		&ot.Status, &ot.Failed, &ot.RetryCount, &meta, &uploadedAt, &updated)
	if err != nil {
		return nil, err
	}
	if ot.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	ot.UploadedAt = scanNullTime(uploadedAt)
	if ot.TargetMeta, err = unmarshalDoc(meta); err != nil {
		return nil, err
	}
	return &ot, nil
}

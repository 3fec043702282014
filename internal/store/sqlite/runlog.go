// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"time"

	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// RunLogEntry is one append-only audit event.
type RunLogEntry struct {
	ID          int64          `json:"id"`
	TenantID    string         `json:"tenant_id"`
	RecordingID string         `json:"recording_id,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Event       string         `json:"event"`
	Detail      map[string]any `json:"detail,omitempty"`
	At          time.Time      `json:"at"`
}

// AppendRunLog writes one audit event. Never updated, only deleted
// together with its recording.
func (s *Store) AppendRunLog(ctx context.Context, e *RunLogEntry) error {
	detail, err := marshalDoc(e.Detail)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_log (tenant_id, recording_id, run_id, event, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TenantID, e.RecordingID, e.RunID, e.Event, string(detail), fmtTime(e.At))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "append run log", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// RunLogFilter narrows a run-log query.
type RunLogFilter struct {
	RecordingID string
	RunID       string
	Event       string
	From, To    *time.Time
	Limit       int
}

// QueryRunLog returns the tenant's audit events matching the filter,
// newest first.
func (s *Store) QueryRunLog(ctx context.Context, t tenant.Context, f RunLogFilter) ([]RunLogEntry, error) {
	q := `SELECT id, tenant_id, recording_id, run_id, event, detail, at FROM run_log WHERE tenant_id = ?`
	args := []any{t.ID()}
	if f.RecordingID != "" {
		q += ` AND recording_id = ?`
		args = append(args, f.RecordingID)
	}
	if f.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Event != "" {
		q += ` AND event = ?`
		args = append(args, f.Event)
	}
	if f.From != nil {
		q += ` AND at >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		q += ` AND at < ?`
		args = append(args, fmtTime(*f.To))
	}
	q += ` ORDER BY at DESC, id DESC`
	if f.Limit <= 0 {
		f.Limit = 200
	}
	q += ` LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "query run log", err)
	}
	defer rows.Close()
	var out []RunLogEntry
	for rows.Next() {
		var (
			e      RunLogEntry
			detail string
			at     string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.RecordingID, &e.RunID, &e.Event, &detail, &at); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan run log", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		if e.Detail, err = unmarshalDoc(detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// UpsertPreset creates or replaces a credential/defaults pairing.
func (s *Store) UpsertPreset(ctx context.Context, t tenant.Context, p *model.Preset) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	defaults, err := marshalDoc(p.Defaults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO presets (id, tenant_id, name, platform, credential_id, defaults, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			platform = excluded.platform,
			credential_id = excluded.credential_id,
			defaults = excluded.defaults
		WHERE presets.tenant_id = excluded.tenant_id`,
		p.ID, t.ID(), p.Name, p.Platform, p.CredentialID, string(defaults), fmtTime(p.CreatedAt))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "upsert preset", err)
	}
	return nil
}

// GetPreset loads one preset, tenant-filtered.
func (s *Store) GetPreset(ctx context.Context, t tenant.Context, id string) (*model.Preset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, platform, credential_id, defaults, created_at
		FROM presets WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerr.E(xerr.KindNotFound, "preset not found")
	}
	return p, err
}

// ListPresets returns the tenant's presets.
func (s *Store) ListPresets(ctx context.Context, t tenant.Context) ([]model.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, platform, credential_id, defaults, created_at
		FROM presets WHERE tenant_id = ? ORDER BY name`, t.ID())
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list presets", err)
	}
	defer rows.Close()

	var out []model.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePreset removes one preset.
func (s *Store) DeletePreset(ctx context.Context, t tenant.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM presets WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "delete preset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "preset not found")
	}
	return nil
}

func scanPreset(r rowScanner) (*model.Preset, error) {
	var (
		p        model.Preset
		defaults string
		created  string
	)
	if err := r.Scan(&p.ID, &p.TenantID, &p.Name, &p.Platform, &p.CredentialID, &defaults, &created); err != nil {
		return nil, err
	}
	doc, err := unmarshalDoc(defaults)
	if err != nil {
		return nil, err
	}
	p.Defaults = doc
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}

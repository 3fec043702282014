// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"

	"github.com/google/uuid"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// UpsertSource creates or replaces an ingestion source.
func (s *Store) UpsertSource(ctx context.Context, t tenant.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	settings, err := marshalDoc(src.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, tenant_id, type, name, credential_id, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			credential_id = excluded.credential_id,
			settings = excluded.settings
		WHERE sources.tenant_id = excluded.tenant_id`,
		src.ID, t.ID(), src.Type, src.Name, src.CredentialID, string(settings), fmtTime(src.CreatedAt))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "upsert source", err)
	}
	return nil
}

// GetSource loads one source.
func (s *Store) GetSource(ctx context.Context, t tenant.Context, id string) (*model.Source, error) {
	var (
		src          model.Source
		settingsJSON string
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, name, COALESCE(credential_id, ''), settings, created_at
		FROM sources WHERE tenant_id = ? AND id = ?`, t.ID(), id).
		Scan(&src.ID, &src.TenantID, &src.Type, &src.Name, &src.CredentialID, &settingsJSON, &createdAt)
	if err != nil {
		return nil, notFound(err, "source")
	}
	if src.Settings, err = unmarshalDoc(settingsJSON); err != nil {
		return nil, err
	}
	if src.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode source time", err)
	}
	return &src, nil
}

// ListSources returns the tenant's sources.
func (s *Store) ListSources(ctx context.Context, t tenant.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, type, name, COALESCE(credential_id, ''), settings, created_at
		FROM sources WHERE tenant_id = ? ORDER BY created_at`, t.ID())
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list sources", err)
	}
	defer rows.Close()
	var out []model.Source
	for rows.Next() {
		var (
			src          model.Source
			settingsJSON string
			createdAt    string
		)
		if err := rows.Scan(&src.ID, &src.TenantID, &src.Type, &src.Name, &src.CredentialID, &settingsJSON, &createdAt); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan source", err)
		}
		if src.Settings, err = unmarshalDoc(settingsJSON); err != nil {
			return nil, err
		}
		if src.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "decode source time", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

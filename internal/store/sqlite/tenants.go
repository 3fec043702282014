// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// TenantRow is the persisted tenant account.
type TenantRow struct {
	ID          string              `json:"id"`
	Role        tenant.Role         `json:"role"`
	Permissions []tenant.Permission `json:"permissions"`
	Limits      tenant.Limits       `json:"limits"`
	Timezone    string              `json:"timezone"`
	Locale      string              `json:"locale"`
	Defaults    map[string]any      `json:"defaults"`
	CreatedAt   time.Time           `json:"created_at"`
}

// UpsertTenant creates or replaces a tenant account row.
func (s *Store) UpsertTenant(ctx context.Context, row TenantRow) error {
	perms, err := json.Marshal(row.Permissions)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode permissions", err)
	}
	limits, err := json.Marshal(row.Limits)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode limits", err)
	}
	defaults, err := marshalDoc(row.Defaults)
	if err != nil {
		return err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, role, permissions, limits, timezone, locale, defaults, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			permissions = excluded.permissions,
			limits = excluded.limits,
			timezone = excluded.timezone,
			locale = excluded.locale`,
		row.ID, row.Role, string(perms), string(limits), row.Timezone, row.Locale, string(defaults), fmtTime(row.CreatedAt))
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "upsert tenant", err)
	}
	return nil
}

// TenantContext loads a tenant row and builds the capability context the
// rest of the core operates on.
func (s *Store) TenantContext(ctx context.Context, id string) (tenant.Context, error) {
	var (
		role, permsJSON, limitsJSON, tz, locale string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT role, permissions, limits, timezone, locale FROM tenants WHERE id = ?`, id).
		Scan(&role, &permsJSON, &limitsJSON, &tz, &locale)
	if err != nil {
		return tenant.Context{}, notFound(err, "tenant")
	}
	var perms []tenant.Permission
	if err := json.Unmarshal([]byte(permsJSON), &perms); err != nil {
		return tenant.Context{}, xerr.Wrap(xerr.KindInternal, "decode permissions", err)
	}
	var limits tenant.Limits
	if err := json.Unmarshal([]byte(limitsJSON), &limits); err != nil {
		return tenant.Context{}, xerr.Wrap(xerr.KindInternal, "decode limits", err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return tenant.New(id, tenant.Role(role), perms, limits, loc, locale), nil
}

// TenantDefaults returns the tenant's default config document.
// Part of the config resolver's store contract.
func (s *Store) TenantDefaults(ctx context.Context, t tenant.Context) (map[string]any, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT defaults FROM tenants WHERE id = ?`, t.ID()).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return unmarshalDoc(doc)
}

// SetTenantDefaults replaces the tenant's default config document.
func (s *Store) SetTenantDefaults(ctx context.Context, t tenant.Context, doc map[string]any) error {
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET defaults = ? WHERE id = ?`, string(raw), t.ID())
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "set tenant defaults", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "tenant not found")
	}
	return nil
}

// ---- JSON document helpers shared by the repositories ----

func marshalDoc(doc map[string]any) ([]byte, error) {
	if doc == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindValidation, "encode config document", err)
	}
	return raw, nil
}

func unmarshalDoc(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode config document", err)
	}
	return doc, nil
}

func scanNullTime(ns sql.NullString) *time.Time {
	t, err := parseTimePtr(ns)
	if err != nil {
		return nil
	}
	return t
}

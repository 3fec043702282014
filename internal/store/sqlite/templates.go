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

// SaveTemplate inserts or replaces a template together with its rules.
// Rules are replaced wholesale; their ids are assigned here when empty.
func (s *Store) SaveTemplate(ctx context.Context, t tenant.Context, tpl *model.Template) error {
	cfg, err := marshalDoc(tpl.Config)
	if err != nil {
		return err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO templates (id, tenant_id, name, state, priority, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				state = excluded.state,
				priority = excluded.priority,
				config = excluded.config,
				updated_at = excluded.updated_at
			WHERE templates.tenant_id = excluded.tenant_id`,
			tpl.ID, t.ID(), tpl.Name, tpl.State, tpl.Priority, string(cfg),
			fmtTime(tpl.CreatedAt), fmtTime(tpl.UpdatedAt))
		if err != nil {
			return xerr.Wrap(xerr.KindInternal, "save template", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM match_rules WHERE template_id = ? AND tenant_id = ?`, tpl.ID, t.ID()); err != nil {
			return xerr.Wrap(xerr.KindInternal, "clear template rules", err)
		}
		for i := range tpl.Rules {
			r := &tpl.Rules[i]
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.TemplateID = tpl.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO match_rules (id, template_id, tenant_id, match_type, pattern, source_type, source_id, priority)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, tpl.ID, t.ID(), r.MatchType, r.Pattern, r.SourceType, r.SourceID, r.Priority); err != nil {
				return xerr.Wrap(xerr.KindInternal, "save template rule", err)
			}
		}
		return nil
	})
}

// GetTemplate loads one template with its rules.
func (s *Store) GetTemplate(ctx context.Context, t tenant.Context, id string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, state, priority, config, created_at, updated_at
		FROM templates WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	tpl, err := scanTemplate(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, t, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListTemplates returns the tenant's templates with rules, optionally
// restricted to active ones. Order is priority desc, created asc, which
// is the matcher's evaluation order.
func (s *Store) ListTemplates(ctx context.Context, t tenant.Context, activeOnly bool) ([]model.Template, error) {
	q := `SELECT id, tenant_id, name, state, priority, config, created_at, updated_at
	      FROM templates WHERE tenant_id = ?`
	if activeOnly {
		q += ` AND state = 'active'`
	}
	q += ` ORDER BY priority DESC, created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, t.ID())
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list templates", err)
	}
	defer rows.Close()
	var out []model.Template
	for rows.Next() {
		tpl, err := scanTemplateRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list templates", err)
	}
	for i := range out {
		if err := s.loadRules(ctx, t, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteTemplate removes a template, its rules, and unbinds every
// recording that referenced it.
func (s *Store) DeleteTemplate(ctx context.Context, t tenant.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM templates WHERE tenant_id = ? AND id = ?`, t.ID(), id)
		if err != nil {
			return xerr.Wrap(xerr.KindInternal, "delete template", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return xerr.E(xerr.KindNotFound, "template not found")
		}
		// ON DELETE CASCADE covers match_rules; recordings are unbound.
		if _, err := tx.ExecContext(ctx, `
			UPDATE recordings SET template_id = '', is_mapped = 0
			WHERE tenant_id = ? AND template_id = ?`, t.ID(), id); err != nil {
			return xerr.Wrap(xerr.KindInternal, "unbind recordings", err)
		}
		return nil
	})
}

// TemplateConfig returns the template's config override document.
// Part of the config resolver's store contract.
func (s *Store) TemplateConfig(ctx context.Context, t tenant.Context, templateID string) (map[string]any, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM templates WHERE tenant_id = ? AND id = ?`, t.ID(), templateID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "template")
	}
	return unmarshalDoc(doc)
}

func (s *Store) loadRules(ctx context.Context, t tenant.Context, tpl *model.Template) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, match_type, pattern, source_type, source_id, priority
		FROM match_rules WHERE template_id = ? AND tenant_id = ?
		ORDER BY priority DESC, id ASC`, tpl.ID, t.ID())
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "load template rules", err)
	}
	defer rows.Close()
	tpl.Rules = nil
	for rows.Next() {
		var r model.MatchRule
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.MatchType, &r.Pattern, &r.SourceType, &r.SourceID, &r.Priority); err != nil {
			return xerr.Wrap(xerr.KindInternal, "scan rule", err)
		}
		tpl.Rules = append(tpl.Rules, r)
	}
	return rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTemplate(row *sql.Row) (*model.Template, error) {
	tpl, err := scanTemplateFrom(row)
	if err != nil {
		return nil, notFound(err, "template")
	}
	return tpl, nil
}

func scanTemplateRows(rows *sql.Rows) (*model.Template, error) {
	tpl, err := scanTemplateFrom(rows)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "scan template", err)
	}
	return tpl, nil
}

func scanTemplateFrom(r rowScanner) (*model.Template, error) {
	var (
		tpl                  model.Template
		cfgJSON              string
		createdAt, updatedAt string
	)
	if err := r.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.State, &tpl.Priority, &cfgJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if tpl.Config, err = unmarshalDoc(cfgJSON); err != nil {
		return nil, err
	}
	if tpl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode template time", err)
	}
	if tpl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode template time", err)
	}
	return &tpl, nil
}

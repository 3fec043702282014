// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// CreateTemplate validates and stores a new template. Templates start as
// drafts unless the caller explicitly activates them.
func (s *Service) CreateTemplate(ctx context.Context, t tenant.Context, tpl *model.Template) error {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return err
	}
	if tpl.Name == "" {
		return xerr.E(xerr.KindValidation, "template name is required")
	}
	if tpl.State == "" {
		tpl.State = model.TemplateDraft
	}
	for i := range tpl.Rules {
		if err := match.ValidateRule(tpl.Rules[i]); err != nil {
			return err
		}
	}
	tpl.ID = ""
	return s.store.SaveTemplate(ctx, t, tpl)
}

// UpdateTemplate replaces a template's rules and config.
func (s *Service) UpdateTemplate(ctx context.Context, t tenant.Context, tpl *model.Template) error {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return err
	}
	if tpl.ID == "" {
		return xerr.E(xerr.KindValidation, "template id is required")
	}
	if _, err := s.store.GetTemplate(ctx, t, tpl.ID); err != nil {
		return err
	}
	for i := range tpl.Rules {
		if err := match.ValidateRule(tpl.Rules[i]); err != nil {
			return err
		}
	}
	return s.store.SaveTemplate(ctx, t, tpl)
}

// GetTemplate loads one template with its rules.
func (s *Service) GetTemplate(ctx context.Context, t tenant.Context, id string) (*model.Template, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.GetTemplate(ctx, t, id)
}

// ListTemplates returns the tenant's templates.
func (s *Service) ListTemplates(ctx context.Context, t tenant.Context, activeOnly bool) ([]model.Template, error) {
	if err := s.gate(t, ""); err != nil {
		return nil, err
	}
	return s.store.ListTemplates(ctx, t, activeOnly)
}

// DeleteTemplate removes a template; bound recordings become unmapped.
func (s *Service) DeleteTemplate(ctx context.Context, t tenant.Context, id string) error {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return err
	}
	return s.store.DeleteTemplate(ctx, t, id)
}

// RematchTemplates re-evaluates template bindings. With all=false only
// unmapped recordings are considered; with all=true existing bindings may
// move to a better match. Two consecutive invocations yield identical
// bindings.
func (s *Service) RematchTemplates(ctx context.Context, t tenant.Context, all bool) (int, error) {
	if err := s.gate(t, tenant.PermCreateTemplates); err != nil {
		return 0, err
	}
	templates, err := s.store.ListTemplates(ctx, t, true)
	if err != nil {
		return 0, err
	}

	filter := sqlite.RecordingFilter{}
	if !all {
		mapped := false
		filter.IsMapped = &mapped
	}
	recs, err := s.store.ListRecordings(ctx, t, filter)
	if err != nil {
		return 0, err
	}

	sourceTypes := make(map[string]string)
	rebound := 0
	for i := range recs {
		rec := &recs[i]
		st, ok := sourceTypes[rec.SourceID]
		if !ok {
			src, err := s.store.GetSource(ctx, t, rec.SourceID)
			if err != nil {
				if xerr.IsKind(err, xerr.KindNotFound) {
					continue
				}
				return rebound, err
			}
			st = src.Type
			sourceTypes[rec.SourceID] = st
		}

		tplID, bound := s.matcher.Bind(rec, st, templates)
		if !bound || tplID == rec.TemplateID {
			continue
		}
		rec.TemplateID = tplID
		rec.IsMapped = true
		if err := s.store.UpdateRecording(ctx, t, rec); err != nil {
			return rebound, err
		}
		rebound++
		s.audit.Record(ctx, t.ID(), rec.ID, "", audit.EventTemplateBound, map[string]any{
			"template_id": tplID,
			"rematch":     true,
		})
	}
	return rebound, nil
}

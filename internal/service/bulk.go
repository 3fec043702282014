// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// BulkSelector names the affected set: an explicit id list or a filter,
// never both.
type BulkSelector struct {
	RecordingIDs []string
	Filter       *sqlite.RecordingFilter
}

// BulkResult reports what a bulk operation touched (or, for a dry run,
// would touch).
type BulkResult struct {
	Affected []string          `json:"affected"`
	Errors   map[string]string `json:"errors,omitempty"`
	DryRun   bool              `json:"dry_run"`
}

func (s *Service) resolveSelector(ctx context.Context, t tenant.Context, sel BulkSelector) ([]model.Recording, error) {
	switch {
	case len(sel.RecordingIDs) > 0 && sel.Filter != nil:
		return nil, xerr.E(xerr.KindValidation, "bulk selector takes ids or filters, not both")
	case len(sel.RecordingIDs) > 0:
		out := make([]model.Recording, 0, len(sel.RecordingIDs))
		for _, id := range sel.RecordingIDs {
			rec, err := s.store.GetRecording(ctx, t, id)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
		return out, nil
	case sel.Filter != nil:
		return s.store.ListRecordings(ctx, t, *sel.Filter)
	default:
		return nil, xerr.E(xerr.KindValidation, "bulk selector is empty")
	}
}

// BulkDelete removes every selected recording. Per-recording failures are
// collected, not fatal.
func (s *Service) BulkDelete(ctx context.Context, t tenant.Context, sel BulkSelector, dryRun bool) (BulkResult, error) {
	if err := s.gate(t, tenant.PermDeleteRecordings); err != nil {
		return BulkResult{}, err
	}
	return s.bulk(ctx, t, sel, dryRun, s.DeleteRecording)
}

// BulkRetry resumes every selected failed recording from its checkpoint.
func (s *Service) BulkRetry(ctx context.Context, t tenant.Context, sel BulkSelector, dryRun bool) (BulkResult, error) {
	if err := s.gate(t, ""); err != nil {
		return BulkResult{}, err
	}
	return s.bulk(ctx, t, sel, dryRun, s.RetryRecording)
}

func (s *Service) bulk(ctx context.Context, t tenant.Context, sel BulkSelector, dryRun bool, op func(context.Context, tenant.Context, string) error) (BulkResult, error) {
	recs, err := s.resolveSelector(ctx, t, sel)
	if err != nil {
		return BulkResult{}, err
	}
	res := BulkResult{DryRun: dryRun}
	for i := range recs {
		id := recs[i].ID
		if dryRun {
			res.Affected = append(res.Affected, id)
			continue
		}
		if err := op(ctx, t, id); err != nil {
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[id] = err.Error()
			continue
		}
		res.Affected = append(res.Affected, id)
	}
	return res, nil
}

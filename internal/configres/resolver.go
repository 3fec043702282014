// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package configres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuGH/mediapress/internal/cache"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Store supplies the three raw config layers. Implementations are
// tenant-scoped; a missing layer is an empty map, not an error.
type Store interface {
	TenantDefaults(ctx context.Context, t tenant.Context) (map[string]any, error)
	TemplateConfig(ctx context.Context, t tenant.Context, templateID string) (map[string]any, error)
	RecordingOverride(ctx context.Context, t tenant.Context, recordingID string) (map[string]any, error)
}

// Resolver composes effective configs and manages the per-run snapshot.
type Resolver struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
}

// New builds a resolver. The cache holds tenant-default documents only;
// template and override layers are always read live so edits propagate
// immediately to un-snapshotted recordings.
func New(store Store, c cache.Cache) *Resolver {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Resolver{store: store, cache: c, ttl: 5 * time.Minute}
}

// Live merges the three layers fresh from the store.
func (r *Resolver) Live(ctx context.Context, t tenant.Context, rec *model.Recording) (map[string]any, error) {
	defaults, err := r.tenantDefaults(ctx, t)
	if err != nil {
		return nil, err
	}
	layers := []map[string]any{defaults}

	if rec.TemplateID != "" {
		tpl, err := r.store.TemplateConfig(ctx, t, rec.TemplateID)
		if err != nil {
			return nil, err
		}
		layers = append(layers, tpl)
	}

	override, err := r.store.RecordingOverride(ctx, t, rec.ID)
	if err != nil {
		return nil, err
	}
	layers = append(layers, override)

	return Merge(layers...), nil
}

// Effective returns the config subsequent stages of the current run must
// consume: the snapshot when captured, the live merge otherwise.
func (r *Resolver) Effective(ctx context.Context, t tenant.Context, rec *model.Recording) (map[string]any, error) {
	if rec.HasSnapshot() {
		var doc map[string]any
		if err := json.Unmarshal(rec.ConfigSnapshot, &doc); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "corrupt config snapshot", err)
		}
		return doc, nil
	}
	return r.Live(ctx, t, rec)
}

// CaptureSnapshot freezes the live effective config onto the recording.
// Once written the snapshot is immutable for the life of the run; calling
// again is a no-op.
func (r *Resolver) CaptureSnapshot(ctx context.Context, t tenant.Context, rec *model.Recording) error {
	if rec.HasSnapshot() {
		return nil
	}
	doc, err := r.Live(ctx, t, rec)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "marshal config snapshot", err)
	}
	rec.ConfigSnapshot = raw
	return nil
}

// ClearSnapshot drops the snapshot. Legal only before any stage has
// started; the caller (ResetConfig) checks that precondition.
func (r *Resolver) ClearSnapshot(rec *model.Recording) {
	rec.ConfigSnapshot = nil
}

// InvalidateTenant evicts the cached defaults after a tenant-config write.
func (r *Resolver) InvalidateTenant(tenantID string) {
	r.cache.Delete(defaultsKey(tenantID))
}

func (r *Resolver) tenantDefaults(ctx context.Context, t tenant.Context) (map[string]any, error) {
	key := defaultsKey(t.ID())
	if v, ok := r.cache.Get(key); ok {
		if doc, ok := v.(map[string]any); ok {
			return doc, nil
		}
	}
	doc, err := r.store.TenantDefaults(ctx, t)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, doc, r.ttl)
	return doc, nil
}

func defaultsKey(tenantID string) string {
	return "configres:defaults:" + tenantID
}

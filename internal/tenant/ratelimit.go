// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tenant

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterRegistry hands out one token-bucket limiter per tenant, sized by
// the tenant's rate_limit_per_minute. Service entry points consult it
// before touching the database.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether the tenant may perform one more operation now.
// A zero limit means unlimited.
func (r *LimiterRegistry) Allow(t Context) bool {
	perMinute := t.Limits().RateLimitPerMinute
	if perMinute <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[t.ID()]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		r.limiters[t.ID()] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// Forget drops the limiter state for a tenant (on tenant deletion).
func (r *LimiterRegistry) Forget(tenantID string) {
	r.mu.Lock()
	delete(r.limiters, tenantID)
	r.mu.Unlock()
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package service is the programmatic core API every outer surface
// (router, CLI, scheduler) calls into. Each operation checks the tenant
// rate limit and the permission flag guarding it before touching state.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/configres"
	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/match"
	"github.com/ManuGH/mediapress/internal/pipeline/executor"
	"github.com/ManuGH/mediapress/internal/quota"
	"github.com/ManuGH/mediapress/internal/scheduler"
	"github.com/ManuGH/mediapress/internal/storagepath"
	"github.com/ManuGH/mediapress/internal/store/sqlite"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/vault"
	"github.com/ManuGH/mediapress/internal/xerr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Deps wires the collaborators a Service needs.
type Deps struct {
	Store     *sqlite.Store
	Layout    *storagepath.Layout
	Vault     *vault.Vault
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
	Matcher   *match.Matcher
	Resolver  *configres.Resolver
	Quota     *quota.Service
	Audit     *audit.Recorder
	Limiters  *tenant.LimiterRegistry
}

// Service exposes the core operations.
type Service struct {
	store    *sqlite.Store
	layout   *storagepath.Layout
	vault    *vault.Vault
	exec     *executor.Executor
	sched    *scheduler.Scheduler
	matcher  *match.Matcher
	resolver *configres.Resolver
	quota    *quota.Service
	audit    *audit.Recorder
	limiters *tenant.LimiterRegistry
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc // active pipeline runs by recording id
}

// New builds the service. Audit and Limiters may be nil.
func New(d Deps) *Service {
	if d.Audit == nil {
		d.Audit = audit.New(nil)
	}
	if d.Limiters == nil {
		d.Limiters = tenant.NewLimiterRegistry()
	}
	return &Service{
		store:    d.Store,
		layout:   d.Layout,
		vault:    d.Vault,
		exec:     d.Executor,
		sched:    d.Scheduler,
		matcher:  d.Matcher,
		resolver: d.Resolver,
		quota:    d.Quota,
		audit:    d.Audit,
		limiters: d.Limiters,
		logger:   log.WithComponent("service"),
		now:      time.Now,
		running:  make(map[string]context.CancelFunc),
	}
}

// gate applies the per-tenant rate limit and, when perm is non-empty, the
// permission flag for the operation.
func (s *Service) gate(t tenant.Context, perm tenant.Permission) error {
	if !s.limiters.Allow(t) {
		return xerr.E(xerr.KindQuotaExceeded, "tenant rate limit exceeded")
	}
	if perm == "" {
		return nil
	}
	return t.Require(perm)
}

func (s *Service) checkInput(v any) error {
	if err := validate.Struct(v); err != nil {
		return xerr.Wrap(xerr.KindValidation, "invalid input", err)
	}
	return nil
}

// trackRun registers a cancellable pipeline run. The second return value
// is false when the recording already has an active run in this process.
func (s *Service) trackRun(ctx context.Context, recordingID string) (context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[recordingID]; busy {
		return nil, nil, false
	}
	rctx, cancel := context.WithCancel(ctx)
	s.running[recordingID] = cancel
	return rctx, cancel, true
}

func (s *Service) untrackRun(recordingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, recordingID)
}

func (s *Service) runActive(recordingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[recordingID]
	return ok
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package quota enforces per-tenant resource limits: concurrent pipeline
// slots, monthly recording counters and storage bytes. All mutations are
// single-transaction read-modify-writes on the (tenant_id, period) row, so
// the counters stay correct under concurrent workers.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/metrics"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Period formats a point in time as the YYYYMM accounting period.
func Period(t time.Time) string { return t.UTC().Format("200601") }

// Usage is the current counter row for one tenant and period.
type Usage struct {
	TenantID            string `json:"tenant_id"`
	Period              string `json:"period"`
	RecordingsThisMonth int    `json:"recordings_this_period"`
	StorageBytes        int64  `json:"storage_bytes"`
	ActiveProcesses     int    `json:"active_concurrent_processes"`
}

// Handle represents one reserved pipeline slot. It must be settled exactly
// once, with Commit on full success or Release otherwise.
type Handle struct {
	tenantID string
	period   string
	settled  atomic.Bool
}

// TenantID returns the owner of the reserved slot.
func (h *Handle) TenantID() string { return h.tenantID }

// Service is the quota enforcement layer.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New builds the quota service on an already-open database. The schema is
// owned by the sqlite store.
func New(db *sql.DB) *Service {
	return &Service{db: db, logger: log.WithComponent("quota"), now: time.Now}
}

// Reserve acquires one concurrent pipeline slot for the tenant, checking
// both the concurrency gate and, when set, the monthly recording limit.
// The returned handle must be settled with Commit or Release.
func (s *Service) Reserve(ctx context.Context, t tenant.Context) (*Handle, error) {
	period := Period(s.now())
	lim := t.Limits()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := ensureRow(ctx, tx, t.ID(), period)
		if err != nil {
			return err
		}
		if lim.MaxConcurrentProcesses > 0 && u.ActiveProcesses >= lim.MaxConcurrentProcesses {
			return xerr.Ef(xerr.KindQuotaExceeded, "concurrent process limit %d reached", lim.MaxConcurrentProcesses)
		}
		if lim.MaxRecordingsPerMonth > 0 && u.RecordingsThisMonth >= lim.MaxRecordingsPerMonth {
			return xerr.Ef(xerr.KindQuotaExceeded, "monthly recording limit %d reached", lim.MaxRecordingsPerMonth)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE quota_usage SET active_concurrent_processes = active_concurrent_processes + 1
			 WHERE tenant_id = ? AND period = ?`, t.ID(), period)
		return err
	})
	if err != nil {
		if xerr.IsKind(err, xerr.KindQuotaExceeded) {
			metrics.QuotaRejections.WithLabelValues("process").Inc()
		}
		return nil, err
	}
	metrics.ActiveProcesses.WithLabelValues(t.ID()).Inc()
	return &Handle{tenantID: t.ID(), period: period}, nil
}

// Commit settles the handle after a fully successful pipeline run: the
// slot is freed and the recording counts against the monthly budget.
func (s *Service) Commit(ctx context.Context, h *Handle) error {
	return s.settle(ctx, h, true)
}

// Release frees the slot without counting the recording. Used on failure,
// cancellation and skip.
func (s *Service) Release(ctx context.Context, h *Handle) error {
	return s.settle(ctx, h, false)
}

func (s *Service) settle(ctx context.Context, h *Handle, count bool) error {
	if h == nil {
		return xerr.E(xerr.KindValidation, "nil quota handle")
	}
	if !h.settled.CompareAndSwap(false, true) {
		return xerr.E(xerr.KindConflict, "quota handle already settled")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		q := `UPDATE quota_usage
		      SET active_concurrent_processes = MAX(active_concurrent_processes - 1, 0)`
		if count {
			q += `, recordings_this_period = recordings_this_period + 1`
		}
		q += ` WHERE tenant_id = ? AND period = ?`
		_, err := tx.ExecContext(ctx, q, h.tenantID, h.period)
		return err
	})
	if err != nil {
		// Re-arm so the caller can retry settling.
		h.settled.Store(false)
		return err
	}
	metrics.ActiveProcesses.WithLabelValues(h.tenantID).Dec()
	return nil
}

// TrackStorageAdded accounts bytes written under the tenant's storage
// root, rejecting writes that would exceed the disk quota.
func (s *Service) TrackStorageAdded(ctx context.Context, t tenant.Context, bytes int64) error {
	if bytes < 0 {
		return xerr.E(xerr.KindValidation, "negative byte count")
	}
	period := Period(s.now())
	lim := t.Limits()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := ensureRow(ctx, tx, t.ID(), period)
		if err != nil {
			return err
		}
		if lim.QuotaDiskBytes > 0 && u.StorageBytes+bytes > lim.QuotaDiskBytes {
			return xerr.Ef(xerr.KindQuotaExceeded, "disk quota %d bytes exceeded", lim.QuotaDiskBytes)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE quota_usage SET storage_bytes = storage_bytes + ?
			 WHERE tenant_id = ? AND period = ?`, bytes, t.ID(), period)
		return err
	})
	if err != nil {
		if xerr.IsKind(err, xerr.KindQuotaExceeded) {
			metrics.QuotaRejections.WithLabelValues("storage").Inc()
		}
		return err
	}
	metrics.StorageBytes.WithLabelValues(t.ID()).Add(float64(bytes))
	return nil
}

// TrackStorageRemoved accounts bytes freed by deletion. The gauge never
// goes negative even if accounting drifted.
func (s *Service) TrackStorageRemoved(ctx context.Context, t tenant.Context, bytes int64) error {
	if bytes < 0 {
		return xerr.E(xerr.KindValidation, "negative byte count")
	}
	period := Period(s.now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := ensureRow(ctx, tx, t.ID(), period); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE quota_usage SET storage_bytes = MAX(storage_bytes - ?, 0)
			 WHERE tenant_id = ? AND period = ?`, bytes, t.ID(), period)
		return err
	})
	if err != nil {
		return err
	}
	metrics.StorageBytes.WithLabelValues(t.ID()).Sub(float64(bytes))
	return nil
}

// Usage reads the tenant's counters for the current period.
func (s *Service) Usage(ctx context.Context, t tenant.Context) (Usage, error) {
	period := Period(s.now())
	var u Usage
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		got, err := ensureRow(ctx, tx, t.ID(), period)
		if err != nil {
			return err
		}
		u = got
		return nil
	})
	return u, err
}

// ResetMonthly pre-creates the rows for a new period: the monthly counter
// starts at zero and storage bytes carry forward from each tenant's most
// recent row. Lazy row creation does the same thing on first touch, so
// this job only makes the boundary explicit.
func (s *Service) ResetMonthly(ctx context.Context, period string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT tenant_id FROM quota_usage WHERE period < ?`, period)
		if err != nil {
			return err
		}
		var tenants []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			tenants = append(tenants, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, id := range tenants {
			if _, err := ensureRowForPeriod(ctx, tx, id, period); err != nil {
				return err
			}
		}
		s.logger.Info().Str("period", period).Int("tenants", len(tenants)).Msg("monthly quota rollover")
		return nil
	})
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "begin quota tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn().Err(rbErr).Msg("quota rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerr.Wrap(xerr.KindInternal, "commit quota tx", err)
	}
	return nil
}

// ensureRow loads the (tenant, period) row, creating it on first touch
// with storage bytes carried forward from the tenant's latest prior row.
func ensureRow(ctx context.Context, tx *sql.Tx, tenantID, period string) (Usage, error) {
	return ensureRowForPeriod(ctx, tx, tenantID, period)
}

func ensureRowForPeriod(ctx context.Context, tx *sql.Tx, tenantID, period string) (Usage, error) {
	u := Usage{TenantID: tenantID, Period: period}
	err := tx.QueryRowContext(ctx,
		`SELECT recordings_this_period, storage_bytes, active_concurrent_processes
		 FROM quota_usage WHERE tenant_id = ? AND period = ?`, tenantID, period).
		Scan(&u.RecordingsThisMonth, &u.StorageBytes, &u.ActiveProcesses)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return u, xerr.Wrap(xerr.KindInternal, "read quota row", err)
	}

	var carried int64
	err = tx.QueryRowContext(ctx,
		`SELECT storage_bytes FROM quota_usage
		 WHERE tenant_id = ? AND period < ? ORDER BY period DESC LIMIT 1`, tenantID, period).
		Scan(&carried)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return u, xerr.Wrap(xerr.KindInternal, "read prior quota row", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_usage (tenant_id, period, recordings_this_period, storage_bytes, active_concurrent_processes)
		 VALUES (?, ?, 0, ?, 0)
		 ON CONFLICT (tenant_id, period) DO NOTHING`, tenantID, period, carried); err != nil {
		return u, xerr.Wrap(xerr.KindInternal, "create quota row", err)
	}
	u.StorageBytes = carried
	return u, nil
}

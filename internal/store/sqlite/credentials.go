// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/vault"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// The credentials table stores only ciphertext; the vault owns the key.

// Insert stores a new credential record. Duplicate (platform, account
// key) pairs within a tenant conflict.
func (s *Store) Insert(ctx context.Context, t tenant.Context, rec *vault.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return xerr.Wrap(xerr.KindValidation, "encode credential metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, tenant_id, platform, account_key, ciphertext, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, t.ID(), rec.Platform, rec.AccountKey, rec.Ciphertext, string(meta), fmtTime(rec.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return xerr.Ef(xerr.KindConflict, "credential for %s/%s already exists", rec.Platform, rec.AccountKey)
		}
		return xerr.Wrap(xerr.KindInternal, "insert credential", err)
	}
	return nil
}

// GetByKey loads a credential by platform and account key.
func (s *Store) GetByKey(ctx context.Context, t tenant.Context, platform model.Platform, accountKey string) (*vault.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, platform, account_key, ciphertext, metadata, created_at, last_used_at
		FROM credentials WHERE tenant_id = ? AND platform = ? AND account_key = ?`,
		t.ID(), platform, accountKey)
	return scanCredential(row)
}

// GetByID loads a credential by id, tenant-filtered.
func (s *Store) GetByID(ctx context.Context, t tenant.Context, id string) (*vault.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, platform, account_key, ciphertext, metadata, created_at, last_used_at
		FROM credentials WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	return scanCredential(row)
}

// UpdateCiphertext replaces the sealed credential after a refresh.
func (s *Store) UpdateCiphertext(ctx context.Context, t tenant.Context, id string, ciphertext []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET ciphertext = ? WHERE tenant_id = ? AND id = ?`, ciphertext, t.ID(), id)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "update credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "credential not found")
	}
	return nil
}

// TouchLastUsed records the decrypt-on-use timestamp.
func (s *Store) TouchLastUsed(ctx context.Context, t tenant.Context, id string, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE tenant_id = ? AND id = ?`, fmtTime(when), t.ID(), id)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "touch credential", err)
	}
	return nil
}

// List returns the non-secret view of the tenant's credentials.
func (s *Store) List(ctx context.Context, t tenant.Context) ([]vault.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, platform, account_key, metadata, created_at, last_used_at
		FROM credentials WHERE tenant_id = ? ORDER BY created_at`, t.ID())
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "list credentials", err)
	}
	defer rows.Close()
	var out []vault.Metadata
	for rows.Next() {
		var (
			m         vault.Metadata
			metaJSON  string
			createdAt string
			lastUsed  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Platform, &m.AccountKey, &metaJSON, &createdAt, &lastUsed); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "scan credential", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "decode credential metadata", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, xerr.Wrap(xerr.KindInternal, "decode credential time", err)
		}
		m.LastUsedAt = scanNullTime(lastUsed)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete revokes a credential.
func (s *Store) Delete(ctx context.Context, t tenant.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE tenant_id = ? AND id = ?`, t.ID(), id)
	if err != nil {
		return xerr.Wrap(xerr.KindInternal, "delete credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerr.E(xerr.KindNotFound, "credential not found")
	}
	return nil
}

func scanCredential(row *sql.Row) (*vault.Record, error) {
	var (
		rec       vault.Record
		metaJSON  string
		createdAt string
		lastUsed  sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Platform, &rec.AccountKey, &rec.Ciphertext, &metaJSON, &createdAt, &lastUsed)
	if err != nil {
		return nil, notFound(err, "credential")
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode credential metadata", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "decode credential time", err)
	}
	rec.LastUsedAt = scanNullTime(lastUsed)
	return &rec, nil
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"context"

	"github.com/ManuGH/mediapress/internal/audit"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/vault"
)

// PutCredential stores or rotates a platform credential.
func (s *Service) PutCredential(ctx context.Context, t tenant.Context, p model.Platform, accountKey string, plaintext []byte, meta map[string]string) (string, error) {
	if err := s.gate(t, tenant.PermManageCredentials); err != nil {
		return "", err
	}
	id, err := s.vault.Put(ctx, t, p, accountKey, plaintext, meta)
	if err != nil {
		return "", err
	}
	s.audit.Record(ctx, t.ID(), "", "", audit.EventCredentialRotated, map[string]any{
		"credential_id": id,
		"platform":      string(p),
		"account_key":   accountKey,
	})
	return id, nil
}

// RevokeCredential deletes a credential. Sources and presets referencing
// it start failing with AuthRevoked on their next use.
func (s *Service) RevokeCredential(ctx context.Context, t tenant.Context, id string) error {
	if err := s.gate(t, tenant.PermManageCredentials); err != nil {
		return err
	}
	return s.vault.Delete(ctx, t, id)
}

// ListCredentials returns non-secret credential metadata.
func (s *Service) ListCredentials(ctx context.Context, t tenant.Context) ([]vault.Metadata, error) {
	if err := s.gate(t, tenant.PermManageCredentials); err != nil {
		return nil, err
	}
	return s.vault.List(ctx, t)
}

// RefreshCredential forces a token refresh for OAuth platforms.
func (s *Service) RefreshCredential(ctx context.Context, t tenant.Context, id string) error {
	if err := s.gate(t, tenant.PermManageCredentials); err != nil {
		return err
	}
	_, err := s.vault.Refresh(ctx, t, id)
	return err
}

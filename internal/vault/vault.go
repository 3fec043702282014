// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package vault stores per-tenant platform credentials encrypted at rest
// and decrypts them on use. Key material is process-wide and injected at
// startup; plaintext never reaches logs or the run log.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// KeySize is the required length of the vault master key.
const KeySize = chacha20poly1305.KeySize

// Record is one stored credential: ciphertext plus non-secret metadata.
type Record struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Platform   model.Platform    `json:"platform"`
	AccountKey string            `json:"account_key"`
	Ciphertext []byte            `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"` // account id, description
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
}

// Metadata is the listable, non-secret view of a Record.
type Metadata struct {
	ID         string            `json:"id"`
	Platform   model.Platform    `json:"platform"`
	AccountKey string            `json:"account_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
}

// Store persists credential records. Every method is tenant-scoped.
type Store interface {
	Insert(ctx context.Context, t tenant.Context, rec *Record) error
	GetByKey(ctx context.Context, t tenant.Context, platform model.Platform, accountKey string) (*Record, error)
	GetByID(ctx context.Context, t tenant.Context, id string) (*Record, error)
	UpdateCiphertext(ctx context.Context, t tenant.Context, id string, ciphertext []byte) error
	TouchLastUsed(ctx context.Context, t tenant.Context, id string, when time.Time) error
	List(ctx context.Context, t tenant.Context) ([]Metadata, error)
	Delete(ctx context.Context, t tenant.Context, id string) error
}

// Refresher exchanges an expiring credential for a fresh one.
// Implementations live with the platform adapters.
type Refresher interface {
	Refresh(ctx context.Context, plaintext []byte) ([]byte, error)
}

// Vault is the encrypted credential service.
type Vault struct {
	store      Store
	aead       cipher.AEAD
	refreshers map[model.Platform]Refresher
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds a vault from the process-wide master key.
func New(store Store, key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, xerr.Ef(xerr.KindValidation, "vault key must be %d bytes", KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindInternal, "init aead", err)
	}
	return &Vault{
		store:      store,
		aead:       aead,
		refreshers: make(map[model.Platform]Refresher),
		logger:     log.WithComponent("vault"),
		now:        time.Now,
	}, nil
}

// RegisterRefresher wires a platform-specific token refresher.
func (v *Vault) RegisterRefresher(p model.Platform, r Refresher) {
	v.refreshers[p] = r
}

// Put validates, encrypts and stores a credential; returns the record id.
func (v *Vault) Put(ctx context.Context, t tenant.Context, p model.Platform, accountKey string, plaintext []byte, meta map[string]string) (string, error) {
	if err := t.Require(tenant.PermManageCredentials); err != nil {
		return "", err
	}
	if _, err := DetectShape(p, plaintext); err != nil {
		return "", err
	}
	rec := &Record{
		TenantID:   t.ID(),
		Platform:   p,
		AccountKey: accountKey,
		Ciphertext: v.seal(plaintext),
		Metadata:   meta,
		CreatedAt:  v.now(),
	}
	if err := v.store.Insert(ctx, t, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Get decrypts and returns the plaintext credential.
// The last_used timestamp is updated best-effort; a failed touch never
// fails the read.
func (v *Vault) Get(ctx context.Context, t tenant.Context, p model.Platform, accountKey string) ([]byte, error) {
	rec, err := v.store.GetByKey(ctx, t, p, accountKey)
	if err != nil {
		return nil, err
	}
	return v.open(ctx, t, rec)
}

// GetByID decrypts the credential identified by id.
func (v *Vault) GetByID(ctx context.Context, t tenant.Context, id string) ([]byte, error) {
	rec, err := v.store.GetByID(ctx, t, id)
	if err != nil {
		return nil, err
	}
	return v.open(ctx, t, rec)
}

// List returns the non-secret metadata of all tenant credentials.
func (v *Vault) List(ctx context.Context, t tenant.Context) ([]Metadata, error) {
	return v.store.List(ctx, t)
}

// Delete removes a credential.
func (v *Vault) Delete(ctx context.Context, t tenant.Context, id string) error {
	if err := t.Require(tenant.PermManageCredentials); err != nil {
		return err
	}
	return v.store.Delete(ctx, t, id)
}

// Refresh exchanges the stored credential for a fresh one through the
// platform refresher, persists the new ciphertext and returns the fresh
// plaintext. Platforms without a refresher reject the call.
func (v *Vault) Refresh(ctx context.Context, t tenant.Context, id string) ([]byte, error) {
	rec, err := v.store.GetByID(ctx, t, id)
	if err != nil {
		return nil, err
	}
	r, ok := v.refreshers[rec.Platform]
	if !ok {
		return nil, xerr.Ef(xerr.KindValidation, "platform %s does not support refresh", rec.Platform)
	}
	plaintext, err := v.open(ctx, t, rec)
	if err != nil {
		return nil, err
	}
	fresh, err := r.Refresh(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	if err := v.store.UpdateCiphertext(ctx, t, id, v.seal(fresh)); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (v *Vault) seal(plaintext []byte) []byte {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		// crypto/rand failure is unrecoverable.
		panic(err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil)
}

func (v *Vault) open(ctx context.Context, t tenant.Context, rec *Record) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(rec.Ciphertext) < ns {
		return nil, xerr.E(xerr.KindDecryptionFailed, "ciphertext too short")
	}
	nonce, box := rec.Ciphertext[:ns], rec.Ciphertext[ns:]
	plaintext, err := v.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindDecryptionFailed, "credential decryption failed", err)
	}
	if err := v.store.TouchLastUsed(ctx, t, rec.ID, v.now()); err != nil {
		v.logger.Warn().Err(err).Str("credential_id", rec.ID).Msg("last_used update failed")
	}
	return plaintext, nil
}

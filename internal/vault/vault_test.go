// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package vault

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/tenant"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// memStore is an in-memory Store for vault tests.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*Record)}
}

func (s *memStore) Insert(_ context.Context, t tenant.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.TenantID == t.ID() && r.Platform == rec.Platform && r.AccountKey == rec.AccountKey {
			return xerr.E(xerr.KindConflict, "credential exists")
		}
	}
	rec.ID = uuid.NewString()
	s.recs[rec.ID] = rec
	return nil
}

func (s *memStore) GetByKey(_ context.Context, t tenant.Context, p model.Platform, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.TenantID == t.ID() && r.Platform == p && r.AccountKey == key {
			return r, nil
		}
	}
	return nil, xerr.E(xerr.KindNotFound, "not found")
}

func (s *memStore) GetByID(_ context.Context, t tenant.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.TenantID != t.ID() {
		return nil, xerr.E(xerr.KindNotFound, "not found")
	}
	return r, nil
}

func (s *memStore) UpdateCiphertext(_ context.Context, t tenant.Context, id string, ct []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.TenantID != t.ID() {
		return xerr.E(xerr.KindNotFound, "not found")
	}
	r.Ciphertext = ct
	return nil
}

func (s *memStore) TouchLastUsed(_ context.Context, t tenant.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[id]; ok && r.TenantID == t.ID() {
		r.LastUsedAt = &when
	}
	return nil
}

func (s *memStore) List(_ context.Context, t tenant.Context) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Metadata
	for _, r := range s.recs {
		if r.TenantID == t.ID() {
			out = append(out, Metadata{ID: r.ID, Platform: r.Platform, AccountKey: r.AccountKey, Metadata: r.Metadata, CreatedAt: r.CreatedAt, LastUsedAt: r.LastUsedAt})
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, t tenant.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.TenantID != t.ID() {
		return xerr.E(xerr.KindNotFound, "not found")
	}
	delete(s.recs, id)
	return nil
}

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func manager() tenant.Context {
	return tenant.New("t-1", tenant.RoleUser, []tenant.Permission{tenant.PermManageCredentials}, tenant.Limits{}, nil, "")
}

func apiKeyJSON(t *testing.T, key string) []byte {
	t.Helper()
	raw, err := json.Marshal(APIKey{Key: key})
	require.NoError(t, err)
	return raw
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	v, err := New(store, testKey())
	require.NoError(t, err)

	plaintext := apiKeyJSON(t, "sk-123")
	id, err := v.Put(ctx, manager(), model.PlatformSpeech, "default", plaintext, map[string]string{"desc": "speech key"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Ciphertext at rest is opaque.
	rec := store.recs[id]
	require.NotContains(t, string(rec.Ciphertext), "sk-123")

	got, err := v.Get(ctx, manager(), model.PlatformSpeech, "default")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	// Get touches last_used best-effort.
	require.NotNil(t, store.recs[id].LastUsedAt)
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	v1, err := New(store, testKey())
	require.NoError(t, err)
	_, err = v1.Put(ctx, manager(), model.PlatformSpeech, "default", apiKeyJSON(t, "sk-123"), nil)
	require.NoError(t, err)

	other := make([]byte, KeySize)
	v2, err := New(store, other)
	require.NoError(t, err)

	_, err = v2.Get(ctx, manager(), model.PlatformSpeech, "default")
	require.Error(t, err)
	require.Equal(t, xerr.KindDecryptionFailed, xerr.KindOf(err))
}

func TestPutRequiresPermission(t *testing.T) {
	v, err := New(newMemStore(), testKey())
	require.NoError(t, err)

	noPerm := tenant.New("t-1", tenant.RoleUser, nil, tenant.Limits{}, nil, "")
	_, err = v.Put(context.Background(), noPerm, model.PlatformSpeech, "default", apiKeyJSON(t, "sk"), nil)
	require.Equal(t, xerr.KindPermissionDenied, xerr.KindOf(err))
}

func TestPutRejectsMalformedCredential(t *testing.T) {
	v, err := New(newMemStore(), testKey())
	require.NoError(t, err)

	_, err = v.Put(context.Background(), manager(), model.PlatformHostingA, "acct", []byte(`{"access_token":"only"}`), nil)
	require.Equal(t, xerr.KindCredentialMalformed, xerr.KindOf(err))
}

func TestTenantIsolationIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	v, err := New(store, testKey())
	require.NoError(t, err)

	id, err := v.Put(ctx, manager(), model.PlatformSpeech, "default", apiKeyJSON(t, "sk"), nil)
	require.NoError(t, err)

	intruder := tenant.New("t-2", tenant.RoleUser, []tenant.Permission{tenant.PermManageCredentials}, tenant.Limits{}, nil, "")
	_, err = v.GetByID(ctx, intruder, id)
	require.Equal(t, xerr.KindNotFound, xerr.KindOf(err), "cross-tenant access must read as not found")
}

// staticRefresher swaps any credential for a fixed replacement.
type staticRefresher struct{ out []byte }

func (r staticRefresher) Refresh(context.Context, []byte) ([]byte, error) { return r.out, nil }

func TestRefreshPersistsNewCiphertext(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	v, err := New(store, testKey())
	require.NoError(t, err)

	old, err := json.Marshal(OAuthBundle{ClientID: "c", ClientSecret: "s", AccessToken: "expired", RefreshToken: "r"})
	require.NoError(t, err)
	id, err := v.Put(ctx, manager(), model.PlatformHostingA, "acct", old, nil)
	require.NoError(t, err)

	fresh, err := json.Marshal(OAuthBundle{ClientID: "c", ClientSecret: "s", AccessToken: "fresh", RefreshToken: "r"})
	require.NoError(t, err)
	v.RegisterRefresher(model.PlatformHostingA, staticRefresher{out: fresh})

	got, err := v.Refresh(ctx, manager(), id)
	require.NoError(t, err)
	require.Equal(t, fresh, got)

	// Subsequent reads see the refreshed credential.
	got, err = v.GetByID(ctx, manager(), id)
	require.NoError(t, err)
	require.Equal(t, fresh, got)
}

func TestRefreshRejectsNonRefreshablePlatform(t *testing.T) {
	ctx := context.Background()
	v, err := New(newMemStore(), testKey())
	require.NoError(t, err)

	id, err := v.Put(ctx, manager(), model.PlatformSpeech, "default", apiKeyJSON(t, "sk"), nil)
	require.NoError(t, err)

	_, err = v.Refresh(ctx, manager(), id)
	require.Equal(t, xerr.KindValidation, xerr.KindOf(err))
}

func TestDetectShape(t *testing.T) {
	oauth, _ := json.Marshal(OAuthBundle{ClientID: "c", ClientSecret: "s", AccessToken: "a"})
	s2s, _ := json.Marshal(ServerToServer{AccountID: "acc", ClientID: "c", ClientSecret: "s"})
	token, _ := json.Marshal(AccessToken{AccessToken: "tok"})

	tests := []struct {
		name      string
		platform  model.Platform
		plaintext []byte
		want      Shape
		wantErr   bool
	}{
		{"conferencing oauth", model.PlatformConferencing, oauth, ShapeOAuth, false},
		{"conferencing s2s", model.PlatformConferencing, s2s, ShapeServerToServer, false},
		{"conferencing garbage", model.PlatformConferencing, []byte(`{"x":1}`), "", true},
		{"hosting-a requires full bundle", model.PlatformHostingA, token, "", true},
		{"hosting-b token", model.PlatformHostingB, token, ShapeAccessToken, false},
		{"speech api key", model.PlatformSpeech, []byte(`{"key":"k"}`), ShapeAPIKey, false},
		{"not json", model.PlatformSpeech, []byte(`nope`), "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectShape(tc.platform, tc.plaintext)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package vault

import (
	"encoding/json"
	"time"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Shape names the detected credential form.
type Shape string

const (
	ShapeOAuth          Shape = "oauth"            // full bundle: client id/secret + tokens
	ShapeServerToServer Shape = "server_to_server" // account id + client id + secret
	ShapeAccessToken    Shape = "access_token"     // long-lived token
	ShapeAPIKey         Shape = "api_key"
)

// OAuthBundle is the full OAuth credential, stored verbatim because some
// providers require the exact structure back.
type OAuthBundle struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the access token needs refreshing.
func (b OAuthBundle) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// ServerToServer is the conferencing server-to-server tuple.
type ServerToServer struct {
	AccountID    string `json:"account_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// AccessToken is a long-lived token with optional owner hints.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
}

// APIKey wraps a bare service key.
type APIKey struct {
	Key string `json:"key"`
}

// DetectShape validates plaintext against the platform's accepted
// credential forms and reports which one it is. Conferencing accepts
// either an OAuth bundle or a server-to-server tuple, detected by shape.
func DetectShape(p model.Platform, plaintext []byte) (Shape, error) {
	var probe map[string]any
	if err := json.Unmarshal(plaintext, &probe); err != nil {
		return "", xerr.Wrap(xerr.KindCredentialMalformed, "credential is not a JSON object", err)
	}

	switch p {
	case model.PlatformConferencing:
		if hasStr(probe, "access_token") {
			return requireOAuth(plaintext)
		}
		if hasStr(probe, "account_id") && hasStr(probe, "client_id") && hasStr(probe, "client_secret") {
			return ShapeServerToServer, nil
		}
		return "", xerr.E(xerr.KindCredentialMalformed, "conferencing credential is neither oauth nor server-to-server")

	case model.PlatformHostingA:
		return requireOAuth(plaintext)

	case model.PlatformHostingB, model.PlatformCloudDrive:
		if !hasStr(probe, "access_token") {
			return "", xerr.E(xerr.KindCredentialMalformed, "missing access_token")
		}
		if p == model.PlatformCloudDrive {
			return ShapeOAuth, nil
		}
		return ShapeAccessToken, nil

	case model.PlatformSpeech, model.PlatformTopics:
		if !hasStr(probe, "key") {
			return "", xerr.E(xerr.KindCredentialMalformed, "missing api key")
		}
		return ShapeAPIKey, nil
	}
	return "", xerr.Ef(xerr.KindValidation, "unknown platform %q", p)
}

func requireOAuth(plaintext []byte) (Shape, error) {
	var b OAuthBundle
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return "", xerr.Wrap(xerr.KindCredentialMalformed, "malformed oauth bundle", err)
	}
	if b.ClientID == "" || b.ClientSecret == "" || b.AccessToken == "" {
		return "", xerr.E(xerr.KindCredentialMalformed, "oauth bundle missing client id, secret or access token")
	}
	return ShapeOAuth, nil
}

func hasStr(m map[string]any, key string) bool {
	s, ok := m[key].(string)
	return ok && s != ""
}

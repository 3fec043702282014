// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package tenant carries tenant identity, permissions and limits through
// every core operation. Repositories accept only a tenant.Context; there is
// no ambient default and no bare fetch-by-id.
package tenant

import (
	"time"

	"github.com/ManuGH/mediapress/internal/xerr"
)

// Role separates the ordinary tenant surface from the admin surface.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Permission gates a single core operation.
type Permission string

const (
	PermTranscribe           Permission = "can_transcribe"
	PermProcessVideo         Permission = "can_process_video"
	PermUpload               Permission = "can_upload"
	PermCreateTemplates      Permission = "can_create_templates"
	PermDeleteRecordings     Permission = "can_delete_recordings"
	PermUpdateUploadedVideos Permission = "can_update_uploaded_videos"
	PermManageCredentials    Permission = "can_manage_credentials"
	PermExportData           Permission = "can_export_data"
)

// Limits are the per-tenant resource caps enforced by the quota service
// and the pipeline entry points.
type Limits struct {
	MaxConcurrentProcesses int   `json:"max_concurrent_processes"`
	MaxRecordingsPerMonth  int   `json:"max_recordings_per_month"` // 0 = unlimited
	QuotaDiskBytes         int64 `json:"quota_disk_bytes"`         // 0 = unlimited
	MaxFileBytes           int64 `json:"max_file_bytes"`           // 0 = unlimited
	RateLimitPerMinute     int   `json:"rate_limit_per_minute"`    // 0 = unlimited
}

// Context is the capability handle required by every core operation.
// It is immutable after construction.
type Context struct {
	id          string
	role        Role
	permissions map[Permission]bool
	limits      Limits
	location    *time.Location
	locale      string
}

// New builds a tenant context. A nil location defaults to UTC and an empty
// locale defaults to "en".
func New(id string, role Role, perms []Permission, limits Limits, loc *time.Location, locale string) Context {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	if loc == nil {
		loc = time.UTC
	}
	if locale == "" {
		locale = "en"
	}
	return Context{id: id, role: role, permissions: set, limits: limits, location: loc, locale: locale}
}

// ID returns the tenant identifier.
func (c Context) ID() string { return c.id }

// Role returns the tenant role.
func (c Context) Role() Role { return c.role }

// Limits returns the per-tenant caps.
func (c Context) Limits() Limits { return c.limits }

// Location returns the tenant timezone.
func (c Context) Location() *time.Location { return c.location }

// Locale returns the tenant display locale ("en", "ru", ...).
func (c Context) Locale() string { return c.locale }

// Has reports whether the tenant carries the given permission flag.
func (c Context) Has(p Permission) bool { return c.permissions[p] }

// Require returns PermissionDenied when the flag is missing.
func (c Context) Require(p Permission) error {
	if c.permissions[p] {
		return nil
	}
	return xerr.Ef(xerr.KindPermissionDenied, "missing permission %s", p)
}

// Owns verifies that an entity's tenant id matches this context. A mismatch
// is reported as NotFound, never as a permission error, so callers cannot
// probe for the existence of another tenant's entities.
func (c Context) Owns(entityTenantID string) error {
	if entityTenantID == c.id {
		return nil
	}
	return xerr.E(xerr.KindNotFound, "not found")
}

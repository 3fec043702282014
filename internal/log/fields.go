// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTenantID    = "tenant_id"
	FieldRecordingID = "recording_id"
	FieldTemplateID  = "template_id"
	FieldTargetID    = "target_id"
	FieldJobID       = "job_id"
	FieldRunID       = "run_id"
	FieldRequestID   = "request_id"

	// Pipeline fields
	FieldStage     = "stage"
	FieldComponent = "component"
	FieldPlatform  = "platform"
	FieldProgress  = "progress"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Path fields
	FieldPath = "path"
)

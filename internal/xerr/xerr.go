// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package xerr defines the tagged error kinds shared by the whole core.
// Stage runners and repositories return these instead of raising ad-hoc
// errors; callers branch on KindOf, never on message text.
package xerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a compact, stable failure signal. Keep these stable: metrics,
// retry policy and the HTTP edge depend on them.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
	KindPermissionDenied    Kind = "permission_denied"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindAuthExpired         Kind = "auth_expired"
	KindAuthRevoked         Kind = "auth_revoked"
	KindCredentialMalformed Kind = "credential_malformed"
	KindDecryptionFailed    Kind = "decryption_failed"
	KindTransient           Kind = "transient"
	KindStagePermanent      Kind = "stage_permanent"
	KindCancelled           Kind = "cancelled"
	KindAlreadyRunning      Kind = "already_running"
	KindInternal            Kind = "internal"
)

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, xerr.E(kind)) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// E constructs an error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef constructs an error of the given kind with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
// Wrapping a nil error returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, unwrapping as needed.
// Unknown errors are Internal; context cancellation maps to Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// Retryable reports whether a stage runner should retry the operation
// in-place. Only transient provider failures qualify; everything else is
// either permanent or handled by the pipeline-level retry budget.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errs defines the closed sum-type error model for the kernel.
//
// Feature: CORE_ERRORS
// Spec: spec/core/errors.md
package errs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies the type of kernel error. The set is closed: every
// failure path in the kernel resolves to one of these, never a bare
// wrapped stdlib error escaping to a caller.
type Kind string

const (
	KindSchemaError        Kind = "schema_error"
	KindCyclicDependency   Kind = "cyclic_dependency"
	KindUnknownAction      Kind = "unknown_action"
	KindUnknownEffect      Kind = "unknown_effect"
	KindUnknownFlow        Kind = "unknown_flow"
	KindCyclicCall         Kind = "cyclic_call"
	KindTypeMismatch       Kind = "type_mismatch"
	KindPathNotFound       Kind = "path_not_found"
	KindIndexOutOfBounds   Kind = "index_out_of_bounds"
	KindDivisionByZero     Kind = "division_by_zero"
	KindActionUnavailable  Kind = "action_unavailable"
	KindInvalidInput       Kind = "invalid_input"
	KindValidationError    Kind = "validation_error"
	KindEffectTimeout      Kind = "effect_timeout"
	KindEffectHandlerError Kind = "effect_handler_error"
	KindLoopMaxIterations  Kind = "loop_max_iterations"
	KindInvalidState       Kind = "invalid_state"
	KindCancelled          Kind = "cancelled"
	KindScopeViolation     Kind = "scope_violation"
	KindUnknownActor       Kind = "unknown_actor"
	KindUnboundActor       Kind = "unbound_actor"
	KindPermissionDenied   Kind = "permission_denied"
	KindWorldNotFound      Kind = "world_not_found"
	KindInternal           Kind = "internal"
)

// Source locates where, within a schema's action flow, an error occurred.
type Source struct {
	ActionID string `json:"action_id,omitempty"`
	NodePath string `json:"node_path,omitempty"`
}

// Error is the kernel's sum-type error. It implements the standard error
// interface but is also fully serializable: it is the Go-side shape of the
// wire-level ErrorValue recorded in Snapshot.System.Errors.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Source  Source         `json:"source"`
	At      time.Time      `json:"timestamp"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Source.ActionID != "" || e.Source.NodePath != "" {
		return fmt.Sprintf("[%s] %s (action=%s node=%s)", e.Kind, e.Message, e.Source.ActionID, e.Source.NodePath)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a kernel error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, At: time.Now()}
}

// Newf constructs a kernel error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to an otherwise-constructed error.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithTimestamp returns a copy of e with At overridden. Callers inside the
// compute path must use this to stamp errors from the frozen host_ctx.now
// rather than leaving New's wall-clock default in place, so that two
// identical compute calls which both hit an error path still produce
// byte-equal canonical snapshots (§4.1, §8 invariant 1).
func (e *Error) WithTimestamp(t time.Time) *Error {
	cp := *e
	cp.At = t
	return &cp
}

// WithSource returns a copy of e annotated with a flow/action source.
func (e *Error) WithSource(actionID, nodePath string) *Error {
	cp := *e
	cp.Source = Source{ActionID: actionID, NodePath: nodePath}
	return &cp
}

// WithContext returns a copy of e with additional context entries merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	cp := *e
	merged := make(map[string]any, len(cp.Context)+len(ctx))
	for k, v := range cp.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	cp.Context = merged
	return &cp
}

// Value is the JSON-serializable projection of Error stored inside a
// snapshot (Snapshot.System.Errors / Snapshot.System.LastError). Unlike
// Error it never carries a Go `error` cause — the wire value must be a
// plain, canonicalizable value.
type Value struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Source  Source         `json:"source"`
	At      time.Time      `json:"timestamp"`
	Context map[string]any `json:"context,omitempty"`
}

// AsValue projects e into its wire-safe Value form.
func (e *Error) AsValue() Value {
	return Value{
		Kind:    e.Kind,
		Message: e.Message,
		Source:  e.Source,
		At:      e.At,
		Context: e.Context,
	}
}

var _ json.Marshaler = (*Error)(nil)

// MarshalJSON serializes Error using its wire-safe Value projection so a
// *Error can be embedded directly in JSON output without leaking Cause.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.AsValue())
}

// Is reports whether target is a *Error with the same Kind, supporting
// errors.Is(err, errs.New(KindX, "")) style checks against a sentinel kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

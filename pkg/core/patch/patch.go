// SPDX-License-Identifier: AGPL-3.0-or-later

// Package patch implements the patch engine: a batch of {set, unset, merge}
// operations applied atomically against a Snapshot's data tree.
//
// Feature: CORE_PATCH
// Spec: spec/core/patch.md
package patch

import (
	"melrun/pkg/core/value"
	"melrun/pkg/errs"
)

// Op is one of the three patch operation kinds.
type Op string

const (
	OpSet   Op = "set"
	OpUnset Op = "unset"
	OpMerge Op = "merge"
)

// Patch is a single operation against data, addressed by dot-path. Value is
// nil for Unset.
type Patch struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Set constructs a set patch.
func Set(path string, v any) Patch { return Patch{Op: OpSet, Path: path, Value: v} }

// Unset constructs an unset patch.
func Unset(path string) Patch { return Patch{Op: OpUnset, Path: path} }

// Merge constructs a merge patch.
func Merge(path string, v any) Patch { return Patch{Op: OpMerge, Path: path, Value: v} }

// Options controls apply-time validation strictness.
type Options struct {
	// StrictUnset rejects unset on a path that does not currently exist.
	StrictUnset bool
}

// DefaultOptions is the engine's default: non-strict unset (a no-op on a
// missing path), matching "missing path" being a common, benign case for
// idempotent guard-marker removal.
func DefaultOptions() Options {
	return Options{StrictUnset: false}
}

// Apply applies patches in order against data, atomically: if any patch in
// the batch fails validation, the entire batch is rejected and data is
// returned unchanged alongside the error. Patches observe the mutations of
// prior patches in the same batch (P-1/P-2: later patches see earlier
// writes; untouched subtrees retain identity).
func Apply(data any, patches []Patch, opts Options) (any, error) {
	cur := data
	for _, p := range patches {
		var err error
		switch p.Op {
		case OpSet:
			cur, err = value.SetPath(cur, p.Path, p.Value)
		case OpUnset:
			cur, err = value.UnsetPath(cur, p.Path, opts.StrictUnset)
		case OpMerge:
			cur, err = value.MergePath(cur, p.Path, p.Value)
		default:
			err = errs.Newf(errs.KindInvalidInput, "unknown patch op %q", p.Op)
		}
		if err != nil {
			return data, err
		}
	}
	return cur, nil
}

// ValidateNoReserved rejects any patch targeting the reserved host
// namespaces ("$host" or "$mel.*"). The flow interpreter is exempt (it
// alone writes once-guard markers into data.$mel.guards.intent); this is
// applied specifically to patches returned by effect handlers, whose
// patch-builder contract (§9) forbids touching host-owned state.
func ValidateNoReserved(patches []Patch) error {
	for i, p := range patches {
		if value.HasReservedPrefix(p.Path) {
			return errs.Newf(errs.KindInvalidState, "handler patch %d targets reserved path %q", i, p.Path)
		}
	}
	return nil
}

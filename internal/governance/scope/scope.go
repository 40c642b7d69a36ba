// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scope implements the governance layer's scope validation
// (§6.3): the set of data paths an approved execution may mutate, checked
// both before execution (against the proposal's intended action) and
// after (against the actual diff between the base and terminal
// snapshot), so an authority's approval can never be silently exceeded.
//
// Feature: GOVERNANCE_SCOPE
// Spec: spec/governance/scope.md
package scope

import (
	"fmt"
	"strings"

	"melrun/pkg/core/value"
	"melrun/pkg/errs"
)

// ApprovedScope is the mutation envelope an AuthorityDecision grants.
type ApprovedScope struct {
	AllowedPaths  []string
	MaxPatchCount int
}

// AllowsPath reports whether path is covered by one of s.AllowedPaths. A
// pattern ending in ".*" matches any path sharing that prefix; any other
// pattern must match exactly. An empty AllowedPaths list allows nothing —
// callers wanting an unrestricted scope must say so explicitly with "*".
func (s ApprovedScope) AllowsPath(path string) bool {
	for _, pattern := range s.AllowedPaths {
		if pattern == "*" {
			return true
		}
		if strings.HasSuffix(pattern, ".*") {
			if strings.HasPrefix(path, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if pattern == path {
			return true
		}
	}
	return false
}

// ValidatePre checks the data paths an action's flow statically targets
// against the scope before execution begins — a coarse-grained,
// pre-flight version of the same check ValidatePost performs precisely
// after the fact. actionPaths lists those paths (as collected by
// flow.CollectPatchPaths); a scope that disallows any non-reserved one
// rejects the proposal before any compute runs.
func ValidatePre(s ApprovedScope, actionPaths []string) *errs.Error {
	for _, path := range actionPaths {
		if value.HasReservedPrefix(path) {
			continue
		}
		if !s.AllowsPath(path) {
			return errs.Newf(errs.KindScopeViolation, "action path %q is outside the approved scope", path)
		}
	}
	return nil
}

// ValidatePost diffs base against terminal and checks every changed path
// (excluding the reserved data.$host/data.$mel.* namespaces, which are
// host bookkeeping, not governed state) against s. It also enforces
// MaxPatchCount as an upper bound on the number of distinct changed
// paths. This is the authoritative check: ValidatePre is an optimization,
// ValidatePost is what actually gates whether an execution's result is
// accepted into the world lineage (S4).
func ValidatePost(s ApprovedScope, base, terminal any) *errs.Error {
	changed := value.DiffPaths(base, terminal)

	governed := make([]string, 0, len(changed))
	for _, path := range changed {
		if value.HasReservedPrefix(strings.TrimPrefix(path, "data.")) {
			continue
		}
		governed = append(governed, path)
	}

	if s.MaxPatchCount > 0 && len(governed) > s.MaxPatchCount {
		return errs.Newf(errs.KindScopeViolation, "execution touched %d paths, exceeding the approved max of %d", len(governed), s.MaxPatchCount)
	}

	for _, path := range governed {
		if !s.AllowsPath(path) {
			return errs.Newf(errs.KindScopeViolation, fmt.Sprintf("execution touched %q, outside the approved scope", path))
		}
	}
	return nil
}

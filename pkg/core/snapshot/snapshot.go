// SPDX-License-Identifier: AGPL-3.0-or-later

// Package snapshot implements Snapshot, the versioned state value a
// compute call reads and produces (§3, §4.4). A Snapshot is immutable:
// every mutating operation returns a new value built via structural
// sharing (pkg/core/patch), never mutates its receiver in place.
//
// Feature: CORE_SNAPSHOT
// Spec: spec/core/snapshot.md
package snapshot

import (
	"time"

	"melrun/pkg/canon"
	"melrun/pkg/core/patch"
	"melrun/pkg/errs"
)

// Status is the lifecycle state of a snapshot's last compute call.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// System holds host/governance-owned bookkeeping, distinct from user data.
type System struct {
	Status              Status        `json:"status"`
	LastError           *errs.Value   `json:"last_error,omitempty"`
	Errors              []errs.Value  `json:"errors,omitempty"`
	PendingRequirements []string      `json:"pending_requirements,omitempty"`
	CurrentAction       string        `json:"current_action,omitempty"`
}

// Meta carries version and provenance metadata (SN-1: version is strictly
// monotonically increasing across a snapshot's own history).
type Meta struct {
	Version    uint64    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	RandomSeed uint64    `json:"random_seed"`
	SchemaHash string    `json:"schema_hash"`
}

// Snapshot is the full state a compute call operates over: Data (the
// user-owned, patchable tree), Computed (derived, read-only, replaced
// wholesale on every recompute — never merged), System, Input (the
// current intent's input value, read-only for the duration of its
// action), and Meta.
type Snapshot struct {
	Data     map[string]any `json:"data"`
	Computed map[string]any `json:"computed"`
	System   System         `json:"system"`
	Input    any            `json:"input,omitempty"`
	Meta     Meta           `json:"meta"`
}

// New constructs the genesis snapshot for a schema: version 0, empty data
// seeded with field defaults, idle status.
func New(schemaHash string, defaults map[string]any, now time.Time, seed uint64) *Snapshot {
	data := make(map[string]any, len(defaults))
	for k, v := range defaults {
		data[k] = v
	}
	return &Snapshot{
		Data:     data,
		Computed: map[string]any{},
		System:   System{Status: StatusIdle},
		Meta: Meta{
			Version:    0,
			Timestamp:  now,
			RandomSeed: seed,
			SchemaHash: schemaHash,
		},
	}
}

// WithPatches returns a new Snapshot with patches applied to Data and the
// version bumped by exactly one (SN-1: a single compute call, however many
// patches it emits, advances Meta.Version by one — not one per patch).
func (s *Snapshot) WithPatches(patches []patch.Patch, opts patch.Options, now time.Time) (*Snapshot, error) {
	newData, err := patch.Apply(s.Data, patches, opts)
	if err != nil {
		return nil, err
	}
	cp := s.shallowCopy()
	cp.Data = newData.(map[string]any)
	cp.Meta.Version = s.Meta.Version + 1
	cp.Meta.Timestamp = now
	return cp, nil
}

// WithComputed returns a new Snapshot with Computed replaced wholesale
// (never merged: a computed field that no longer resolves must not retain
// a stale value from a prior recompute pass).
func (s *Snapshot) WithComputed(computed map[string]any) *Snapshot {
	cp := s.shallowCopy()
	cp.Computed = computed
	return cp
}

// WithSystem returns a new Snapshot with System replaced wholesale.
func (s *Snapshot) WithSystem(sys System) *Snapshot {
	cp := s.shallowCopy()
	cp.System = sys
	return cp
}

func (s *Snapshot) shallowCopy() *Snapshot {
	cp := *s
	return &cp
}

// Hash returns the content hash of the snapshot's observable state
// (data + computed + system + input), excluding Meta.Timestamp so two
// snapshots reached via the same patches at different wall-clock times
// still hash identically where the spec requires it (determinism tests
// hash Data+Computed alone; full-snapshot Hash is provided for storage
// addressing).
func (s *Snapshot) Hash() (string, error) {
	return canon.Sum256(map[string]any{
		"data":     s.Data,
		"computed": s.Computed,
		"system":   s.System,
		"input":    s.Input,
	})
}

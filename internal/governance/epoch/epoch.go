// SPDX-License-Identifier: AGPL-3.0-or-later

// Package epoch tracks each branch's epoch counter (§6.4, §7 S6): a branch
// switch that retargets the active head supersedes every proposal still
// in flight against the branch's prior epoch, so a slow proposal can never
// land against a world that has since moved on.
//
// Feature: GOVERNANCE_EPOCH
// Spec: spec/governance/epoch.md
package epoch

import (
	"sort"
	"sync"
)

// Tracker owns one epoch counter per branch id.
type Tracker struct {
	mu     sync.Mutex
	epochs map[string]uint64
	// inFlight maps branch id to the set of proposal ids admitted against
	// its current epoch, so Switch can report exactly which ones it just
	// superseded.
	inFlight map[string]map[string]bool
}

// NewTracker returns a tracker with every branch starting at epoch 0.
func NewTracker() *Tracker {
	return &Tracker{epochs: map[string]uint64{}, inFlight: map[string]map[string]bool{}}
}

// Current returns branchID's current epoch (0 if never seen).
func (t *Tracker) Current(branchID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochs[branchID]
}

// Admit records proposalID as in flight against branchID's current epoch
// and returns that epoch, which the proposal must carry through to
// execution: if Switch runs before the proposal completes, its recorded
// epoch will no longer match Current and the governance orchestrator must
// treat it as superseded.
func (t *Tracker) Admit(branchID, proposalID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.inFlight[branchID]
	if !ok {
		set = map[string]bool{}
		t.inFlight[branchID] = set
	}
	set[proposalID] = true
	return t.epochs[branchID]
}

// Complete removes proposalID from the in-flight set once it reaches a
// terminal outcome (completed, failed, or superseded), whichever comes
// first.
func (t *Tracker) Complete(branchID, proposalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight[branchID], proposalID)
}

// IsCurrent reports whether epoch still matches branchID's current epoch —
// the check the governance orchestrator makes before accepting an
// execution's result into the world lineage (S6: a stale epoch means the
// branch moved on while this proposal was executing).
func (t *Tracker) IsCurrent(branchID string, epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochs[branchID] == epoch
}

// Switch increments branchID's epoch and returns the ids of every
// proposal that was in flight against the prior epoch — all of them are
// now superseded and must be rejected by the governance orchestrator
// rather than allowed to land.
func (t *Tracker) Switch(branchID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epochs[branchID]++

	inFlight := t.inFlight[branchID]
	superseded := make([]string, 0, len(inFlight))
	for id := range inFlight {
		superseded = append(superseded, id)
	}
	t.inFlight[branchID] = map[string]bool{}
	sort.Strings(superseded)
	return superseded
}

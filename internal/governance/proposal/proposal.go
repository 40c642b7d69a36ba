// SPDX-License-Identifier: AGPL-3.0-or-later

// Package proposal defines the governance layer's unit of submitted work
// (§6.1): an actor's intent against a base world, plus the deterministic
// execution-key derivation every proposal on the same (world, actor-key,
// action-key) tuple must agree on (EK-1).
//
// Feature: GOVERNANCE_PROPOSAL
// Spec: spec/governance/proposal.md
package proposal

import (
	"time"

	"github.com/google/uuid"

	"melrun/pkg/canon"
	"melrun/pkg/core/compute"
)

// Proposal is one actor's request to run an intent against a world.
type Proposal struct {
	ProposalID  string
	ActorID     string
	Intent      compute.Intent
	BaseWorldID string
	BranchID    string
	Epoch       uint64
	CreatedAt   time.Time
}

// KeyPolicy derives an execution key for a proposal. The default policy
// (DefaultKeyPolicy) satisfies EK-1: two proposals with identical
// (BaseWorldID, ActorID, Intent.ActionName) always derive the same key,
// so they serialize through the same single-runner mailbox regardless of
// which arrived first or how many times either is resubmitted.
type KeyPolicy func(p Proposal) (string, error)

// DefaultKeyPolicy derives the execution key as the canonical hash of the
// world the proposal targets, the actor submitting it, and the action
// name being invoked. Proposal.Intent.Input and ProposalID are
// deliberately excluded: two submissions of the "same" action by the same
// actor against the same world must contend for the same runner even if
// their inputs differ, since they mutate overlapping state.
func DefaultKeyPolicy(p Proposal) (string, error) {
	return canon.Sum256(map[string]any{
		"world_id":    p.BaseWorldID,
		"actor_id":    p.ActorID,
		"action_name": p.Intent.ActionName,
	})
}

// ExecutionKey derives p's execution key under policy, defaulting to
// DefaultKeyPolicy when policy is nil.
func ExecutionKey(p Proposal, policy KeyPolicy) (string, error) {
	if policy == nil {
		policy = DefaultKeyPolicy
	}
	return policy(p)
}

// New builds a Proposal for submission, assigning it a fresh random
// ProposalID. Proposal identity is deliberately NOT content-derived like
// a World's is: two textually identical submissions (e.g. a user clicking
// "retry") are different governance events and must get distinct audit
// trail entries even though they will contend for the same execution key
// (see ExecutionKey). Random, not seeded, because proposal submission
// happens outside any compute call's replay boundary.
func New(actorID, baseWorldID, branchID string, intent compute.Intent, epoch uint64, createdAt time.Time) Proposal {
	return Proposal{
		ProposalID:  uuid.NewString(),
		ActorID:     actorID,
		Intent:      intent,
		BaseWorldID: baseWorldID,
		BranchID:    branchID,
		Epoch:       epoch,
		CreatedAt:   createdAt,
	}
}

// ID derives a deterministic proposal id from its content, used when a
// caller submits the same logical proposal more than once (e.g. client
// retry after a dropped response) and expects idempotent de-duplication
// upstream rather than two distinct governance records.
func ID(actorID, baseWorldID, branchID string, intent compute.Intent, epoch uint64, createdAt time.Time) (string, error) {
	return canon.Sum256(map[string]any{
		"actor_id":      actorID,
		"base_world_id": baseWorldID,
		"branch_id":     branchID,
		"intent":        intent,
		"epoch":         epoch,
		"created_at":    createdAt.UTC().Format(time.RFC3339Nano),
	})
}

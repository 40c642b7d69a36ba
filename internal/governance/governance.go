// SPDX-License-Identifier: AGPL-3.0-or-later

// Package governance wires proposal, authority, scope and epoch together
// into the submission pipeline (§6): derive an execution key, have an
// Authority decide the proposal, pre-validate its statically-known scope,
// run it through the host loop, post-validate the actual diff, and — only
// if every check passes and the branch epoch hasn't moved on underneath
// it — commit the resulting World into the lineage and publish exactly
// the events §8 describes.
package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"melrun/internal/governance/authority"
	"melrun/internal/governance/epoch"
	"melrun/internal/governance/proposal"
	"melrun/internal/governance/scope"
	"melrun/internal/host/loop"
	"melrun/pkg/canon"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/patch"
	"melrun/pkg/core/schema"
	"melrun/pkg/core/snapshot"
	"melrun/pkg/core/value"
	"melrun/pkg/errs"
	"melrun/pkg/events"
	"melrun/pkg/worldstore"
)

// Outcome is the terminal result of Submit.
type Outcome struct {
	Accepted bool
	Rejected bool
	Pending  bool
	Reason   string
	WorldID  string
	Snapshot *snapshot.Snapshot
	Trace    *flow.TraceNode // nil unless the host loop has tracing enabled
}

// Governance is the top-level submission orchestrator.
type Governance struct {
	worldStore worldstore.Store
	loop       *loop.Loop
	authority  authority.Authority
	epochs     *epoch.Tracker
	sink       events.Sink
	keyPolicy  proposal.KeyPolicy

	mu        sync.Mutex
	snapshots map[string]*snapshot.Snapshot // world id -> snapshot, populated as worlds are created
}

// New constructs a Governance orchestrator. A nil sink defaults to
// events.NoopSink{}; a nil keyPolicy defaults to proposal.DefaultKeyPolicy.
func New(ws worldstore.Store, l *loop.Loop, auth authority.Authority, sink events.Sink, keyPolicy proposal.KeyPolicy) *Governance {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Governance{
		worldStore: ws,
		loop:       l,
		authority:  auth,
		epochs:     epoch.NewTracker(),
		sink:       sink,
		keyPolicy:  keyPolicy,
		snapshots:  map[string]*snapshot.Snapshot{},
	}
}

// InitGenesis creates (or fetches the existing) genesis World for s and
// seeds the in-memory snapshot cache for it, returning its id.
func (g *Governance) InitGenesis(ctx context.Context, s *schema.Schema, defaults map[string]any, now time.Time, seed uint64) (string, error) {
	snap := snapshot.New(s.Hash, defaults, now, seed)
	snapHash, err := snap.Hash()
	if err != nil {
		return "", err
	}
	w, err := g.worldStore.InitializeGenesis(ctx, s.Hash, snapHash, now)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.snapshots[w.WorldID] = snap
	g.mu.Unlock()
	return w.WorldID, nil
}

func (g *Governance) snapshotFor(worldID string) (*snapshot.Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.snapshots[worldID]
	return s, ok
}

func (g *Governance) rememberSnapshot(worldID string, s *snapshot.Snapshot) {
	g.mu.Lock()
	g.snapshots[worldID] = s
	g.mu.Unlock()
}

// Submit runs p through the full governance pipeline against schema s.
func (g *Governance) Submit(ctx context.Context, p proposal.Proposal, s *schema.Schema, now time.Time, seed uint64) (Outcome, error) {
	g.sink.Publish(events.Event{Kind: events.KindProposalSubmitted, Key: p.ProposalID, Data: map[string]any{"actor_id": p.ActorID}})

	admittedEpoch := g.epochs.Admit(p.BranchID, p.ProposalID)
	defer g.epochs.Complete(p.BranchID, p.ProposalID)

	g.sink.Publish(events.Event{Kind: events.KindProposalEvaluating, Key: p.ProposalID})
	decision := g.authority.Decide(p, now)

	if !decision.Approved {
		g.sink.Publish(events.Event{Kind: events.KindProposalDecided, Key: p.ProposalID, Data: map[string]any{"approved": false, "reason": decision.Reason}})
		return Outcome{Rejected: true, Reason: decision.Reason}, nil
	}
	if decision.ApprovedScope == nil {
		return Outcome{}, errs.Newf(errs.KindInternal, "authority approved proposal %q without an approved scope", p.ProposalID)
	}

	action, ok := s.Actions[p.Intent.ActionName]
	if !ok {
		return Outcome{}, errs.Newf(errs.KindUnknownAction, "action %q not found in schema", p.Intent.ActionName)
	}
	if err := scope.ValidatePre(*decision.ApprovedScope, flow.CollectPatchPaths(action.Flow)); err != nil {
		g.sink.Publish(events.Event{Kind: events.KindExecutionFailed, Key: p.ProposalID, Data: map[string]any{"reason": err.Message}})
		return Outcome{Rejected: true, Reason: err.Message}, nil
	}

	baseSnap, ok := g.snapshotFor(p.BaseWorldID)
	if !ok {
		return Outcome{}, errs.Newf(errs.KindWorldNotFound, "no snapshot cached for base world %q", p.BaseWorldID)
	}

	key, err := proposal.ExecutionKey(p, g.keyPolicy)
	if err != nil {
		return Outcome{}, errs.Newf(errs.KindInternal, "execution key derivation failed: %v", err)
	}

	out, runErr := g.loop.Submit(ctx, key, s, baseSnap, p.Intent, now, seed)
	if runErr != nil {
		return Outcome{}, runErr
	}

	if out.Snapshot == nil {
		// Queued behind another in-flight job on this key; the caller
		// observes the eventual terminal outcome via the event sink.
		return Outcome{Pending: true}, nil
	}
	if !isTerminalSnapshot(out) {
		// Suspended on an in-flight effect: the host loop resumes it off
		// its own mailbox goroutine once the handler returns, and the
		// eventual execution:completed/failed event is this proposal's
		// terminal notification — committing the resulting World at that
		// point is the caller's responsibility via a Sink that re-invokes
		// Submit's post-execution half, not implemented here.
		return Outcome{Pending: true, Snapshot: out.Snapshot, Trace: out.Trace}, nil
	}

	if err := scope.ValidatePost(*decision.ApprovedScope, baseSnap.Data, out.Snapshot.Data); err != nil {
		g.sink.Publish(events.Event{Kind: events.KindExecutionFailed, Key: p.ProposalID, Data: map[string]any{"reason": err.Message}})
		return Outcome{Rejected: true, Reason: err.Message}, nil
	}

	if !g.epochs.IsCurrent(p.BranchID, admittedEpoch) {
		g.sink.Publish(events.Event{Kind: events.KindProposalSuperseded, Key: p.ProposalID})
		return Outcome{Rejected: true, Reason: "branch epoch advanced while this proposal was executing"}, nil
	}

	worldID, err := g.commitWorld(ctx, p, s, baseSnap, out.Snapshot, now)
	if err != nil {
		return Outcome{}, err
	}

	g.sink.Publish(events.Event{Kind: events.KindWorldCreated, Key: p.ProposalID, Data: map[string]any{"world_id": worldID}})
	g.sink.Publish(events.Event{Kind: events.KindExecutionCompleted, Key: p.ProposalID, Data: map[string]any{"world_id": worldID}})
	g.sink.Publish(events.Event{Kind: events.KindProposalDecided, Key: p.ProposalID, Data: map[string]any{"approved": true, "world_id": worldID}})

	return Outcome{Accepted: true, WorldID: worldID, Snapshot: out.Snapshot, Trace: out.Trace}, nil
}

func isTerminalSnapshot(out loop.Outcome) bool {
	return out.Status == flow.StatusCompleted || out.Status == flow.StatusFailed || out.Status == flow.StatusHalted
}

// commitWorld derives the new World's id from the content of the
// resulting snapshot, reconstructs an approximate patch list from the
// base/terminal diff for the recorded WorldDelta (an audit trail, not a
// byte-exact replay log — see DESIGN.md), and atomically stores it.
func (g *Governance) commitWorld(ctx context.Context, p proposal.Proposal, s *schema.Schema, base, terminal *snapshot.Snapshot, now time.Time) (string, error) {
	terminalHash, err := terminal.Hash()
	if err != nil {
		return "", err
	}
	worldID, err := canon.Sum256(map[string]any{
		"parent":        p.BaseWorldID,
		"snapshot_hash": terminalHash,
		"proposal_id":   p.ProposalID,
	})
	if err != nil {
		return "", err
	}
	worldID = fmt.Sprintf("world-%s", worldID[:16])

	parent, err := g.worldStore.GetWorld(ctx, p.BaseWorldID)
	if err != nil {
		return "", err
	}

	patches := reconstructPatches(base.Data, terminal.Data)
	delta := worldstore.WorldDelta{FromWorldID: p.BaseWorldID, ToWorldID: worldID, Patches: patches, CreatedAt: now}
	next := worldstore.World{WorldID: worldID, SchemaHash: s.Hash, SnapshotHash: terminalHash, CreatedAt: now, CreatedByProposal: p.ProposalID}

	if err := g.worldStore.Store(ctx, *parent, next, delta); err != nil {
		return "", err
	}
	g.rememberSnapshot(worldID, terminal)
	return worldID, nil
}

// reconstructPatches builds a "set" patch for every path that changed
// between base and terminal. This reconstructs enough information for
// lineage auditing and diffing tools, but is not guaranteed to replay
// byte-identically to the original patch batch (e.g. an unset followed by
// a re-set collapses to a single set) — the authoritative replay source
// is always re-running compute from the intent, not replaying deltas.
func reconstructPatches(base, terminal any) []patch.Patch {
	paths := value.DiffPaths(base, terminal)
	out := make([]patch.Patch, 0, len(paths))
	for _, p := range paths {
		v, ok := value.Get(terminal, p)
		if !ok {
			out = append(out, patch.Unset(p))
			continue
		}
		out = append(out, patch.Set(p, v))
	}
	return out
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package compute implements the pure core evaluator: the total function
// compute(schema, snapshot_in, intent, host_ctx) -> ComputeResult that
// every other layer (host loop, governance) is built on top of (§4).
//
// Feature: CORE_COMPUTE
// Spec: spec/core/compute.md
package compute

import (
	"time"

	"melrun/pkg/canon"
	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/patch"
	"melrun/pkg/core/schema"
	"melrun/pkg/core/snapshot"
	"melrun/pkg/errs"
)

// Intent names the action to run and the input it is invoked with.
type Intent struct {
	ID         string
	ActionName string
	Input      any
}

// Requirement is a pending effect awaiting an external fulfillment,
// carrying the deterministic REQ-ID (§6.1): hash(schema_hash, intent_id,
// action_id, flow_node_path). Identical (schema, intent, action, node)
// tuples always produce the same id, so re-deriving a Requirement from a
// replayed flow never creates a duplicate under a different identity.
type Requirement struct {
	ID         string
	EffectType string
	Params     map[string]any
	ActionID   string
	NodePath   string
}

// Result is the outcome of one compute call.
type Result struct {
	Status       flow.Status
	Snapshot     *snapshot.Snapshot
	Requirements []Requirement
	Trace        *flow.TraceNode // nil unless host.TraceEnabled
}

// maxContinueIterations is the replay bound value returned by
// MaxContinueIterations. Compute runs a flow exactly once per call and
// does not read it; the host loop neither calls MaxContinueIterations nor
// counts ContinueCompute replays, so nothing in this module raises
// errs.KindLoopMaxIterations.
const maxContinueIterations = 128

// MaxContinueIterations returns the replay bound value (128). No caller in
// this module enforces it.
func MaxContinueIterations() int { return maxContinueIterations }

// Compute evaluates one intent against snapshotIn under schema s, returning
// the next snapshot and any newly-surfaced requirements. It is a pure,
// deterministic function of its four inputs: no wall-clock reads, no
// non-seeded randomness, no I/O.
func Compute(s *schema.Schema, snapshotIn *snapshot.Snapshot, intent Intent, host HostContext) Result {
	// Parsed once, up front: every error constructed below (directly here
	// or inside the interpreter) is stamped from this frozen value, never
	// from wall-clock time, so identical inputs that hit an error path
	// still produce byte-equal canonical output (§4.1, §8 invariant 1).
	now, _ := time.Parse(time.RFC3339, host.Now)

	action, ok := s.Actions[intent.ActionName]
	if !ok {
		return failureResult(s, snapshotIn, host, errs.Newf(errs.KindUnknownAction, "unknown action %q", intent.ActionName).WithTimestamp(now))
	}

	resolver := actionResolver{schema: s}
	env := newEnv(s, snapshotIn, intent, host)

	ip := flow.NewInterpreter(env, intent.ID, intent.ActionName, resolver)
	ip.TraceEnabled = host.TraceEnabled
	ip.Now = now
	flowResult := ip.Run(action.Flow)

	switch flowResult.Status {
	case flow.StatusFailed:
		return failureResult(s, snapshotIn, host, flowResult.Err)

	case flow.StatusPending:
		next, err := snapshotIn.WithPatches(flowResult.Patches, patch.DefaultOptions(), now)
		if err != nil {
			return failureResult(s, snapshotIn, host, errs.Wrap(errs.KindInternal, err, "failed to apply guard-marker patch").WithTimestamp(now))
		}
		next = recompute(s, next, intent, host)

		var reqs []Requirement
		sys := next.System
		if flowResult.Requirement != nil {
			reqID, _ := canon.Sum256(map[string]any{
				"schema_hash": s.Hash,
				"intent_id":   intent.ID,
				"action_id":   intent.ActionName,
				"node_path":   flowResult.Requirement.NodePath,
			})
			reqs = append(reqs, Requirement{
				ID:         reqID,
				EffectType: flowResult.Requirement.EffectType,
				Params:     flowResult.Requirement.Params,
				ActionID:   intent.ActionName,
				NodePath:   flowResult.Requirement.NodePath,
			})
			sys.PendingRequirements = append(append([]string{}, sys.PendingRequirements...), reqID)
		}
		sys.Status = snapshot.StatusPending
		sys.CurrentAction = intent.ActionName
		next = next.WithSystem(sys)

		return Result{Status: flow.StatusPending, Snapshot: next, Requirements: reqs, Trace: flowResult.Trace}

	default: // StatusCompleted, StatusHalted
		next, err := snapshotIn.WithPatches(flowResult.Patches, patch.DefaultOptions(), now)
		if err != nil {
			return failureResult(s, snapshotIn, host, errs.Wrap(errs.KindInternal, err, "failed to apply action patches").WithTimestamp(now))
		}
		next = recompute(s, next, intent, host)
		sys := next.System
		sys.Status = snapshot.StatusIdle
		sys.CurrentAction = ""
		next = next.WithSystem(sys)
		return Result{Status: flowResult.Status, Snapshot: next, Trace: flowResult.Trace}
	}
}

// failureResult records a terminal error into System without applying any
// of the failed run's patches: a failed action leaves Data untouched,
// only System.Errors/LastError/Status change.
func failureResult(s *schema.Schema, in *snapshot.Snapshot, host HostContext, errv *errs.Error) Result {
	sys := in.System
	v := errv.AsValue()
	sys.LastError = &v
	sys.Errors = append(append([]errs.Value{}, sys.Errors...), v)
	sys.Status = snapshot.StatusFailed
	sys.CurrentAction = ""
	next := in.WithSystem(sys)
	next = recompute(s, next, Intent{}, host)
	return Result{Status: flow.StatusFailed, Snapshot: next}
}

// recompute re-evaluates every computed field in the schema's topological
// order against the snapshot's post-patch Data, replacing Computed
// wholesale (never merging stale entries forward).
func recompute(s *schema.Schema, snap *snapshot.Snapshot, intent Intent, host HostContext) *snapshot.Snapshot {
	computed := map[string]any{}
	for _, name := range s.ComputedOrder() {
		spec := s.Computed[name]
		env := &snapshotEnv{
			data:     snap.Data,
			computed: computed,
			system:   systemToMap(snap.System),
			input:    intent.Input,
			host:     host,
			uuidSeq:  newUUIDSequence(host.RandomSeed),
		}
		v, errv := expr.Eval(spec.Expr, env)
		if errv != nil {
			continue // a computed field that fails to resolve is simply absent, not a terminal error
		}
		computed[name] = v
	}
	return snap.WithComputed(computed)
}

func systemToMap(sys snapshot.System) map[string]any {
	return map[string]any{
		"status":               string(sys.Status),
		"current_action":       sys.CurrentAction,
		"pending_requirements": sys.PendingRequirements,
	}
}

type actionResolver struct {
	schema *schema.Schema
}

func (r actionResolver) ResolveAction(name string) (*flow.Node, bool) {
	a, ok := r.schema.Actions[name]
	if !ok {
		return nil, false
	}
	return a.Flow, true
}

func newEnv(s *schema.Schema, snap *snapshot.Snapshot, intent Intent, host HostContext) *snapshotEnv {
	return &snapshotEnv{
		data:     snap.Data,
		computed: snap.Computed,
		system:   systemToMap(snap.System),
		input:    intent.Input,
		host:     host,
		uuidSeq:  newUUIDSequence(host.RandomSeed),
	}
}

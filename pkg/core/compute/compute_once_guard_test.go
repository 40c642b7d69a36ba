// SPDX-License-Identifier: AGPL-3.0-or-later

package compute_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/compute"
	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/schema"
	"melrun/pkg/core/snapshot"
)

func onceCounterSchema(t *testing.T) *schema.Schema {
	def := schema.Def{
		ID:     "once-counter",
		Fields: []schema.FieldSpec{{Name: "count", Type: "number", Default: 0.0}},
		Actions: []schema.Action{
			{
				Name: "increment",
				Flow: flow.Once(
					flow.Patch(flow.PatchSpec{Op: "set", Path: "count", Value: expr.Add(expr.Get("data.count"), expr.Lit(1.0))}),
				),
			},
		},
	}
	s, errv := schema.Load(def)
	require.Nil(t, errv)
	return s
}

// S2 / invariant 4 (once-guard idempotence): replaying the same intent id
// against a pure (effect-free) action wrapped in once(...) must apply its
// body exactly once — a second Compute call with the same intent id is a
// no-op, not a second increment.
func TestCompute_OnceGuard_SameIntentID_Idempotent(t *testing.T) {
	s := onceCounterSchema(t)
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snap := snapshot.New(s.Hash, map[string]any{"count": 0.0}, now, 1)
	intent := compute.Intent{ID: "abc", ActionName: "increment"}
	host := compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "abc", ActionID: "increment", RandomSeed: 1}

	res1 := compute.Compute(s, snap, intent, host)
	require.Equal(t, flow.StatusCompleted, res1.Status)
	require.Equal(t, 1.0, res1.Snapshot.Data["count"])

	res2 := compute.Compute(s, res1.Snapshot, intent, host)
	require.Equal(t, flow.StatusCompleted, res2.Status)
	require.Equal(t, 1.0, res2.Snapshot.Data["count"], "replaying the same intent id must not increment a second time")
}

// A distinct intent id is a distinct guard key, so it must still apply.
func TestCompute_OnceGuard_DifferentIntentID_AppliesAgain(t *testing.T) {
	s := onceCounterSchema(t)
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snap := snapshot.New(s.Hash, map[string]any{"count": 0.0}, now, 1)

	res1 := compute.Compute(s, snap, compute.Intent{ID: "abc", ActionName: "increment"},
		compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "abc", ActionID: "increment", RandomSeed: 1})
	require.Equal(t, 1.0, res1.Snapshot.Data["count"])

	res2 := compute.Compute(s, res1.Snapshot, compute.Intent{ID: "xyz", ActionName: "increment"},
		compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "xyz", ActionID: "increment", RandomSeed: 1})
	require.Equal(t, flow.StatusCompleted, res2.Status)
	require.Equal(t, 2.0, res2.Snapshot.Data["count"])
}

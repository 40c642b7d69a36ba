// SPDX-License-Identifier: AGPL-3.0-or-later

package compute_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/compute"
	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/patch"
	"melrun/pkg/core/schema"
	"melrun/pkg/core/snapshot"
	"melrun/pkg/errs"
)

func counterSchema(t *testing.T) *schema.Schema {
	def := schema.Def{
		ID:      "counter",
		Version: "v1",
		Fields:  []schema.FieldSpec{{Name: "count", Type: "number", Default: 0.0}},
		Computed: []schema.ComputedSpec{
			{Name: "doubled", Expr: expr.Mul(expr.Get("data.count"), expr.Lit(2.0)), Deps: []string{"data.count"}},
		},
		Actions: []schema.Action{
			{
				Name: "increment",
				Flow: flow.Seq(
					flow.Patch(flow.PatchSpec{Op: "set", Path: "count", Value: expr.Add(expr.Get("data.count"), expr.Lit(1.0))}),
				),
			},
		},
	}
	s, errv := schema.Load(def)
	require.Nil(t, errv)
	return s
}

func hostNow(t string) compute.HostContext {
	return compute.HostContext{Now: t, IntentID: "intent-1", ActionID: "increment", RandomSeed: 7}
}

// S1: sequential counter increments, version monotonicity + computed recompute.
func TestCompute_SequentialIncrements(t *testing.T) {
	s := counterSchema(t)
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snap := snapshot.New(s.Hash, map[string]any{"count": 0.0}, now, 1)

	for i := 1; i <= 3; i++ {
		res := compute.Compute(s, snap, compute.Intent{ID: "intent-1", ActionName: "increment"}, hostNow(now.Format(time.RFC3339)))
		require.Equal(t, flow.StatusCompleted, res.Status)
		snap = res.Snapshot
		require.Equal(t, float64(i), snap.Data["count"])
		require.Equal(t, float64(i)*2, snap.Computed["doubled"])
		require.Equal(t, uint64(i), snap.Meta.Version)
	}
}

func TestCompute_UnknownAction_RecordsError(t *testing.T) {
	s := counterSchema(t)
	now := time.Now()
	snap := snapshot.New(s.Hash, map[string]any{"count": 0.0}, now, 1)

	res := compute.Compute(s, snap, compute.Intent{ID: "i1", ActionName: "nope"}, hostNow(now.Format(time.RFC3339)))
	require.Equal(t, flow.StatusFailed, res.Status)
	require.NotNil(t, res.Snapshot.System.LastError)
	require.Equal(t, errs.KindUnknownAction, res.Snapshot.System.LastError.Kind)
	require.Equal(t, 0.0, res.Snapshot.Data["count"], "failed compute must not mutate data")
}

// S3: effect round trip — suspend on first reach, resume past it once the
// host applies the fulfillment patches and flips the guard marker.
func TestCompute_EffectSuspendThenResume(t *testing.T) {
	def := schema.Def{
		ID:     "notify",
		Fields: []schema.FieldSpec{{Name: "sent", Type: "bool", Default: false}},
		Actions: []schema.Action{
			{
				Name: "notify",
				Flow: flow.Seq(
					flow.Effect("send_email", map[string]*expr.Node{"to": expr.Lit("a@example.com")}, "last_send_result"),
					flow.Patch(flow.PatchSpec{Op: "set", Path: "sent", Value: expr.Lit(true)}),
				),
			},
		},
	}
	s, errv := schema.Load(def)
	require.Nil(t, errv)

	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	snap := snapshot.New(s.Hash, map[string]any{"sent": false}, now, 1)

	intent := compute.Intent{ID: "intent-1", ActionName: "notify"}
	res := compute.Compute(s, snap, intent, compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "intent-1", ActionID: "notify", RandomSeed: 1})
	require.Equal(t, flow.StatusPending, res.Status)
	require.Len(t, res.Requirements, 1)
	require.Equal(t, "send_email", res.Requirements[0].EffectType)
	require.Equal(t, false, res.Snapshot.Data["sent"])

	nodePath := res.Requirements[0].NodePath
	fulfilled, err := res.Snapshot.WithPatches([]patch.Patch{
		flow.MarkFulfilled("intent-1", nodePath),
	}, patch.DefaultOptions(), now)
	require.NoError(t, err)

	res2 := compute.Compute(s, fulfilled, intent, compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "intent-1", ActionID: "notify", RandomSeed: 1})
	require.Equal(t, flow.StatusCompleted, res2.Status)
	require.Equal(t, true, res2.Snapshot.Data["sent"])
}

// S2-style: same intent id replayed twice must not emit a second requirement
// for an effect that is already pending.
func TestCompute_EffectPending_NoDuplicateRequirementOnReplay(t *testing.T) {
	def := schema.Def{
		ID: "notify",
		Actions: []schema.Action{
			{Name: "notify", Flow: flow.Effect("send_email", map[string]*expr.Node{"to": expr.Lit("a@example.com")}, "")},
		},
	}
	s, errv := schema.Load(def)
	require.Nil(t, errv)

	now := time.Now()
	snap := snapshot.New(s.Hash, map[string]any{}, now, 1)
	intent := compute.Intent{ID: "intent-1", ActionName: "notify"}
	host := compute.HostContext{Now: now.Format(time.RFC3339), IntentID: "intent-1", ActionID: "notify", RandomSeed: 1}

	res1 := compute.Compute(s, snap, intent, host)
	require.Len(t, res1.Requirements, 1)

	res2 := compute.Compute(s, res1.Snapshot, intent, host)
	require.Equal(t, flow.StatusPending, res2.Status)
	require.Empty(t, res2.Requirements, "effect already pending must not re-emit a requirement")
}

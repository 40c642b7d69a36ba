// SPDX-License-Identifier: AGPL-3.0-or-later

package flow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
)

type fakeEnv struct {
	data map[string]any
}

func (f *fakeEnv) Get(path string) (any, bool) {
	v, ok := f.data[path]
	return v, ok
}
func (f *fakeEnv) Sys(path string) (any, bool) { return nil, false }
func (f *fakeEnv) NextUUID() string            { return "fixed-uuid" }

type nilResolver struct{}

func (nilResolver) ResolveAction(name string) (*flow.Node, bool) { return nil, false }

func TestInterp_Seq_Patch(t *testing.T) {
	root := flow.Seq(
		flow.Patch(flow.PatchSpec{Op: "set", Path: "count", Value: expr.Lit(1.0)}),
		flow.Patch(flow.PatchSpec{Op: "set", Path: "count", Value: expr.Lit(2.0)}),
	)
	flow.AssignPaths(root)

	ip := flow.NewInterpreter(&fakeEnv{data: map[string]any{}}, "intent-1", "incr", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusCompleted, res.Status)
	require.Len(t, res.Patches, 2)
}

func TestInterp_If_TakesThenBranch(t *testing.T) {
	root := flow.If(
		expr.Lit(true),
		flow.Patch(flow.PatchSpec{Op: "set", Path: "branch", Value: expr.Lit("then")}),
		flow.Patch(flow.PatchSpec{Op: "set", Path: "branch", Value: expr.Lit("else")}),
	)
	flow.AssignPaths(root)

	ip := flow.NewInterpreter(&fakeEnv{data: map[string]any{}}, "intent-1", "act", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusCompleted, res.Status)
	require.Equal(t, "branch", res.Patches[0].Path)
	require.Equal(t, "then", res.Patches[0].Value)
}

func TestInterp_Effect_FirstReach_EmitsRequirementAndSuspends(t *testing.T) {
	root := flow.Seq(
		flow.Effect("send_email", map[string]*expr.Node{"to": expr.Lit("a@example.com")}, "result"),
		flow.Patch(flow.PatchSpec{Op: "set", Path: "done", Value: expr.Lit(true)}),
	)
	flow.AssignPaths(root)

	env := &fakeEnv{data: map[string]any{}}
	ip := flow.NewInterpreter(env, "intent-1", "notify", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusPending, res.Status)
	require.NotNil(t, res.Requirement)
	require.Equal(t, "send_email", res.Requirement.EffectType)
	require.Len(t, res.Patches, 1, "guard marker should be the only patch emitted on suspension")
}

func TestInterp_Effect_StillPending_NoDuplicateRequirement(t *testing.T) {
	root := flow.Seq(
		flow.Effect("send_email", map[string]*expr.Node{"to": expr.Lit("a@example.com")}, "result"),
	)
	flow.AssignPaths(root)

	env := &fakeEnv{data: map[string]any{"data.$mel.guards.intent.intent-1.node_0": "pending"}}
	ip := flow.NewInterpreter(env, "intent-1", "notify", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusPending, res.Status)
	require.Nil(t, res.Requirement)
	require.Empty(t, res.Patches)
}

func TestInterp_Effect_Fulfilled_ContinuesPastIt(t *testing.T) {
	root := flow.Seq(
		flow.Effect("send_email", map[string]*expr.Node{"to": expr.Lit("a@example.com")}, "result"),
		flow.Patch(flow.PatchSpec{Op: "set", Path: "done", Value: expr.Lit(true)}),
	)
	flow.AssignPaths(root)

	env := &fakeEnv{data: map[string]any{"data.$mel.guards.intent.intent-1.node_0": "fulfilled"}}
	ip := flow.NewInterpreter(env, "intent-1", "notify", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusCompleted, res.Status)
	require.Len(t, res.Patches, 1)
	require.Equal(t, "done", res.Patches[0].Path)
}

func TestInterp_Call_CyclicDetection(t *testing.T) {
	self := flow.Call("loop")
	flow.AssignPaths(self)

	resolver := selfResolver{node: self}
	ip := flow.NewInterpreter(&fakeEnv{data: map[string]any{}}, "intent-1", "loop", resolver)
	res := ip.Run(self)

	require.NotNil(t, res.Err)
	require.Equal(t, flow.StatusFailed, res.Status)
}

type selfResolver struct{ node *flow.Node }

func (r selfResolver) ResolveAction(name string) (*flow.Node, bool) {
	if name == "loop" {
		return r.node, true
	}
	return nil, false
}

func TestInterp_Fail(t *testing.T) {
	root := flow.Fail("invalid_input", "bad state")
	flow.AssignPaths(root)

	ip := flow.NewInterpreter(&fakeEnv{data: map[string]any{}}, "intent-1", "act", nilResolver{})
	res := ip.Run(root)

	require.NotNil(t, res.Err)
	require.Equal(t, flow.StatusFailed, res.Status)
}

func TestInterp_Halt(t *testing.T) {
	root := flow.Seq(flow.Halt(), flow.Patch(flow.PatchSpec{Op: "set", Path: "x", Value: expr.Lit(1.0)}))
	flow.AssignPaths(root)

	ip := flow.NewInterpreter(&fakeEnv{data: map[string]any{}}, "intent-1", "act", nilResolver{})
	res := ip.Run(root)

	require.Nil(t, res.Err)
	require.Equal(t, flow.StatusHalted, res.Status)
	require.Empty(t, res.Patches)
}

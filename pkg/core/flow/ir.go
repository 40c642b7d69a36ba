// SPDX-License-Identifier: AGPL-3.0-or-later

// Package flow implements the action flow IR and its interpreter (§4.2).
// A flow is a tree of seq/if/patch/effect/call/once/halt/fail nodes
// compiled from an action's guarded-block source. Flows are replayed in
// full on every compute call; once(intent_id) nodes (backed by the same
// reserved data.$mel.guards.intent namespace an effect node's own guard
// marker uses) make an already-completed pure action body a no-op on
// replay, exactly like an effect's guard does for its own node.
//
// Feature: CORE_FLOW
// Spec: spec/core/flow.md
package flow

import (
	"strconv"

	"melrun/pkg/core/expr"
)

// Kind tags a flow node's variant.
type Kind string

const (
	KindSeq    Kind = "seq"
	KindIf     Kind = "if"
	KindPatch  Kind = "patch"
	KindEffect Kind = "effect"
	KindCall   Kind = "call"
	KindOnce   Kind = "once"
	KindHalt   Kind = "halt"
	KindFail   Kind = "fail"
)

// PatchSpec is the flow-IR shape of a single patch operation; the Value is
// an expression evaluated against the current snapshot/it environment at
// execution time, not a static literal.
type PatchSpec struct {
	Op    string
	Path  string
	Value *expr.Node
}

// Node is one node of the flow IR. Which fields are populated depends on
// Kind, mirroring the expr IR's tagged-union shape.
type Node struct {
	Kind Kind

	// seq
	Children []*Node

	// if
	Cond *expr.Node
	Then *Node
	Else *Node

	// patch
	Patches []PatchSpec

	// effect
	EffectType string
	Params     map[string]*expr.Node
	ResultPath string // declared result path; counted by CollectPatchPaths, but neither the interpreter nor the host loop writes to it (handler patches are applied as returned)

	// call
	ActionName string

	// once
	Body *Node

	// fail
	FailKind    string
	FailMessage string

	// path is this node's position within its owning action's flow tree,
	// assigned at schema-load time by AssignPaths. It is the node_path
	// component of the deterministic requirement id (REQ-ID, §6.1), of
	// error Source.NodePath, and — for a once node — the key its guard
	// marker is stamped under (so distinct once blocks never collide).
	path string
}

// Path returns the node's position within its flow tree (e.g. "0.then.1").
func (n *Node) Path() string { return n.path }

func Seq(children ...*Node) *Node { return &Node{Kind: KindSeq, Children: children} }

func If(cond *expr.Node, then, els *Node) *Node {
	return &Node{Kind: KindIf, Cond: cond, Then: then, Else: els}
}

func Patch(patches ...PatchSpec) *Node { return &Node{Kind: KindPatch, Patches: patches} }

func Effect(effectType string, params map[string]*expr.Node, resultPath string) *Node {
	return &Node{Kind: KindEffect, EffectType: effectType, Params: params, ResultPath: resultPath}
}

func Call(actionName string) *Node { return &Node{Kind: KindCall, ActionName: actionName} }

// Once wraps body so it runs at most once per intent id (invariant 4,
// once-guard idempotence): replaying the same intent against a snapshot
// that already carries this node's fulfilled guard marker skips body
// entirely and produces no further patches.
func Once(body *Node) *Node { return &Node{Kind: KindOnce, Body: body} }

func Halt() *Node { return &Node{Kind: KindHalt} }

func Fail(kind, message string) *Node { return &Node{Kind: KindFail, FailKind: kind, FailMessage: message} }

// AssignPaths walks the tree depth-first, stamping each node's Path()
// deterministically from its position. Must be called once at schema
// load time before the flow is ever executed or hashed.
func AssignPaths(root *Node) { assignPaths(root, "") }

func assignPaths(n *Node, prefix string) {
	if n == nil {
		return
	}
	n.path = prefix
	for i, c := range n.Children {
		assignPaths(c, childPath(prefix, i))
	}
	assignPaths(n.Then, prefix+".then")
	assignPaths(n.Else, prefix+".else")
	assignPaths(n.Body, prefix+".once")
}

func childPath(prefix string, i int) string {
	if prefix == "" {
		return strconv.Itoa(i)
	}
	return prefix + "." + strconv.Itoa(i)
}

// CollectPatchPaths walks root's tree and returns every data path a
// KindPatch node (or an effect's ResultPath) may write to, in tree order
// with duplicates removed. It does not follow KindCall, so paths written
// by a called action are not included. It is used by
// the governance layer's pre-execution scope check to reject a proposal
// before compute ever runs, when the target paths are staticaly known.
func CollectPatchPaths(root *Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindSeq:
			for _, c := range n.Children {
				walk(c)
			}
		case KindIf:
			walk(n.Then)
			walk(n.Else)
		case KindOnce:
			walk(n.Body)
		case KindPatch:
			for _, p := range n.Patches {
				if !seen[p.Path] {
					seen[p.Path] = true
					out = append(out, p.Path)
				}
			}
		case KindEffect:
			if n.ResultPath != "" && !seen[n.ResultPath] {
				seen[n.ResultPath] = true
				out = append(out, n.ResultPath)
			}
		}
	}
	walk(root)
	return out
}

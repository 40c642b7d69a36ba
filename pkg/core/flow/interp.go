// SPDX-License-Identifier: AGPL-3.0-or-later

package flow

import (
	"strings"
	"time"

	"melrun/pkg/core/expr"
	"melrun/pkg/core/patch"
	"melrun/pkg/errs"
)

// Status is the terminal (or suspension) state of one flow execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusHalted    Status = "halted"
	StatusFailed    Status = "failed"
)

// Requirement is emitted when an effect node is reached for the first time
// (no guard marker yet recorded). Its deterministic id is derived
// upstream by the caller from (schema_hash, intent_id, action_id,
// node_path) per REQ-ID; the interpreter itself is schema-agnostic and
// only surfaces the raw ingredients.
type Requirement struct {
	EffectType string
	Params     map[string]any
	NodePath   string
}

// Resolver looks up a named action's compiled flow for call(name) nodes.
type Resolver interface {
	ResolveAction(name string) (*Node, bool)
}

// Result is the outcome of one Run over a flow tree.
type Result struct {
	Patches     []patch.Patch
	Status      Status
	Requirement *Requirement
	Err         *errs.Error
	Trace       *TraceNode // nil unless Interpreter.TraceEnabled
}

// guardState is read by the interpreter to discover whether an effect or
// once-guarded block has already run for this intent.
type guardState string

const (
	guardAbsent    guardState = ""
	guardPending   guardState = "pending"
	guardFulfilled guardState = "fulfilled"
)

// Interpreter replays a compiled flow tree against a read-only environment,
// re-deriving the same sequence of patches/suspension points every time it
// is run with the same env + guard markers (determinism, §4.2).
type Interpreter struct {
	Env          expr.Env
	IntentID     string
	ActionID     string
	Resolver     Resolver
	TraceEnabled bool // §4 "Trace" toggle; never influences patches/status/requirements

	// Now is host_ctx.now, injected by the caller (set alongside
	// TraceEnabled, after NewInterpreter). Every error this interpreter
	// constructs is stamped with Now rather than wall-clock time, so two
	// runs against identical (schema, snapshot, intent, host_ctx) that
	// both hit an error path still produce byte-equal canonical output
	// (§4.1, §8 invariant 1) — see errs.Error.WithTimestamp.
	Now time.Time

	callStack map[string]bool // cyclic-call guard (SC-2) at run time, belt-and-braces over the load-time check
}

// NewInterpreter constructs an Interpreter for one compute call.
func NewInterpreter(env expr.Env, intentID, actionID string, resolver Resolver) *Interpreter {
	return &Interpreter{Env: env, IntentID: intentID, ActionID: actionID, Resolver: resolver, callStack: map[string]bool{}}
}

// Run executes root to completion, suspension, halt, or failure.
func (ip *Interpreter) Run(root *Node) Result {
	var patches []patch.Patch
	rootID := traceRootID(ip.IntentID, ip.ActionID)
	status, req, errv, trace := ip.exec(root, &patches, rootID, 0)
	return Result{Patches: patches, Status: status, Requirement: req, Err: errv, Trace: trace}
}

func (ip *Interpreter) exec(n *Node, patches *[]patch.Patch, parentID string, index int) (Status, *Requirement, *errs.Error, *TraceNode) {
	if n == nil {
		return StatusCompleted, nil, nil, nil
	}

	id := traceChildID(parentID, n.path, index)

	switch n.Kind {
	case KindSeq:
		var children []*TraceNode
		for i, c := range n.Children {
			status, req, errv, child := ip.exec(c, patches, id, i)
			if ip.TraceEnabled && child != nil {
				children = append(children, child)
			}
			if status != StatusCompleted || errv != nil {
				return status, req, errv, ip.trace(id, n, children, nil)
			}
		}
		return StatusCompleted, nil, nil, ip.trace(id, n, children, nil)

	case KindIf:
		v, errv := expr.Eval(n.Cond, ip.Env)
		if errv != nil {
			return StatusFailed, nil, ip.annotate(errv, n.path), nil
		}
		b, ok := v.(bool)
		if !ok {
			return StatusFailed, nil, ip.annotate(errs.New(errs.KindTypeMismatch, "if condition is not boolean"), n.path), nil
		}
		branch := n.Else
		if b {
			branch = n.Then
		}
		status, req, errv, child := ip.exec(branch, patches, id, 0)
		var children []*TraceNode
		if ip.TraceEnabled && child != nil {
			children = append(children, child)
		}
		return status, req, errv, ip.trace(id, n, children, b)

	case KindPatch:
		applied := make(map[string]any, len(n.Patches))
		for _, ps := range n.Patches {
			val, errv := expr.Eval(ps.Value, ip.Env)
			if errv != nil {
				return StatusFailed, nil, ip.annotate(errv, n.path), nil
			}
			switch ps.Op {
			case "set":
				*patches = append(*patches, patch.Set(ps.Path, val))
			case "unset":
				*patches = append(*patches, patch.Unset(ps.Path))
			case "merge":
				*patches = append(*patches, patch.Merge(ps.Path, val))
			default:
				return StatusFailed, nil, ip.annotate(errs.Newf(errs.KindInvalidInput, "unknown patch op %q", ps.Op), n.path), nil
			}
			applied[ps.Path] = val
		}
		return StatusCompleted, nil, nil, ip.trace(id, n, nil, applied)

	case KindEffect:
		status, req, errv, output := ip.execEffect(n, patches)
		return status, req, errv, ip.trace(id, n, nil, output)

	case KindOnce:
		guardKey := guardPath(ip.IntentID, n.path)
		if ip.readGuard("data."+guardKey) == guardFulfilled {
			return StatusCompleted, nil, nil, ip.trace(id, n, nil, string(guardFulfilled))
		}
		status, req, errv, child := ip.exec(n.Body, patches, id, 0)
		var children []*TraceNode
		if ip.TraceEnabled && child != nil {
			children = append(children, child)
		}
		if status == StatusCompleted && errv == nil {
			*patches = append(*patches, patch.Set(guardKey, string(guardFulfilled)))
		}
		return status, req, errv, ip.trace(id, n, children, nil)

	case KindCall:
		if ip.callStack[n.ActionName] {
			return StatusFailed, nil, ip.annotate(errs.Newf(errs.KindCyclicCall, "cyclic call to action %q", n.ActionName), n.path), nil
		}
		target, ok := ip.Resolver.ResolveAction(n.ActionName)
		if !ok {
			return StatusFailed, nil, ip.annotate(errs.Newf(errs.KindUnknownAction, "unknown action %q", n.ActionName), n.path), nil
		}
		ip.callStack[n.ActionName] = true
		status, req, errv, child := ip.exec(target, patches, id, 0)
		delete(ip.callStack, n.ActionName)
		var children []*TraceNode
		if ip.TraceEnabled && child != nil {
			children = append(children, child)
		}
		return status, req, errv, ip.trace(id, n, children, nil)

	case KindHalt:
		return StatusHalted, nil, nil, ip.trace(id, n, nil, nil)

	case KindFail:
		return StatusFailed, nil, ip.annotate(errs.New(errs.Kind(n.FailKind), n.FailMessage), n.path), nil

	default:
		return StatusFailed, nil, ip.annotate(errs.Newf(errs.KindUnknownFlow, "unknown flow node kind %q", n.Kind), n.path), nil
	}
}

// annotate stamps errv with this node's source and the frozen
// host_ctx.now (never wall-clock time), so two runs against identical
// inputs that both hit the same error path produce byte-equal output.
func (ip *Interpreter) annotate(errv *errs.Error, nodePath string) *errs.Error {
	return errv.WithSource(ip.ActionID, nodePath).WithTimestamp(ip.Now)
}

// trace builds this node's TraceNode when tracing is enabled, returning nil
// otherwise so the common (disabled) path allocates nothing.
func (ip *Interpreter) trace(id string, n *Node, children []*TraceNode, output any) *TraceNode {
	if !ip.TraceEnabled {
		return nil
	}
	return &TraceNode{ID: id, Path: n.path, Kind: n.Kind, Output: output, Children: children}
}

func (ip *Interpreter) execEffect(n *Node, patches *[]patch.Patch) (Status, *Requirement, *errs.Error, any) {
	guardKey := guardPath(ip.IntentID, n.path)
	state := ip.readGuard("data." + guardKey)

	switch state {
	case guardFulfilled:
		return StatusCompleted, nil, nil, string(guardFulfilled)

	case guardPending:
		return StatusPending, nil, nil, string(guardPending)

	default: // guardAbsent
		params := make(map[string]any, len(n.Params))
		for k, expression := range n.Params {
			v, errv := expr.Eval(expression, ip.Env)
			if errv != nil {
				return StatusFailed, nil, ip.annotate(errv, n.path), nil
			}
			params[k] = v
		}
		*patches = append(*patches, patch.Set(guardKey, string(guardPending)))
		return StatusPending, &Requirement{EffectType: n.EffectType, Params: params, NodePath: n.path}, nil, params
	}
}

func (ip *Interpreter) readGuard(path string) guardState {
	v, ok := ip.Env.Get(path)
	if !ok {
		return guardAbsent
	}
	s, ok := v.(string)
	if !ok {
		return guardAbsent
	}
	return guardState(s)
}

// guardPath builds the reserved-namespace dot-path for an intent-scoped
// once-guard marker, keyed by the executing node's own flow position so
// distinct effect/guarded-block sites never collide. The key carries a
// "node_" prefix so a top-level position such as "2" is stored as an
// object key and never parsed as an array index.
func guardPath(intentID, nodePath string) string {
	key := "node_" + strings.ReplaceAll(nodePath, ".", "_")
	return "$mel.guards.intent." + intentID + "." + key
}

// MarkFulfilled is called by the host loop once an effect's result patches
// have been applied, flipping its guard marker so the next replay treats
// the node as already completed.
func MarkFulfilled(intentID, nodePath string) patch.Patch {
	return patch.Set(guardPath(intentID, nodePath), string(guardFulfilled))
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package expr implements the expression IR and its pure, deterministic
// evaluator (§4.1). Expressions are a tagged tree evaluated over a
// read-only Env; evaluation never mutates state and never panics on
// well-typed input — every failure mode is a typed *errs.Error value.
//
// Feature: CORE_EXPR
// Spec: spec/core/expr.md
package expr

// Kind tags a Node's variant. The IR is a closed set of tagged-union
// node kinds; new expression forms are added by extending this set, never
// by subtyping.
type Kind string

const (
	KindLit        Kind = "lit"
	KindGet        Kind = "get"
	KindSys        Kind = "sys"
	KindAdd        Kind = "add"
	KindSub        Kind = "sub"
	KindMul        Kind = "mul"
	KindDiv        Kind = "div"
	KindEq         Kind = "eq"
	KindNeq        Kind = "neq"
	KindLt         Kind = "lt"
	KindLte        Kind = "lte"
	KindGt         Kind = "gt"
	KindGte        Kind = "gte"
	KindAnd        Kind = "and"
	KindOr         Kind = "or"
	KindNot        Kind = "not"
	KindCoalesce   Kind = "coalesce"
	KindIsNull     Kind = "isNull"
	KindIsNotNull  Kind = "isNotNull"
	KindLen        Kind = "len"
	KindFilter     Kind = "filter"
	KindMap        Kind = "map"
	KindCond       Kind = "cond"
	KindTrim       Kind = "trim"
	KindUUID       Kind = "uuid"
	KindItRef      Kind = "it" // implicit loop variable inside filter/map predicates
)

// Node is one node of the expression IR.
type Node struct {
	Kind Kind `json:"kind"`

	// lit
	Value any `json:"value,omitempty"`

	// get / sys
	Path string `json:"path,omitempty"`

	// variadic / binary / unary operators (add, sub, eq, and, not, len, trim, ...)
	Args []*Node `json:"args,omitempty"`

	// cond(c, t, e)
	Cond *Node `json:"cond,omitempty"`
	Then *Node `json:"then,omitempty"`
	Else *Node `json:"else,omitempty"`

	// filter(coll, predicate) / map(coll, transform) — predicate/transform is
	// evaluated once per element with "it" bound to the element.
	Collection *Node `json:"collection,omitempty"`
	Predicate  *Node `json:"predicate,omitempty"`
}

// Lit constructs a literal node.
func Lit(v any) *Node { return &Node{Kind: KindLit, Value: v} }

// Get constructs a data-path read node.
func Get(path string) *Node { return &Node{Kind: KindGet, Path: path} }

// Sys constructs a host-context read node (e.g. sys("now"), sys("intent_id")).
func Sys(path string) *Node { return &Node{Kind: KindSys, Path: path} }

// It references the implicit loop variable inside a filter/map predicate.
func It() *Node { return &Node{Kind: KindItRef} }

func bin(k Kind, a, b *Node) *Node { return &Node{Kind: k, Args: []*Node{a, b}} }

func Add(a, b *Node) *Node      { return bin(KindAdd, a, b) }
func Sub(a, b *Node) *Node      { return bin(KindSub, a, b) }
func Mul(a, b *Node) *Node      { return bin(KindMul, a, b) }
func Div(a, b *Node) *Node      { return bin(KindDiv, a, b) }
func Eq(a, b *Node) *Node       { return bin(KindEq, a, b) }
func Neq(a, b *Node) *Node      { return bin(KindNeq, a, b) }
func Lt(a, b *Node) *Node       { return bin(KindLt, a, b) }
func Lte(a, b *Node) *Node      { return bin(KindLte, a, b) }
func Gt(a, b *Node) *Node       { return bin(KindGt, a, b) }
func Gte(a, b *Node) *Node      { return bin(KindGte, a, b) }
func Coalesce(a, b *Node) *Node { return bin(KindCoalesce, a, b) }

func And(args ...*Node) *Node { return &Node{Kind: KindAnd, Args: args} }
func Or(args ...*Node) *Node  { return &Node{Kind: KindOr, Args: args} }
func Not(a *Node) *Node       { return &Node{Kind: KindNot, Args: []*Node{a}} }
func IsNull(a *Node) *Node    { return &Node{Kind: KindIsNull, Args: []*Node{a}} }
func IsNotNull(a *Node) *Node { return &Node{Kind: KindIsNotNull, Args: []*Node{a}} }
func Len(a *Node) *Node       { return &Node{Kind: KindLen, Args: []*Node{a}} }
func Trim(a *Node) *Node      { return &Node{Kind: KindTrim, Args: []*Node{a}} }
func UUID() *Node             { return &Node{Kind: KindUUID} }

func Cond(c, t, e *Node) *Node { return &Node{Kind: KindCond, Cond: c, Then: t, Else: e} }

func Filter(coll, predicate *Node) *Node {
	return &Node{Kind: KindFilter, Collection: coll, Predicate: predicate}
}

func Map(coll, transform *Node) *Node {
	return &Node{Kind: KindMap, Collection: coll, Predicate: transform}
}

// Deps returns the set of paths this expression reads through get nodes,
// whatever their root (data.*, computed.*, input.*, ...), in no particular
// order. Schema loading does not call it: computed-field ordering is built
// from each ComputedSpec's declared Deps.
func (n *Node) Deps() []string {
	seen := map[string]bool{}
	var walk func(*Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		if node.Kind == KindGet && node.Path != "" {
			seen[node.Path] = true
		}
		for _, a := range node.Args {
			walk(a)
		}
		walk(node.Cond)
		walk(node.Then)
		walk(node.Else)
		walk(node.Collection)
		walk(node.Predicate)
	}
	walk(n)
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

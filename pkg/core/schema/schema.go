// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schema implements the Schema value type: a content-addressed,
// immutable description of a domain's fields, computed fields, and
// actions (§2, §4.3). Load validates the four schema invariants (SC-1
// through SC-4) once, at construction time, so every later consumer can
// treat a *Schema as already-proven well-formed.
//
// Feature: CORE_SCHEMA
// Spec: spec/core/schema.md
package schema

import (
	"sort"
	"strings"

	"melrun/pkg/canon"
	"melrun/pkg/core/dag"
	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
	"melrun/pkg/errs"
)

// FieldSpec describes one declared field of Snapshot.Data.
type FieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// ComputedSpec describes one computed field: a pure expression over
// data/other computed fields, re-evaluated after every patch batch.
type ComputedSpec struct {
	Name string     `json:"name"`
	Expr *expr.Node `json:"-"`
	Deps []string   `json:"deps"`
}

// Action describes one named, invocable flow.
type Action struct {
	Name      string     `json:"name"`
	InputType string     `json:"input_type,omitempty"`
	Flow      *flow.Node `json:"-"`
}

// reservedActionPrefix is excluded from user-defined action names (SC-3):
// it is the namespace the host reserves for its own synthetic actions
// (e.g. branch-switch bookkeeping).
const reservedActionPrefix = "$host."

// Schema is the immutable, content-addressed definition of one domain.
// Construct via Load, never via a literal: Load is what proves SC-1..SC-4.
type Schema struct {
	ID      string
	Version string
	Hash    string

	Fields   map[string]FieldSpec
	Computed map[string]ComputedSpec
	Actions  map[string]Action

	// computedOrder is the topologically-sorted evaluation order of
	// Computed, resolved once at load time (SC-1).
	computedOrder []string
}

// Def is the raw, unvalidated input to Load.
type Def struct {
	ID       string
	Version  string
	Fields   []FieldSpec
	Computed []ComputedSpec
	Actions  []Action
}

// Load validates def against SC-1..SC-4 and, if it passes, returns an
// immutable Schema with its content hash and computed evaluation order
// precomputed.
func Load(def Def) (*Schema, *errs.Error) {
	fields := make(map[string]FieldSpec, len(def.Fields))
	for _, f := range def.Fields {
		fields[f.Name] = f
	}

	computed := make(map[string]ComputedSpec, len(def.Computed))
	for _, c := range def.Computed {
		computed[c.Name] = c
	}

	actions := make(map[string]Action, len(def.Actions))
	for _, a := range def.Actions {
		if strings.HasPrefix(a.Name, reservedActionPrefix) {
			return nil, errs.Newf(errs.KindSchemaError, "action name %q uses reserved prefix %q", a.Name, reservedActionPrefix)
		}
		flow.AssignPaths(a.Flow)
		actions[a.Name] = a
	}

	order, errv := sortComputed(computed)
	if errv != nil {
		return nil, errv
	}

	if errv := checkCallGraph(actions); errv != nil {
		return nil, errv
	}

	s := &Schema{
		ID:            def.ID,
		Version:       def.Version,
		Fields:        fields,
		Computed:      computed,
		Actions:       actions,
		computedOrder: order,
	}

	hash, err := canon.Sum256(s.hashableView())
	if err != nil {
		return nil, errs.Wrap(errs.KindSchemaError, err, "failed to hash schema")
	}
	s.Hash = hash

	return s, nil
}

// ComputedOrder returns the computed fields in topological (dependency-
// respecting) evaluation order.
func (s *Schema) ComputedOrder() []string { return s.computedOrder }

// hashableView projects the schema into a deterministic, canonicalizable
// shape for hashing (SC-4): field name/type/required/default, computed
// name/deps, action name/input_type, and the schema id and version. Computed
// expressions, action flows and derived bookkeeping like computedOrder are
// not part of the hash.
func (s *Schema) hashableView() map[string]any {
	fieldNames := make([]string, 0, len(s.Fields))
	for n := range s.Fields {
		fieldNames = append(fieldNames, n)
	}
	sort.Strings(fieldNames)
	fieldsOut := make([]any, 0, len(fieldNames))
	for _, n := range fieldNames {
		f := s.Fields[n]
		fieldsOut = append(fieldsOut, map[string]any{
			"name": f.Name, "type": f.Type, "required": f.Required, "default": f.Default,
		})
	}

	computedNames := make([]string, 0, len(s.Computed))
	for n := range s.Computed {
		computedNames = append(computedNames, n)
	}
	sort.Strings(computedNames)
	computedOut := make([]any, 0, len(computedNames))
	for _, n := range computedNames {
		c := s.Computed[n]
		computedOut = append(computedOut, map[string]any{"name": c.Name, "deps": c.Deps})
	}

	actionNames := make([]string, 0, len(s.Actions))
	for n := range s.Actions {
		actionNames = append(actionNames, n)
	}
	sort.Strings(actionNames)
	actionsOut := make([]any, 0, len(actionNames))
	for _, n := range actionNames {
		a := s.Actions[n]
		actionsOut = append(actionsOut, map[string]any{"name": a.Name, "input_type": a.InputType})
	}

	return map[string]any{
		"id":       s.ID,
		"version":  s.Version,
		"fields":   fieldsOut,
		"computed": computedOut,
		"actions":  actionsOut,
	}
}

// sortComputed builds the computed-field dependency DAG from each field's
// declared Deps and topologically sorts it (SC-1). Only deps naming
// another computed field add an edge; any other dep (such as a
// "data.*" path) is ignored and is not validated.
func sortComputed(computed map[string]ComputedSpec) ([]string, *errs.Error) {
	g := dag.New()
	for name, c := range computed {
		g.AddNode(name)
		for _, dep := range c.Deps {
			if _, isComputed := computed[dep]; isComputed {
				g.AddEdge(dep, name)
			}
		}
	}
	order, errv := g.TopoSort()
	if errv != nil {
		return nil, errs.New(errs.KindCyclicDependency, "V-002 CYCLIC_DEPENDENCY: "+errv.Message).WithContext(errv.Context)
	}
	return order, nil
}

// checkCallGraph validates SC-2: the static call(name) graph across all
// actions' flows must be acyclic.
func checkCallGraph(actions map[string]Action) *errs.Error {
	g := dag.New()
	for name := range actions {
		g.AddNode(name)
	}
	for name, a := range actions {
		for _, callee := range collectCalls(a.Flow) {
			g.AddEdge(name, callee)
		}
	}
	_, errv := g.TopoSort()
	if errv != nil {
		return errs.New(errs.KindCyclicCall, "SC-2: action call graph contains a cycle").WithContext(errv.Context)
	}
	return nil
}

func collectCalls(n *flow.Node) []string {
	var out []string
	var walk func(*flow.Node)
	walk = func(n *flow.Node) {
		if n == nil {
			return
		}
		if n.Kind == flow.KindCall {
			out = append(out, n.ActionName)
		}
		for _, c := range n.Children {
			walk(c)
		}
		walk(n.Then)
		walk(n.Else)
		walk(n.Body)
	}
	walk(n)
	return out
}

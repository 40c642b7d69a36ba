// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dag implements a generic directed-graph topological sort used to
// validate the computed-field dependency graph (SC-1) and the action
// call graph (SC-2) at schema load time.
//
// Feature: CORE_DAG
// Spec: spec/core/schema.md
package dag

import (
	"sort"

	"melrun/pkg/errs"
)

// Graph is a directed graph over string-identified nodes, built
// incrementally via AddNode/AddEdge.
type Graph struct {
	nodes map[string]bool
	order []string
	edges map[string][]string // from -> []to
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: map[string]bool{},
		edges: map[string][]string{},
	}
}

// AddNode registers a node. Adding the same node twice is a no-op.
func (g *Graph) AddNode(id string) {
	if g.nodes[id] {
		return
	}
	g.nodes[id] = true
	g.order = append(g.order, id)
}

// AddEdge records a dependency edge from -> to. Both ends are implicitly
// registered as nodes if not already present.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from] = append(g.edges[from], to)
}

// TopoSort returns nodes in a deterministic dependency order (dependencies
// before dependents) using Kahn's algorithm. Node insertion order, and
// sorted tie-breaking among simultaneously-ready nodes, makes the result
// stable across runs for the same graph. If the graph contains a cycle, it
// returns a KindCyclicDependency error carrying the cycle path.
func (g *Graph) TopoSort() ([]string, *errs.Error) {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = 0
	}
	for _, tos := range g.edges {
		for _, to := range tos {
			inDegree[to]++
		}
	}

	var ready []string
	for _, n := range g.order {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var out []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		var next []string
		for _, to := range g.edges[n] {
			inDegree[to]--
			if inDegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	if len(out) != len(g.nodes) {
		cycle := g.findCycle()
		return nil, errs.Newf(errs.KindCyclicDependency, "cyclic dependency detected: %v", cycle).
			WithContext(map[string]any{"cycle": cycle})
	}
	return out, nil
}

// findCycle performs a DFS from each unvisited node to recover a concrete
// cycle path for diagnostics, once TopoSort has already established that
// one exists.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		path = append(path, n)
		for _, to := range g.edges[n] {
			switch color[to] {
			case white:
				if visit(to) {
					return true
				}
			case gray:
				// found the back-edge; extract the cycle portion of path
				idx := 0
				for i, p := range path {
					if p == to {
						idx = i
						break
					}
				}
				cycle = append(append([]string{}, path[idx:]...), to)
				return true
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for _, n := range g.order {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

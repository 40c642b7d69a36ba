// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worldstore implements the World/WorldDelta/Lineage value types
// and the WorldStore persistence contract (§6.2, §7). A World is an
// immutable, content-addressed snapshot reference; WorldDelta records the
// patches that produced one World from another; Lineage is the resulting
// immutable DAG, rooted at a self-delta genesis World.
//
// Feature: GOVERNANCE_WORLDSTORE
// Spec: spec/governance/world.md
package worldstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"melrun/pkg/core/patch"
	"melrun/pkg/errs"
)

// World is one immutable point in the lineage DAG.
type World struct {
	WorldID           string    `json:"world_id"`
	SchemaHash        string    `json:"schema_hash"`
	SnapshotHash      string    `json:"snapshot_hash"`
	CreatedAt         time.Time `json:"created_at"`
	CreatedByProposal string    `json:"created_by_proposal,omitempty"`
}

// WorldDelta records the transition from one World to another. The
// genesis World's delta has FromWorldID == ToWorldID (a self-delta: L-1,
// every World including the root has exactly one recorded delta).
type WorldDelta struct {
	FromWorldID string        `json:"from_world_id"`
	ToWorldID   string        `json:"to_world_id"`
	Patches     []patch.Patch `json:"patches"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Branch names one mutable head pointer into the (otherwise immutable)
// lineage DAG, plus its epoch: switching branches bumps the epoch of the
// branch being switched away from, superseding any in-flight proposal
// still targeting the old epoch (S6).
type Branch struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Head  string `json:"head"` // WorldID
	Epoch uint64 `json:"epoch"`
}

func cloneWorld(w *World) *World {
	if w == nil {
		return nil
	}
	cp := *w
	return &cp
}

func cloneDelta(d *WorldDelta) *WorldDelta {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Patches = append([]patch.Patch{}, d.Patches...)
	return &cp
}

func cloneBranch(b *Branch) *Branch {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

// Store is the persistence contract the governance layer and host loop
// commit world transitions through. Every method is safe for concurrent
// use.
type Store interface {
	// InitializeGenesis creates the root World (a self-delta) if none
	// exists yet; it is a no-op if the store already has a genesis World.
	InitializeGenesis(ctx context.Context, schemaHash, snapshotHash string, now time.Time) (*World, error)

	// Store atomically records a new World and the WorldDelta that
	// produced it from an existing parent World.
	Store(ctx context.Context, parent World, next World, delta WorldDelta) error

	// GetWorld returns a World by id.
	GetWorld(ctx context.Context, worldID string) (*World, error)

	// Has reports whether worldID exists without fetching it.
	Has(ctx context.Context, worldID string) (bool, error)

	// GetChildren returns the WorldIDs produced directly from worldID.
	GetChildren(ctx context.Context, worldID string) ([]string, error)

	// GetLineage returns every World from genesis to worldID, inclusive,
	// in ancestor-to-descendant order.
	GetLineage(ctx context.Context, worldID string) ([]*World, error)

	// SaveBranchState / LoadBranchState persist named branch head+epoch
	// pointers independently of the World/Delta DAG itself.
	SaveBranchState(ctx context.Context, b Branch) error
	LoadBranchState(ctx context.Context, name string) (*Branch, error)
}

// ErrWorldNotFound is returned by GetWorld/GetLineage for an unknown id.
var ErrWorldNotFound = errs.New(errs.KindWorldNotFound, "world not found")

// MemStore is the default in-memory Store implementation: an
// atomically-written (world, delta) map guarded by a single mutex,
// grounded in the same clone-before-return, lock-around-load/save
// discipline as the rest of this module's state managers.
type MemStore struct {
	mu       sync.Mutex
	worlds   map[string]*World
	deltas   map[string]*WorldDelta // keyed by ToWorldID
	children map[string][]string    // parent WorldID -> child WorldIDs, insertion order
	branches map[string]*Branch
	genesis  string
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		worlds:   map[string]*World{},
		deltas:   map[string]*WorldDelta{},
		children: map[string][]string{},
		branches: map[string]*Branch{},
	}
}

func (m *MemStore) InitializeGenesis(ctx context.Context, schemaHash, snapshotHash string, now time.Time) (*World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.genesis != "" {
		return cloneWorld(m.worlds[m.genesis]), nil
	}

	id := fmt.Sprintf("world-genesis-%s", schemaHash[:min(12, len(schemaHash))])
	w := &World{WorldID: id, SchemaHash: schemaHash, SnapshotHash: snapshotHash, CreatedAt: now}
	m.worlds[id] = w
	m.deltas[id] = &WorldDelta{FromWorldID: id, ToWorldID: id, Patches: nil, CreatedAt: now}
	m.genesis = id
	return cloneWorld(w), nil
}

func (m *MemStore) Store(ctx context.Context, parent World, next World, delta WorldDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[parent.WorldID]; !ok {
		return errs.Newf(errs.KindWorldNotFound, "parent world %q not found", parent.WorldID)
	}
	nw := next
	m.worlds[nw.WorldID] = &nw
	d := delta
	m.deltas[nw.WorldID] = &d
	m.children[parent.WorldID] = append(m.children[parent.WorldID], nw.WorldID)
	return nil
}

func (m *MemStore) GetWorld(ctx context.Context, worldID string) (*World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worlds[worldID]
	if !ok {
		return nil, errs.Newf(errs.KindWorldNotFound, "world %q not found", worldID)
	}
	return cloneWorld(w), nil
}

func (m *MemStore) Has(ctx context.Context, worldID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.worlds[worldID]
	return ok, nil
}

func (m *MemStore) GetChildren(ctx context.Context, worldID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.children[worldID]...), nil
}

func (m *MemStore) GetLineage(ctx context.Context, worldID string) ([]*World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	parentOf := map[string]string{}
	for parent, kids := range m.children {
		for _, k := range kids {
			parentOf[k] = parent
		}
	}

	var chain []*World
	cur := worldID
	seen := map[string]bool{}
	for {
		w, ok := m.worlds[cur]
		if !ok {
			return nil, errs.Newf(errs.KindWorldNotFound, "world %q not found", cur)
		}
		if seen[cur] {
			break // defensive: a genesis self-delta would otherwise loop forever
		}
		seen[cur] = true
		chain = append(chain, cloneWorld(w))
		if cur == m.genesis {
			break
		}
		parent, ok := parentOf[cur]
		if !ok {
			break
		}
		cur = parent
	}

	// reverse into ancestor-to-descendant order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (m *MemStore) SaveBranchState(ctx context.Context, b Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := b
	m.branches[b.Name] = &cp
	return nil
}

func (m *MemStore) LoadBranchState(ctx context.Context, name string) (*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[name]
	if !ok {
		return nil, errs.Newf(errs.KindWorldNotFound, "branch %q not found", name)
	}
	return cloneBranch(b), nil
}

// ListBranches returns every saved branch name in sorted order, useful for
// deterministic CLI/devtools listing.
func (m *MemStore) ListBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.branches))
	for n := range m.branches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

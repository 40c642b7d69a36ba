// SPDX-License-Identifier: AGPL-3.0-or-later

package worldstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/pkg/worldstore"
)

func TestMemStore_GenesisIsSelfDelta(t *testing.T) {
	ctx := context.Background()
	store := worldstore.NewMemStore()
	now := time.Now()

	w, err := store.InitializeGenesis(ctx, "schema-hash-1", "snap-hash-1", now)
	require.NoError(t, err)
	require.NotEmpty(t, w.WorldID)

	lineage, err := store.GetLineage(ctx, w.WorldID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	require.Equal(t, w.WorldID, lineage[0].WorldID)
}

func TestMemStore_Store_And_Lineage(t *testing.T) {
	ctx := context.Background()
	store := worldstore.NewMemStore()
	now := time.Now()

	genesis, err := store.InitializeGenesis(ctx, "schema-hash-1", "snap-hash-1", now)
	require.NoError(t, err)

	child := worldstore.World{WorldID: "world-2", SchemaHash: "schema-hash-1", SnapshotHash: "snap-hash-2", CreatedAt: now}
	delta := worldstore.WorldDelta{FromWorldID: genesis.WorldID, ToWorldID: child.WorldID, CreatedAt: now}
	require.NoError(t, store.Store(ctx, *genesis, child, delta))

	lineage, err := store.GetLineage(ctx, child.WorldID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	require.Equal(t, genesis.WorldID, lineage[0].WorldID)
	require.Equal(t, child.WorldID, lineage[1].WorldID)

	kids, err := store.GetChildren(ctx, genesis.WorldID)
	require.NoError(t, err)
	require.Equal(t, []string{"world-2"}, kids)
}

func TestMemStore_BranchState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := worldstore.NewMemStore()

	b := worldstore.Branch{ID: "b1", Name: "main", Head: "world-1", Epoch: 0}
	require.NoError(t, store.SaveBranchState(ctx, b))

	loaded, err := store.LoadBranchState(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, b, *loaded)
}

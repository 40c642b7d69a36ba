// SPDX-License-Identifier: AGPL-3.0-or-later

package snapshot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/patch"
	"melrun/pkg/core/snapshot"
)

func TestNew_SeedsDefaults(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	s := snapshot.New("hash1", map[string]any{"count": 0.0}, now, 42)
	require.Equal(t, 0.0, s.Data["count"])
	require.Equal(t, uint64(0), s.Meta.Version)
}

func TestWithPatches_BumpsVersionOnceRegardlessOfPatchCount(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	s := snapshot.New("hash1", map[string]any{"count": 0.0}, now, 42)

	next, err := s.WithPatches([]patch.Patch{
		patch.Set("count", 1.0),
		patch.Set("count", 2.0),
		patch.Set("label", "two"),
	}, patch.DefaultOptions(), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Meta.Version)
	require.Equal(t, 2.0, next.Data["count"])
	require.Equal(t, 0.0, s.Data["count"], "original snapshot must be untouched")
}

func TestWithPatches_FailureLeavesSnapshotUnchanged(t *testing.T) {
	now := time.Now()
	s := snapshot.New("hash1", map[string]any{"items": []any{1.0}}, now, 1)

	_, err := s.WithPatches([]patch.Patch{
		patch.Merge("items", map[string]any{"x": 1}),
	}, patch.DefaultOptions(), now)
	require.Error(t, err)
	require.Equal(t, uint64(0), s.Meta.Version)
}

func TestWithComputed_ReplacesWholesale(t *testing.T) {
	now := time.Now()
	s := snapshot.New("hash1", map[string]any{}, now, 1)
	s = s.WithComputed(map[string]any{"a": 1.0, "b": 2.0})
	s2 := s.WithComputed(map[string]any{"a": 1.0})
	_, hasB := s2.Computed["b"]
	require.False(t, hasB, "computed must be replaced, not merged")
}

func TestHash_Deterministic(t *testing.T) {
	now := time.Now()
	s := snapshot.New("hash1", map[string]any{"count": 1.0}, now, 1)
	h1, err := s.Hash()
	require.NoError(t, err)
	h2, err := s.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package value_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/value"
)

func TestSetPath_StructuralSharing(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"x": 1},
		"b": map[string]any{"y": 2},
	}

	newRoot, err := value.SetPath(root, "a.x", 99)
	require.NoError(t, err)

	newRootMap := newRoot.(map[string]any)
	// Untouched subtree "b" retains identity (same map reference).
	require.Same(t, &root, &root) // sanity
	bBefore := root["b"]
	bAfter := newRootMap["b"]
	require.Equal(t, reflect.ValueOf(bBefore).Pointer(), reflect.ValueOf(bAfter).Pointer())

	v, ok := value.Get(newRoot, "a.x")
	require.True(t, ok)
	require.Equal(t, 99, v)

	// Original root is unmutated.
	orig, ok := value.Get(root, "a.x")
	require.True(t, ok)
	require.Equal(t, 1, orig)
}

func TestSetPath_AutoVivify(t *testing.T) {
	root := map[string]any{}
	newRoot, err := value.SetPath(root, "deeply.nested.path", "v")
	require.NoError(t, err)

	v, ok := value.Get(newRoot, "deeply.nested.path")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSetPath_ArrayAppend(t *testing.T) {
	root := map[string]any{"items": []any{"a", "b"}}
	newRoot, err := value.SetPath(root, "items.2", "c")
	require.NoError(t, err)

	v, ok := value.Get(newRoot, "items.2")
	require.True(t, ok)
	require.Equal(t, "c", v)
}

func TestSetPath_ArrayOutOfBounds(t *testing.T) {
	root := map[string]any{"items": []any{"a"}}
	_, err := value.SetPath(root, "items.5", "x")
	require.Error(t, err)
}

func TestUnsetPath_Strict(t *testing.T) {
	root := map[string]any{"a": 1}
	_, err := value.UnsetPath(root, "missing", true)
	require.Error(t, err)

	newRoot, err := value.UnsetPath(root, "missing", false)
	require.NoError(t, err)
	require.Equal(t, root, newRoot)

	newRoot, err = value.UnsetPath(root, "a", true)
	require.NoError(t, err)
	_, ok := value.Get(newRoot, "a")
	require.False(t, ok)
}

func TestMergePath_OntoObject(t *testing.T) {
	root := map[string]any{"user": map[string]any{"name": "a"}}
	newRoot, err := value.MergePath(root, "user", map[string]any{"age": 30})
	require.NoError(t, err)

	name, _ := value.Get(newRoot, "user.name")
	age, _ := value.Get(newRoot, "user.age")
	require.Equal(t, "a", name)
	require.Equal(t, 30, age)
}

func TestMergePath_OntoNonObject_Rejected(t *testing.T) {
	root := map[string]any{"items": []any{1, 2}}
	_, err := value.MergePath(root, "items", map[string]any{"x": 1})
	require.Error(t, err)
}

func TestDiffPaths(t *testing.T) {
	base := map[string]any{"count": 0.0, "name": "a"}
	terminal := map[string]any{"count": 3.0, "name": "a"}

	paths := value.DiffPaths(base, terminal)
	require.Equal(t, []string{"count"}, paths)
}

func TestDiffPaths_RoundTrip(t *testing.T) {
	base := map[string]any{"a": 1.0, "b": map[string]any{"c": 2.0}}
	patched, err := value.SetPath(base, "b.c", 5.0)
	require.NoError(t, err)

	paths := value.DiffPaths(base, patched)
	require.Equal(t, []string{"b.c"}, paths)
}

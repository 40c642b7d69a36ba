// SPDX-License-Identifier: AGPL-3.0-or-later

package canon_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/pkg/canon"
)

func TestMarshal_SortsObjectKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	out, err := canon.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestMarshal_NegativeZero(t *testing.T) {
	out, err := canon.Marshal(map[string]any{"x": -0.0})
	require.NoError(t, err)
	require.Equal(t, `{"x":0}`, string(out))
}

func TestMarshal_NonFiniteToNull(t *testing.T) {
	nan := map[string]any{"x": negInfDivZero()}
	out, err := canon.Marshal(nan)
	require.NoError(t, err)
	require.Equal(t, `{"x":null}`, string(out))
}

func negInfDivZero() float64 {
	var zero float64
	return 1 / zero
}

func TestEqual_PermutedFieldOrder(t *testing.T) {
	a := map[string]any{"x": 1, "y": map[string]any{"p": 1, "q": 2}}
	b := map[string]any{"y": map[string]any{"q": 2, "p": 1}, "x": 1}

	eq, err := canon.Equal(a, b)
	require.NoError(t, err)
	require.True(t, eq, "permuted key order must hash/encode identically")
}

func TestSum256_Deterministic(t *testing.T) {
	v := map[string]any{"a": []any{1, 2, 3}, "b": "hello"}
	h1, err := canon.Sum256(v)
	require.NoError(t, err)
	h2, err := canon.Sum256(v)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestMarshal_StructFallback(t *testing.T) {
	type inner struct {
		Z int `json:"z"`
		A int `json:"a"`
	}
	out, err := canon.Marshal(inner{Z: 1, A: 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"z":1}`, string(out))
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package scope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/internal/governance/scope"
	"melrun/pkg/errs"
)

func TestAllowsPath_WildcardPrefix(t *testing.T) {
	s := scope.ApprovedScope{AllowedPaths: []string{"data.orders.*"}}
	require.True(t, s.AllowsPath("data.orders.123.status"))
	require.False(t, s.AllowsPath("data.customers.1"))
}

// S4: an execution that mutates a path outside the approved scope must be
// rejected by post-execution validation even though pre-execution
// validation can't see it coming (a computed/conditional path).
func TestValidatePost_ScopeViolation(t *testing.T) {
	s := scope.ApprovedScope{AllowedPaths: []string{"data.count"}, MaxPatchCount: 10}
	base := map[string]any{"data": map[string]any{"count": 0.0, "secret": "x"}}
	terminal := map[string]any{"data": map[string]any{"count": 1.0, "secret": "y"}}

	err := scope.ValidatePost(s, base, terminal)
	require.NotNil(t, err)
	require.Equal(t, errs.KindScopeViolation, err.Kind)
}

func TestValidatePost_ReservedNamespaceExcluded(t *testing.T) {
	s := scope.ApprovedScope{AllowedPaths: []string{"data.count"}, MaxPatchCount: 10}
	base := map[string]any{"data": map[string]any{"count": 0.0}}
	terminal := map[string]any{"data": map[string]any{"count": 1.0, "$mel": map[string]any{"guards": "x"}}}

	err := scope.ValidatePost(s, base, terminal)
	require.Nil(t, err, "reserved $mel namespace must not count against scope")
}

func TestValidatePost_MaxPatchCountExceeded(t *testing.T) {
	s := scope.ApprovedScope{AllowedPaths: []string{"*"}, MaxPatchCount: 1}
	base := map[string]any{"data": map[string]any{"a": 1.0, "b": 1.0}}
	terminal := map[string]any{"data": map[string]any{"a": 2.0, "b": 2.0}}

	err := scope.ValidatePost(s, base, terminal)
	require.NotNil(t, err)
	require.Equal(t, errs.KindScopeViolation, err.Kind)
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"melrun/pkg/core/expr"
	"melrun/pkg/errs"
)

type fakeEnv struct {
	data map[string]any
	sys  map[string]any
	seq  []string
	idx  int
}

func (f *fakeEnv) Get(path string) (any, bool) {
	v, ok := f.data[path]
	return v, ok
}

func (f *fakeEnv) Sys(path string) (any, bool) {
	v, ok := f.sys[path]
	return v, ok
}

func (f *fakeEnv) NextUUID() string {
	if f.idx >= len(f.seq) {
		return ""
	}
	v := f.seq[f.idx]
	f.idx++
	return v
}

func newEnv() *fakeEnv {
	return &fakeEnv{
		data: map[string]any{"count": 2.0, "name": "  hi  "},
		sys:  map[string]any{"now": "2026-07-29T00:00:00Z"},
		seq:  []string{"11111111-0000-0000-0000-000000000000"},
	}
}

func TestEval_Lit(t *testing.T) {
	v, errv := expr.Eval(expr.Lit(42.0), newEnv())
	require.Nil(t, errv)
	require.Equal(t, 42.0, v)
}

func TestEval_Get_MissingPath(t *testing.T) {
	_, errv := expr.Eval(expr.Get("nope"), newEnv())
	require.NotNil(t, errv)
	require.Equal(t, errs.KindPathNotFound, errv.Kind)
}

func TestEval_Arithmetic(t *testing.T) {
	v, errv := expr.Eval(expr.Add(expr.Get("count"), expr.Lit(3.0)), newEnv())
	require.Nil(t, errv)
	require.Equal(t, 5.0, v)
}

func TestEval_DivisionByZero(t *testing.T) {
	_, errv := expr.Eval(expr.Div(expr.Lit(1.0), expr.Lit(0.0)), newEnv())
	require.NotNil(t, errv)
	require.Equal(t, errs.KindDivisionByZero, errv.Kind)
}

func TestEval_Comparison(t *testing.T) {
	v, errv := expr.Eval(expr.Gte(expr.Get("count"), expr.Lit(2.0)), newEnv())
	require.Nil(t, errv)
	require.Equal(t, true, v)
}

func TestEval_BooleanShortCircuit(t *testing.T) {
	v, errv := expr.Eval(expr.And(expr.Lit(false), expr.Lit(true)), newEnv())
	require.Nil(t, errv)
	require.Equal(t, false, v)
}

func TestEval_Coalesce(t *testing.T) {
	v, errv := expr.Eval(expr.Coalesce(expr.Lit(nil), expr.Lit("fallback")), newEnv())
	require.Nil(t, errv)
	require.Equal(t, "fallback", v)
}

func TestEval_IsNull(t *testing.T) {
	v, errv := expr.Eval(expr.IsNull(expr.Lit(nil)), newEnv())
	require.Nil(t, errv)
	require.Equal(t, true, v)
}

func TestEval_Len(t *testing.T) {
	v, errv := expr.Eval(expr.Len(expr.Lit([]any{1.0, 2.0, 3.0})), newEnv())
	require.Nil(t, errv)
	require.Equal(t, 3.0, v)
}

func TestEval_Trim(t *testing.T) {
	v, errv := expr.Eval(expr.Trim(expr.Get("name")), newEnv())
	require.Nil(t, errv)
	require.Equal(t, "hi", v)
}

func TestEval_Cond(t *testing.T) {
	v, errv := expr.Eval(expr.Cond(expr.Lit(true), expr.Lit("yes"), expr.Lit("no")), newEnv())
	require.Nil(t, errv)
	require.Equal(t, "yes", v)
}

func TestEval_Filter(t *testing.T) {
	coll := expr.Lit([]any{1.0, 2.0, 3.0, 4.0})
	pred := expr.Gte(expr.It(), expr.Lit(3.0))
	v, errv := expr.Eval(expr.Filter(coll, pred), newEnv())
	require.Nil(t, errv)
	require.Equal(t, []any{3.0, 4.0}, v)
}

func TestEval_Map(t *testing.T) {
	coll := expr.Lit([]any{1.0, 2.0, 3.0})
	transform := expr.Mul(expr.It(), expr.Lit(2.0))
	v, errv := expr.Eval(expr.Map(coll, transform), newEnv())
	require.Nil(t, errv)
	require.Equal(t, []any{2.0, 4.0, 6.0}, v)
}

func TestEval_ItRef_OutsideFilterMap(t *testing.T) {
	_, errv := expr.Eval(expr.It(), newEnv())
	require.NotNil(t, errv)
	require.Equal(t, errs.KindInvalidState, errv.Kind)
}

func TestEval_UUID_Deterministic(t *testing.T) {
	env := newEnv()
	v, errv := expr.Eval(expr.UUID(), env)
	require.Nil(t, errv)
	require.Equal(t, "11111111-0000-0000-0000-000000000000", v)
}

func TestEval_Sys(t *testing.T) {
	v, errv := expr.Eval(expr.Sys("now"), newEnv())
	require.Nil(t, errv)
	require.Equal(t, "2026-07-29T00:00:00Z", v)
}

func TestEval_TypeMismatch_NotANumber(t *testing.T) {
	_, errv := expr.Eval(expr.Add(expr.Lit("x"), expr.Lit(1.0)), newEnv())
	require.NotNil(t, errv)
	require.Equal(t, errs.KindTypeMismatch, errv.Kind)
}

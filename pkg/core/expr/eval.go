// SPDX-License-Identifier: AGPL-3.0-or-later

package expr

import (
	"strings"

	"melrun/pkg/errs"
)

// Eval evaluates node against env. It is a total function: every failure
// mode returns a *errs.Error value rather than panicking.
func Eval(node *Node, env Env) (any, *errs.Error) {
	if node == nil {
		return nil, nil
	}

	switch node.Kind {
	case KindLit:
		return node.Value, nil

	case KindGet:
		v, ok := env.Get(node.Path)
		if !ok {
			return nil, errs.Newf(errs.KindPathNotFound, "path not found: %s", node.Path)
		}
		return v, nil

	case KindSys:
		v, ok := env.Sys(node.Path)
		if !ok {
			return nil, errs.Newf(errs.KindPathNotFound, "sys path not found: %s", node.Path)
		}
		return v, nil

	case KindItRef:
		ie, ok := env.(*itEnv)
		if !ok {
			return nil, errs.New(errs.KindInvalidState, "\"it\" referenced outside filter/map predicate")
		}
		return ie.it, nil

	case KindUUID:
		return env.NextUUID(), nil

	case KindAdd, KindSub, KindMul, KindDiv:
		return evalArith(node, env)

	case KindEq, KindNeq:
		return evalEquality(node, env)

	case KindLt, KindLte, KindGt, KindGte:
		return evalOrdering(node, env)

	case KindAnd:
		return evalAnd(node, env)

	case KindOr:
		return evalOr(node, env)

	case KindNot:
		v, errv := evalOne(node, env)
		if errv != nil {
			return nil, errv
		}
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return !b, nil

	case KindCoalesce:
		a, errv := Eval(node.Args[0], env)
		if errv != nil {
			return nil, errv
		}
		if a != nil {
			return a, nil
		}
		return Eval(node.Args[1], env)

	case KindIsNull:
		v, errv := evalOne(node, env)
		if errv != nil {
			return nil, errv
		}
		return v == nil, nil

	case KindIsNotNull:
		v, errv := evalOne(node, env)
		if errv != nil {
			return nil, errv
		}
		return v != nil, nil

	case KindLen:
		v, errv := evalOne(node, env)
		if errv != nil {
			return nil, errv
		}
		return lengthOf(v)

	case KindTrim:
		v, errv := evalOne(node, env)
		if errv != nil {
			return nil, errv
		}
		s, ok := v.(string)
		if !ok {
			return nil, errs.New(errs.KindTypeMismatch, "trim: expected string")
		}
		return strings.TrimSpace(s), nil

	case KindCond:
		c, errv := Eval(node.Cond, env)
		if errv != nil {
			return nil, errv
		}
		b, err := toBool(c)
		if err != nil {
			return nil, err
		}
		if b {
			return Eval(node.Then, env)
		}
		return Eval(node.Else, env)

	case KindFilter:
		return evalFilter(node, env)

	case KindMap:
		return evalMap(node, env)

	default:
		return nil, errs.Newf(errs.KindUnknownFlow, "unknown expression kind %q", node.Kind)
	}
}

func evalOne(node *Node, env Env) (any, *errs.Error) {
	return Eval(node.Args[0], env)
}

func evalArith(node *Node, env Env) (any, *errs.Error) {
	a, errv := Eval(node.Args[0], env)
	if errv != nil {
		return nil, errv
	}
	b, errv := Eval(node.Args[1], env)
	if errv != nil {
		return nil, errv
	}
	af, err := toNumber(a)
	if err != nil {
		return nil, err
	}
	bf, err := toNumber(b)
	if err != nil {
		return nil, err
	}

	switch node.Kind {
	case KindAdd:
		return af + bf, nil
	case KindSub:
		return af - bf, nil
	case KindMul:
		return af * bf, nil
	case KindDiv:
		if bf == 0 {
			return nil, errs.New(errs.KindDivisionByZero, "division by zero")
		}
		return af / bf, nil
	}
	return nil, errs.New(errs.KindInternal, "unreachable arithmetic kind")
}

func evalEquality(node *Node, env Env) (any, *errs.Error) {
	a, errv := Eval(node.Args[0], env)
	if errv != nil {
		return nil, errv
	}
	b, errv := Eval(node.Args[1], env)
	if errv != nil {
		return nil, errv
	}
	eq := deepEqual(a, b)
	if node.Kind == KindNeq {
		return !eq, nil
	}
	return eq, nil
}

func evalOrdering(node *Node, env Env) (any, *errs.Error) {
	a, errv := Eval(node.Args[0], env)
	if errv != nil {
		return nil, errv
	}
	b, errv := Eval(node.Args[1], env)
	if errv != nil {
		return nil, errv
	}
	af, err := toNumber(a)
	if err != nil {
		return nil, err
	}
	bf, err := toNumber(b)
	if err != nil {
		return nil, err
	}
	switch node.Kind {
	case KindLt:
		return af < bf, nil
	case KindLte:
		return af <= bf, nil
	case KindGt:
		return af > bf, nil
	case KindGte:
		return af >= bf, nil
	}
	return nil, errs.New(errs.KindInternal, "unreachable ordering kind")
}

func evalAnd(node *Node, env Env) (any, *errs.Error) {
	for _, a := range node.Args {
		v, errv := Eval(a, env)
		if errv != nil {
			return nil, errv
		}
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}

func evalOr(node *Node, env Env) (any, *errs.Error) {
	for _, a := range node.Args {
		v, errv := Eval(a, env)
		if errv != nil {
			return nil, errv
		}
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return true, nil
		}
	}
	return false, nil
}

func evalFilter(node *Node, env Env) (any, *errs.Error) {
	collV, errv := Eval(node.Collection, env)
	if errv != nil {
		return nil, errv
	}
	coll, ok := collV.([]any)
	if !ok {
		return nil, errs.New(errs.KindTypeMismatch, "filter: collection is not an array")
	}
	out := make([]any, 0, len(coll))
	for _, item := range coll {
		ie := &itEnv{Env: env, it: item}
		keep, errv := Eval(node.Predicate, ie)
		if errv != nil {
			return nil, errv
		}
		b, err := toBool(keep)
		if err != nil {
			return nil, err
		}
		if b {
			out = append(out, item)
		}
	}
	return out, nil
}

func evalMap(node *Node, env Env) (any, *errs.Error) {
	collV, errv := Eval(node.Collection, env)
	if errv != nil {
		return nil, errv
	}
	coll, ok := collV.([]any)
	if !ok {
		return nil, errs.New(errs.KindTypeMismatch, "map: collection is not an array")
	}
	out := make([]any, 0, len(coll))
	for _, item := range coll {
		ie := &itEnv{Env: env, it: item}
		v, errv := Eval(node.Predicate, ie)
		if errv != nil {
			return nil, errv
		}
		out = append(out, v)
	}
	return out, nil
}

func toNumber(v any) (float64, *errs.Error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, errs.New(errs.KindTypeMismatch, "expected a number")
	}
}

func toBool(v any) (bool, *errs.Error) {
	b, ok := v.(bool)
	if !ok {
		return false, errs.New(errs.KindTypeMismatch, "expected a boolean")
	}
	return b, nil
}

func lengthOf(v any) (any, *errs.Error) {
	switch t := v.(type) {
	case string:
		return float64(len(t)), nil
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	case nil:
		return float64(0), nil
	default:
		return nil, errs.New(errs.KindTypeMismatch, "len: unsupported type")
	}
}

func deepEqual(a, b any) bool {
	af, aIsNum := toNumberLoose(a)
	bf, bIsNum := toNumberLoose(b)
	if aIsNum && bIsNum {
		return af == bf
	}

	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	aa, aIsArr := a.([]any)
	ba, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !deepEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}

	return a == b
}

func toNumberLoose(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package value

import "melrun/pkg/errs"

// SetPath returns a new root tree with value written at path, sharing all
// subtrees untouched by the write (P-1 structural sharing). Intermediate
// map levels are created on demand. An index segment over a missing value
// starts an empty array, and an index equal to an array's length appends;
// any index beyond that is an IndexOutOfBounds error.
func SetPath(root any, path string, val any) (any, error) {
	return setAt(root, ParsePath(path), val)
}

func setAt(node any, path Path, val any) (any, error) {
	if len(path) == 0 {
		return val, nil
	}
	seg := path[0]
	rest := path[1:]

	if !seg.IsIndex {
		m, ok := asMap(node)
		if !ok {
			return nil, errs.Newf(errs.KindTypeMismatch, "cannot set key %q on non-object value", seg.Key)
		}
		clone := cloneMap(m)
		child := clone[seg.Key]
		newChild, err := setAt(child, rest, val)
		if err != nil {
			return nil, err
		}
		clone[seg.Key] = newChild
		return clone, nil
	}

	arr, ok := asArray(node)
	if !ok {
		return nil, errs.Newf(errs.KindTypeMismatch, "cannot set index %d on non-array value", seg.Index)
	}
	if seg.Index < 0 || seg.Index > len(arr) {
		return nil, errs.Newf(errs.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", seg.Index, len(arr))
	}
	clone := cloneArray(arr)
	if seg.Index == len(clone) {
		clone = append(clone, nil)
	}
	newChild, err := setAt(clone[seg.Index], rest, val)
	if err != nil {
		return nil, err
	}
	clone[seg.Index] = newChild
	return clone, nil
}

// UnsetPath removes the value at path, returning a new root with the
// removal applied. strict controls behavior when the path does not exist:
// if strict, a missing path is an error; otherwise unsetting a missing
// path is a no-op.
func UnsetPath(root any, path string, strict bool) (any, error) {
	return unsetAt(root, ParsePath(path), strict)
}

func unsetAt(node any, path Path, strict bool) (any, error) {
	if len(path) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "unset requires a non-empty path")
	}
	seg := path[0]
	rest := path[1:]

	if !seg.IsIndex {
		m, ok := asMap(node)
		if !ok {
			if strict {
				return nil, errs.New(errs.KindPathNotFound, "unset: path not found")
			}
			return node, nil
		}
		if len(rest) == 0 {
			if _, exists := m[seg.Key]; !exists {
				if strict {
					return nil, errs.New(errs.KindPathNotFound, "unset: path not found")
				}
				return node, nil
			}
			clone := cloneMap(m)
			delete(clone, seg.Key)
			return clone, nil
		}
		child, exists := m[seg.Key]
		if !exists {
			if strict {
				return nil, errs.New(errs.KindPathNotFound, "unset: path not found")
			}
			return node, nil
		}
		newChild, err := unsetAt(child, rest, strict)
		if err != nil {
			return nil, err
		}
		clone := cloneMap(m)
		clone[seg.Key] = newChild
		return clone, nil
	}

	arr, ok := asArray(node)
	if !ok {
		if strict {
			return nil, errs.New(errs.KindPathNotFound, "unset: path not found")
		}
		return node, nil
	}
	if seg.Index < 0 || seg.Index >= len(arr) {
		if strict {
			return nil, errs.Newf(errs.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", seg.Index, len(arr))
		}
		return node, nil
	}
	if len(rest) == 0 {
		clone := make([]any, 0, len(arr)-1)
		clone = append(clone, arr[:seg.Index]...)
		clone = append(clone, arr[seg.Index+1:]...)
		return clone, nil
	}
	newChild, err := unsetAt(arr[seg.Index], rest, strict)
	if err != nil {
		return nil, err
	}
	clone := cloneArray(arr)
	clone[seg.Index] = newChild
	return clone, nil
}

// MergePath shallow-merges the keys of an object value into the object
// found at path, creating the object if the path does not yet resolve.
// Merging onto an existing non-object value (including arrays) is a
// TypeMismatch error — this is the deliberate resolution of spec.md's
// open question about merge-onto-array ambiguity: reject rather than
// guess.
func MergePath(root any, path string, val any) (any, error) {
	valMap, ok := asMap(val)
	if !ok {
		return nil, errs.New(errs.KindTypeMismatch, "merge value must be an object")
	}
	return mergeAt(root, ParsePath(path), valMap)
}

func mergeAt(node any, path Path, val map[string]any) (any, error) {
	if len(path) == 0 {
		existing, ok := asMap(node)
		if !ok && node != nil {
			return nil, errs.New(errs.KindTypeMismatch, "merge target is not an object")
		}
		merged := cloneMap(existing)
		for k, v := range val {
			merged[k] = v
		}
		return merged, nil
	}

	seg := path[0]
	rest := path[1:]

	if !seg.IsIndex {
		m, ok := asMap(node)
		if !ok {
			if node != nil {
				return nil, errs.Newf(errs.KindTypeMismatch, "cannot merge through non-object at key %q", seg.Key)
			}
			m = map[string]any{}
		}
		clone := cloneMap(m)
		newChild, err := mergeAt(clone[seg.Key], rest, val)
		if err != nil {
			return nil, err
		}
		clone[seg.Key] = newChild
		return clone, nil
	}

	arr, ok := asArray(node)
	if !ok {
		return nil, errs.Newf(errs.KindTypeMismatch, "cannot merge through non-array at index %d", seg.Index)
	}
	if seg.Index < 0 || seg.Index >= len(arr) {
		return nil, errs.Newf(errs.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", seg.Index, len(arr))
	}
	clone := cloneArray(arr)
	newChild, err := mergeAt(clone[seg.Index], rest, val)
	if err != nil {
		return nil, err
	}
	clone[seg.Index] = newChild
	return clone, nil
}

func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return map[string]any{}, true
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func asArray(v any) ([]any, bool) {
	if v == nil {
		return []any{}, true
	}
	a, ok := v.([]any)
	return a, ok
}

func cloneMap(m map[string]any) map[string]any {
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

func cloneArray(a []any) []any {
	clone := make([]any, len(a))
	copy(clone, a)
	return clone
}

// DeepClone returns a fully independent copy of a data tree, recursing
// through maps and slices. Used where callers need a value with no shared
// substructure at all (e.g. snapshot_in baselines retained across retries).
func DeepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = DeepClone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = DeepClone(vv)
		}
		return out
	default:
		return v
	}
}

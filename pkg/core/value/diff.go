// SPDX-License-Identifier: AGPL-3.0-or-later

package value

import (
	"sort"
	"strconv"
)

// DiffPaths returns the sorted, canonical list of leaf dot-paths whose
// value differs between base and terminal. It is the mechanism behind
// diff(base.data, terminal.data) used by governance scope post-validation
// (§4.7) and by the patch round-trip property (§8 invariant 6).
func DiffPaths(base, terminal any) []string {
	paths := map[string]bool{}
	collectDiff(base, terminal, "", paths)
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func collectDiff(a, b any, prefix string, out map[string]bool) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		keys := map[string]bool{}
		for k := range am {
			keys[k] = true
		}
		for k := range bm {
			keys[k] = true
		}
		for k := range keys {
			collectDiff(am[k], bm[k], joinPath(prefix, k), out)
		}
		return
	}

	aa, aIsArr := a.([]any)
	ba, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		n := len(aa)
		if len(ba) > n {
			n = len(ba)
		}
		if len(aa) != len(ba) {
			out[prefix] = true
		}
		for i := 0; i < n; i++ {
			var av, bv any
			if i < len(aa) {
				av = aa[i]
			}
			if i < len(ba) {
				bv = ba[i]
			}
			collectDiff(av, bv, joinPath(prefix, strconv.Itoa(i)), out)
		}
		return
	}

	if !scalarEqual(a, b) {
		if prefix != "" {
			out[prefix] = true
		}
	}
}

func scalarEqual(a, b any) bool {
	af, aIsF := toFloat(a)
	bf, bIsF := toFloat(b)
	if aIsF && bIsF {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
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

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

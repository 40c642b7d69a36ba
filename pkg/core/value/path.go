// SPDX-License-Identifier: AGPL-3.0-or-later

// Package value implements the dot-path addressed, structurally-shared tree
// that backs Snapshot.Data: plain map[string]any / []any / primitive trees,
// read and written by path expressions like "user.addresses.0.city".
//
// Feature: CORE_SNAPSHOT
// Spec: spec/core/snapshot.md
package value

import (
	"strconv"
	"strings"
)

// Segment is one component of a parsed Path: either a map key or an array
// index (Index >= 0, IsIndex true).
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a parsed dot-path, e.g. "a.b.0.c".
type Path []Segment

// ParsePath splits a dot-path string into segments. Numeric segments are
// treated as array indices.
func ParsePath(path string) Path {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make(Path, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil && (p == "0" || !strings.HasPrefix(p, "0")) {
			segs = append(segs, Segment{Index: n, IsIndex: true})
			continue
		}
		segs = append(segs, Segment{Key: p})
	}
	return segs
}

// String reassembles a Path into its dot-path string form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		if s.IsIndex {
			parts[i] = strconv.Itoa(s.Index)
		} else {
			parts[i] = s.Key
		}
	}
	return strings.Join(parts, ".")
}

// Get reads the value at path within root. ok is false if any segment of
// the path does not resolve (missing key, out-of-bounds index, or
// attempting to index through a non-container value).
func Get(root any, path string) (any, bool) {
	return GetPath(root, ParsePath(path))
}

// GetPath is Get with an already-parsed Path.
func GetPath(root any, path Path) (any, bool) {
	cur := root
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				return nil, false
			}
			v, ok := c[seg.Key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(c) {
				return nil, false
			}
			cur = c[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// HasReservedPrefix reports whether a dot-path begins with a reserved
// host-internal namespace segment ("$host" or "$mel"). Reserved paths are
// excluded from scope accounting and may never be targeted directly by
// effect handler patches (see patch.ValidateNoReserved).
func HasReservedPrefix(path string) bool {
	first, _, _ := strings.Cut(path, ".")
	return first == "$host" || first == "$mel"
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package canon implements canonical JSON encoding (JCS-equivalent) and the
// content-hashing primitives built on top of it.
//
// Feature: CORE_CANON
// Spec: spec/core/canon.md
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Marshal produces the canonical byte sequence for v: object keys sorted by
// Unicode code point, "-0" normalized to "0", non-finite floats replaced by
// null, unserializable values omitted from objects / replaced by null in
// arrays, strings escaped per the standard JSON rules. Two values with
// identical semantic content always produce byte-identical output.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal panics on encode failure. Reserved for call sites operating on
// values already known to be canonicalizable (e.g. internally constructed
// snapshots), never on user-supplied input.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("canon: %v", err))
	}
	return b
}

// Equal reports whether a and b have byte-equal canonical forms.
func Equal(a, b any) (bool, error) {
	ab, err := Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// Sum256 returns the lowercase hex-encoded sha256 digest of the canonical
// form of v. This is the hashing primitive used for schema.hash,
// snapshot_hash, requirement.id, and the default execution-key policy.
func Sum256(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustSum256 panics on encode failure; see MustMarshal.
func MustSum256(v any) string {
	h, err := Sum256(v)
	if err != nil {
		panic(fmt.Sprintf("canon: %v", err))
	}
	return h
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		encodeString(buf, t)
		return nil
	case float64:
		encodeFloat(buf, t)
		return nil
	case float32:
		encodeFloat(buf, float64(t))
		return nil
	case int:
		buf.WriteString(strconv.Itoa(t))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case []any:
		return encodeArray(buf, t)
	case map[string]any:
		return encodeObject(buf, t)
	default:
		return encodeReflective(buf, v)
	}
}

func encodeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	if f == 0 {
		// Normalize -0 to 0.
		buf.WriteString("0")
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if !canonicalizable(item) {
			buf.WriteString("null")
			continue
		}
		if err := encode(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k, v := range obj {
		if canonicalizable(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys) // sorted by Unicode code point, matching Go's default string ordering

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// canonicalizable reports whether v can be represented at all (functions,
// channels, and similar unserializable values are omitted from objects
// entirely rather than erroring the whole encode).
func canonicalizable(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	default:
		return true
	}
}

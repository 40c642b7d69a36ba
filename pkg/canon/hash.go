// SPDX-License-Identifier: AGPL-3.0-or-later

package canon

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashFunc computes a raw digest over b. Sum256/MustSum256 hard-code
// SHA256 (spec.md §4.4 names it explicitly for schema.hash, snapshot_hash
// and requirement.id); SumWith lets a caller outside that fixed set pick a
// different algorithm without duplicating the canonical-encoding step.
type HashFunc func(b []byte) []byte

// SHA256Digest is the HashFunc backing Sum256.
func SHA256Digest(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Blake2b256Digest is an alternate HashFunc used where spec.md requires
// only "deterministic" ids rather than a specific cryptographic hash (the
// TraceGraph node ids, §4 "Trace") — it never substitutes for SHA256 where
// the spec names that algorithm by name.
func Blake2b256Digest(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// SumWith returns the lowercase hex-encoded digest of v's canonical form
// under fn.
func SumWith(v any, fn HashFunc) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(fn(b)), nil
}

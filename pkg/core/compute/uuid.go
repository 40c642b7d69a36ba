// SPDX-License-Identifier: AGPL-3.0-or-later

package compute

import (
	"fmt"
	"math/rand"
)

// uuidSequence produces the per-compute-call deterministic pseudo-random
// uuid() sequence seeded from host_ctx.random_seed (§4.1, §4.4). It is
// intentionally NOT backed by github.com/google/uuid: that library's
// NewRandom draws from crypto/rand and can never be replayed identically,
// which would break the core determinism invariant. google/uuid is used
// elsewhere in this module for genuinely non-deterministic identifiers
// (proposal ids) where that property is exactly what's wanted.
type uuidSequence struct {
	rnd *rand.Rand
}

func newUUIDSequence(seed uint64) *uuidSequence {
	return &uuidSequence{rnd: rand.New(rand.NewSource(int64(seed)))}
}

func (u *uuidSequence) next() string {
	var b [16]byte
	u.rnd.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // RFC 4122 variant
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

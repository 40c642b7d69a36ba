// SPDX-License-Identifier: AGPL-3.0-or-later

package compute

import (
	"strings"

	"melrun/pkg/core/value"
)

// HostContext is the frozen, per-compute-call boundary the evaluator reads
// sys(...) values from (§4.5). It is captured once by the caller before a
// compute call begins and never re-read from a live clock mid-call, so a
// replayed flow observes exactly the same "now" on every pass.
type HostContext struct {
	Now          string // RFC3339, frozen at call start
	IntentID     string
	ActionID     string
	RandomSeed   uint64
	TraceEnabled bool // devtools.trace_enabled (§10.2); never influences snapshot output
}

// snapshotEnv adapts a (data, computed, system, input) snapshot view plus a
// frozen HostContext into the expr.Env / flow interpreter environment.
// Namespace convention: paths are explicitly prefixed — "data.*",
// "computed.*", "system.*", "input" / "input.*" — except for the reserved
// "$host"/"$mel" markers, which live as ordinary top-level keys under the
// data tree and so are read through the "data." prefix like everything
// else in Data.
type snapshotEnv struct {
	data     map[string]any
	computed map[string]any
	system   map[string]any
	input    any
	host     HostContext
	uuidSeq  *uuidSequence
}

func (e *snapshotEnv) Get(path string) (any, bool) {
	switch {
	case path == "input":
		return e.input, e.input != nil
	case strings.HasPrefix(path, "input."):
		return value.Get(e.input, strings.TrimPrefix(path, "input."))
	case strings.HasPrefix(path, "data."):
		return value.Get(e.data, strings.TrimPrefix(path, "data."))
	case strings.HasPrefix(path, "computed."):
		return value.Get(e.computed, strings.TrimPrefix(path, "computed."))
	case strings.HasPrefix(path, "system."):
		return value.Get(e.system, strings.TrimPrefix(path, "system."))
	default:
		return nil, false
	}
}

func (e *snapshotEnv) Sys(path string) (any, bool) {
	switch path {
	case "now":
		return e.host.Now, true
	case "intent_id":
		return e.host.IntentID, true
	case "action_id":
		return e.host.ActionID, true
	case "random_seed":
		return e.host.RandomSeed, true
	default:
		return nil, false
	}
}

func (e *snapshotEnv) NextUUID() string {
	return e.uuidSeq.next()
}

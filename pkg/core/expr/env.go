// SPDX-License-Identifier: AGPL-3.0-or-later

package expr

// Env is the read-only evaluation environment an expression runs against.
// It deliberately exposes no mutation: expr is a pure function of
// (node, env) -> (value, error).
type Env interface {
	// Get reads a dot-path from the snapshot's combined data/computed/
	// input/system namespace (the same resolution order the flow engine
	// uses for "get" expressions).
	Get(path string) (any, bool)

	// Sys reads host-boundary values: "now" (RFC3339), "intent_id",
	// "action_id", "random_seed". Implementations must source these from
	// the frozen host context (§4.5), never from a live clock.
	Sys(path string) (any, bool)

	// NextUUID returns the next value in the per-compute-call deterministic
	// pseudo-random sequence seeded from host_ctx.random_seed (§4.1/§4.4).
	NextUUID() string
}

// itEnv wraps a base Env, binding the implicit loop variable "it" used by
// filter/map predicates to a single element.
type itEnv struct {
	Env
	it any
}

func (e *itEnv) withIt(v any) *itEnv {
	return &itEnv{Env: e.Env, it: v}
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner enforces the single-runner-per-execution-key invariant
// (R-1/RUN-1/RUN-2/RUN-3, §5.1): at most one goroutine may be actively
// draining a given key's mailbox at a time; a job enqueued while that
// key's runner is active sets a kick_pending flag instead of starting a
// second runner, and the active runner re-checks its mailbox before
// exiting so a kick is never dropped.
//
// Feature: HOST_RUNNER
// Spec: spec/host/runner.md
package runner

import "sync"

// State tracks one execution key's runner bookkeeping.
type State struct {
	mu           sync.Mutex
	active       bool
	kickPending  bool
	frozenNow    string
	frozenSeed   uint64
}

// Registry owns one State per execution key.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry returns an empty runner-state registry.
func NewRegistry() *Registry {
	return &Registry{states: map[string]*State{}}
}

func (r *Registry) stateFor(key string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		s = &State{}
		r.states[key] = s
	}
	return s
}

// TryAcquire attempts to become the active runner for key. If another
// runner is already active, it records a pending kick and returns false:
// the caller must not start draining the mailbox itself.
func (r *Registry) TryAcquire(key string, now string, seed uint64) bool {
	s := r.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.kickPending = true
		return false
	}
	s.active = true
	s.kickPending = false
	s.frozenNow = now
	s.frozenSeed = seed
	return true
}

// FrozenContext returns the (now, seed) pair the active runner for key
// froze at acquisition time — the host_ctx every compute call within this
// runner's draining pass must use, so replays within one pass are
// internally consistent.
func (r *Registry) FrozenContext(key string) (now string, seed uint64) {
	s := r.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozenNow, s.frozenSeed
}

// Release marks key's runner inactive and reports whether a kick arrived
// while it was active: if true, the caller (the host loop) must
// immediately re-acquire and keep draining rather than actually stopping,
// so a job enqueued during the drain is never left unprocessed.
func (r *Registry) Release(key string) (kicked bool) {
	s := r.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	kicked = s.kickPending
	s.kickPending = false
	return kicked
}

// IsActive reports whether key currently has an active runner (test/
// diagnostic use only; never branch production logic on this directly —
// use TryAcquire/Release).
func (r *Registry) IsActive(key string) bool {
	s := r.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

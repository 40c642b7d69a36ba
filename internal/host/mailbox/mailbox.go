// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mailbox implements the per-execution-key job queue the host
// loop drains (§5.1). Jobs for a given key are delivered strictly FIFO;
// enqueue_and_kick atomically appends a job and signals the key's runner
// to wake if it is idle, without ever starting two runners for the same
// key (R-1, enforced by internal/host/runner).
//
// Feature: HOST_MAILBOX
// Spec: spec/host/mailbox.md
package mailbox

import (
	"sync"
	"time"
)

// JobKind tags the variant of a mailbox Job.
type JobKind string

const (
	JobStartIntent     JobKind = "start_intent"
	JobContinueCompute JobKind = "continue_compute"
	JobFulfillEffect   JobKind = "fulfill_effect"
	JobApplyPatches    JobKind = "apply_patches"
)

// Job is one unit of work destined for a single execution key's runner.
type Job struct {
	Kind JobKind
	// Payload is job-kind-specific and defined by the host loop (for
	// StartIntent the intent plus the schema and snapshot to run it on;
	// for FulfillEffect that plus the requirement id and result patches);
	// the host loop switches on Kind and asserts the matching payload type.
	Payload any
}

// Box is one execution key's FIFO job queue.
type Box struct {
	mu    sync.Mutex
	items []Job
}

// Enqueue appends a job to the box.
func (b *Box) Enqueue(j Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, j)
}

// Dequeue removes and returns the oldest job, or ok=false if empty.
func (b *Box) Dequeue() (Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return Job{}, false
	}
	j := b.items[0]
	b.items = b.items[1:]
	return j, true
}

// Len reports the number of queued, undrained jobs.
func (b *Box) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Registry owns one Box per execution key, plus an opt-in idle-eviction
// sweep. No sweep runs unless Sweep is called explicitly: the host never
// starts background goroutines implicitly (no-implicit-concurrency).
type Registry struct {
	mu         sync.Mutex
	boxes      map[string]*Box
	lastActive map[string]time.Time
}

// NewRegistry returns an empty mailbox registry.
func NewRegistry() *Registry {
	return &Registry{boxes: map[string]*Box{}, lastActive: map[string]time.Time{}}
}

// EnqueueAndKick appends job to key's box (creating it if needed), records
// now as the key's last activity, and returns the box. It does not decide
// whether a runner must start: callers ask the runner package, which is
// the authority on single-runner-per-key.
func (r *Registry) EnqueueAndKick(key string, job Job, now time.Time) *Box {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[key]
	if !ok {
		b = &Box{}
		r.boxes[key] = b
	}
	r.lastActive[key] = now
	b.Enqueue(job)
	return b
}

// Box returns the box for key if one exists.
func (r *Registry) Box(key string) (*Box, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boxes[key]
	return b, ok
}

// Sweep evicts any key whose box is empty and has been idle for at least
// maxIdle. Must be invoked explicitly (e.g. by a devtools cron or test);
// the registry never schedules this itself.
func (r *Registry) Sweep(now time.Time, maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for key, last := range r.lastActive {
		b, ok := r.boxes[key]
		if !ok || b.Len() > 0 {
			continue
		}
		if now.Sub(last) >= maxIdle {
			delete(r.boxes, key)
			delete(r.lastActive, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package loop implements the host's execution orchestrator (§5): per
// execution-key mailboxes drained by at most one runner at a time,
// StartIntent/ContinueCompute/FulfillEffect/ApplyPatches job handling,
// effect dispatch off the mailbox goroutine, duplicate-fulfillment
// collapsing via golang.org/x/sync/singleflight, and the PUB-3 publish
// boundary: exactly one observer notification per proposal tick regardless
// of how many internal compute steps it took.
package loop

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"melrun/internal/host/mailbox"
	"melrun/internal/host/runner"
	"melrun/pkg/core/compute"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/patch"
	"melrun/pkg/core/schema"
	"melrun/pkg/core/snapshot"
	"melrun/pkg/effects"
	"melrun/pkg/errs"
	"melrun/pkg/events"
	"melrun/pkg/telemetry"
)

// startIntentPayload is the StartIntent/ContinueCompute job's Payload shape.
type startIntentPayload struct {
	schema   *schema.Schema
	snapshot *snapshot.Snapshot
	intent   compute.Intent
}

// fulfillPayload carries one effect's result back into the flow: the
// guard-flip + result patches a resumed compute call will observe, plus
// everything needed to re-enter compute for the suspended intent.
type fulfillPayload struct {
	requirementID string
	schema        *schema.Schema
	snapshot      *snapshot.Snapshot
	intent        compute.Intent
	resultPatches []patch.Patch
}

// applyPatchesPayload is the ApplyPatches job's Payload shape — a direct,
// effect-free patch batch (e.g. branch-switch bookkeeping) applied outside
// any action flow.
type applyPatchesPayload struct {
	snapshot *snapshot.Snapshot
	patches  []patch.Patch
}

// maxConcurrentEffectDispatches bounds how many effect handlers may be
// in flight at once across every execution key, so a burst of suspending
// proposals cannot fan out unboundedly many goroutines against
// potentially slow external effect handlers.
const maxConcurrentEffectDispatches = 64

// Loop is the per-key execution orchestrator.
type Loop struct {
	mailboxes   *mailbox.Registry
	runners     *runner.Registry
	effects     *effects.Registry
	sink        events.Sink
	sf          singleflight.Group
	log         telemetry.Logger
	effectGroup *errgroup.Group

	// TraceEnabled mirrors devtools.trace_enabled (§10.2): when set,
	// every compute call's TraceGraph is attached to its Outcome. Off by
	// default, toggled by the caller after construction.
	TraceEnabled bool
}

// New constructs a Loop wired to the given effect registry and event sink.
// A nil sink defaults to events.NoopSink{}; a nil logger to a no-op logger.
func New(effectsReg *effects.Registry, sink events.Sink, log telemetry.Logger) *Loop {
	if sink == nil {
		sink = events.NoopSink{}
	}
	if log == nil {
		log = telemetry.NewNop()
	}
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentEffectDispatches)
	return &Loop{
		mailboxes:   mailbox.NewRegistry(),
		runners:     runner.NewRegistry(),
		effects:     effectsReg,
		sink:        sink,
		log:         log,
		effectGroup: eg,
	}
}

// Outcome is the terminal result of one Submit/ApplyPatches call's synchronous
// portion. If the action suspends on an effect, Outcome.Snapshot reflects
// the pending state and the eventual terminal outcome arrives later via
// the configured Sink.
type Outcome struct {
	Status   flow.Status
	Snapshot *snapshot.Snapshot
	Trace    *flow.TraceNode // nil unless Loop.TraceEnabled
}

// Submit starts (or joins) one execution key's drain with a StartIntent
// job and synchronously drains everything that does not require waiting
// on an external effect. If another runner already owns key, the job is
// queued and this call returns a zero Outcome — the owning runner's drain
// loop is responsible for processing it (kick_pending, R-1).
func (l *Loop) Submit(ctx context.Context, key string, s *schema.Schema, snap *snapshot.Snapshot, intent compute.Intent, now time.Time, seed uint64) (Outcome, error) {
	job := mailbox.Job{Kind: mailbox.JobStartIntent, Payload: startIntentPayload{schema: s, snapshot: snap, intent: intent}}
	box := l.mailboxes.EnqueueAndKick(key, job, now)

	if !l.runners.TryAcquire(key, now.Format(time.RFC3339), seed) {
		return Outcome{}, nil
	}
	return l.drain(ctx, key, box)
}

// ApplyPatches applies a direct, effect-free patch batch to snap under
// key's single-runner discipline (used for host bookkeeping outside any
// action flow, e.g. branch epoch stamping).
func (l *Loop) ApplyPatches(ctx context.Context, key string, snap *snapshot.Snapshot, patches []patch.Patch, now time.Time, seed uint64) (Outcome, error) {
	job := mailbox.Job{Kind: mailbox.JobApplyPatches, Payload: applyPatchesPayload{snapshot: snap, patches: patches}}
	box := l.mailboxes.EnqueueAndKick(key, job, now)
	if !l.runners.TryAcquire(key, now.Format(time.RFC3339), seed) {
		return Outcome{}, nil
	}
	return l.drain(ctx, key, box)
}

func (l *Loop) drain(ctx context.Context, key string, box *mailbox.Box) (Outcome, error) {
	var last Outcome
	var published bool

	for {
		job, ok := box.Dequeue()
		if !ok {
			break
		}

		out, err := l.handle(ctx, key, job)
		if err != nil {
			l.runners.Release(key)
			return last, err
		}
		last = out

		if isTerminal(out.Status) && !published {
			l.publishTerminal(key, out)
			published = true
		}
	}

	kicked := l.runners.Release(key)
	if kicked {
		if !l.runners.TryAcquire(key, time.Now().Format(time.RFC3339), 0) {
			return last, nil
		}
		return l.drain(ctx, key, box)
	}
	return last, nil
}

func isTerminal(s flow.Status) bool {
	return s == flow.StatusCompleted || s == flow.StatusFailed || s == flow.StatusHalted
}

func (l *Loop) handle(ctx context.Context, key string, job mailbox.Job) (Outcome, error) {
	switch job.Kind {
	case mailbox.JobStartIntent, mailbox.JobContinueCompute:
		p := job.Payload.(startIntentPayload)
		return l.runCompute(ctx, key, p.schema, p.snapshot, p.intent)

	case mailbox.JobFulfillEffect:
		p := job.Payload.(fulfillPayload)
		next, err := p.snapshot.WithPatches(p.resultPatches, patch.DefaultOptions(), l.frozenNow(key, p.snapshot))
		if err != nil {
			return Outcome{}, err
		}
		return l.runCompute(ctx, key, p.schema, next, p.intent)

	case mailbox.JobApplyPatches:
		p := job.Payload.(applyPatchesPayload)
		next, err := p.snapshot.WithPatches(p.patches, patch.DefaultOptions(), l.frozenNow(key, p.snapshot))
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: flow.StatusCompleted, Snapshot: next}, nil

	default:
		return Outcome{}, errs.Newf(errs.KindInternal, "unknown job kind %q", job.Kind)
	}
}

// frozenNow returns the timestamp the active runner for key froze at
// acquisition time, falling back to snap's own timestamp when no runner
// has frozen a context yet (e.g. a patch batch applied outside any
// compute call). §4.5: effect-result injection must observe the job's
// frozen context, never wall-clock time, so a snapshot produced by
// replaying the same job twice is byte-identical.
func (l *Loop) frozenNow(key string, snap *snapshot.Snapshot) time.Time {
	if frozen, _ := l.runners.FrozenContext(key); frozen != "" {
		if t, err := time.Parse(time.RFC3339, frozen); err == nil {
			return t
		}
	}
	return snap.Meta.Timestamp
}

func (l *Loop) runCompute(ctx context.Context, key string, s *schema.Schema, snap *snapshot.Snapshot, intent compute.Intent) (Outcome, error) {
	host := compute.HostContext{
		Now:          snap.Meta.Timestamp.Format(time.RFC3339),
		IntentID:     intent.ID,
		ActionID:     intent.ActionName,
		RandomSeed:   snap.Meta.RandomSeed,
		TraceEnabled: l.TraceEnabled,
	}
	if now, seed := l.runners.FrozenContext(key); now != "" {
		host.Now = now
		host.RandomSeed = seed
	}

	res := compute.Compute(s, snap, intent, host)

	// COMP-REQ interlock: all of this call's patches are already applied to
	// res.Snapshot by Compute before we ever look at Requirements, so an
	// effect handler can never observe a partially-applied compute step.
	if res.Status == flow.StatusPending {
		for _, req := range res.Requirements {
			l.dispatchEffect(ctx, key, s, res.Snapshot, intent, req)
		}
	}

	return Outcome{Status: res.Status, Snapshot: res.Snapshot, Trace: res.Trace}, nil
}

// dispatchEffect runs one requirement's handler off the mailbox goroutine
// and, on completion, enqueues a FulfillEffect job back onto key's
// mailbox. Concurrent fulfillments of the SAME requirement id (e.g. a
// duplicate delivery) collapse onto a single in-flight handler call via
// singleflight.
func (l *Loop) dispatchEffect(ctx context.Context, key string, s *schema.Schema, snap *snapshot.Snapshot, intent compute.Intent, req compute.Requirement) {
	l.effectGroup.Go(func() error {
		v, err, _ := l.sf.Do(req.ID, func() (any, error) {
			snapHash, _ := snap.Hash()
			return l.effects.Dispatch(ctx, req.EffectType, req.Params, snapHash)
		})

		var resultPatches []patch.Patch
		if err != nil {
			l.log.Warn("effect dispatch failed", telemetry.F("effect_type", req.EffectType), telemetry.F("error", err.Error()))
		} else if v != nil {
			resultPatches, _ = v.([]patch.Patch)
		}
		resultPatches = append(resultPatches, flow.MarkFulfilled(intent.ID, req.NodePath))

		now := time.Now()
		box := l.mailboxes.EnqueueAndKick(key, mailbox.Job{
			Kind: mailbox.JobFulfillEffect,
			Payload: fulfillPayload{
				requirementID: req.ID,
				schema:        s,
				snapshot:      snap,
				intent:        intent,
				resultPatches: resultPatches,
			},
		}, now)

		if l.runners.TryAcquire(key, now.Format(time.RFC3339), snap.Meta.RandomSeed) {
			_, _ = l.drain(ctx, key, box)
		}
		return nil
	})
}

func (l *Loop) publishTerminal(key string, out Outcome) {
	kind := events.KindExecutionCompleted
	if out.Status == flow.StatusFailed {
		kind = events.KindExecutionFailed
	}
	l.sink.Publish(events.Event{Kind: kind, Key: key, Data: map[string]any{"status": string(out.Status)}})
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authority implements the governance layer's decision step
// (§6.2): given a proposal, produce an AuthorityDecision approving or
// rejecting it, optionally narrowing the scope the execution is allowed
// to mutate. Four authority kinds are recognized; PolicyAuthority
// evaluates an ordered rule list, first match wins.
//
// Feature: GOVERNANCE_AUTHORITY
// Spec: spec/governance/authority.md
package authority

import (
	"fmt"
	"strings"
	"time"

	"melrun/internal/governance/proposal"
	"melrun/internal/governance/scope"
)

// Kind names the source of an authority decision.
type Kind string

const (
	KindAuto     Kind = "auto"
	KindHuman    Kind = "human"
	KindPolicy   Kind = "policy"
	KindTribunal Kind = "tribunal"
)

// Decision is the outcome of evaluating a proposal against an authority.
type Decision struct {
	Approved      bool
	Reason        string
	ApprovedScope *scope.ApprovedScope
	Kind          Kind
	Timestamp     time.Time
}

// Authority decides proposals. AutoAuthority, HumanAuthority (a thin
// pass-through for an externally-supplied verdict) and PolicyAuthority all
// implement it; a tribunal authority composing several of these under a
// voting rule is a governance-layer concern, not this package's.
type Authority interface {
	Decide(p proposal.Proposal, now time.Time) Decision
}

// AutoAuthority approves every proposal unconditionally with a fixed
// scope, for schemas/actions trusted to self-govern (e.g. devtools/test
// worlds).
type AutoAuthority struct {
	DefaultScope scope.ApprovedScope
}

func (a AutoAuthority) Decide(p proposal.Proposal, now time.Time) Decision {
	return Decision{Approved: true, Reason: "auto-approved", ApprovedScope: &a.DefaultScope, Kind: KindAuto, Timestamp: now}
}

// HumanAuthority records a verdict a human operator already made out of
// band (e.g. via an approval UI); Decide simply replays it with a
// timestamp, so the rest of the pipeline treats human and automated
// decisions identically.
type HumanAuthority struct {
	Verdict Decision
}

func (h HumanAuthority) Decide(p proposal.Proposal, now time.Time) Decision {
	d := h.Verdict
	d.Kind = KindHuman
	d.Timestamp = now
	return d
}

// Condition tests whether a Rule applies to a proposal.
type Condition func(p proposal.Proposal) bool

// IntentTypeIn matches proposals whose action name is in the given set.
func IntentTypeIn(names ...string) Condition {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(p proposal.Proposal) bool { return set[p.Intent.ActionName] }
}

// ActionNamePattern matches proposals whose action name has the given
// prefix (a minimal glob: "foo.*" matches anything starting with "foo.").
func ActionNamePattern(pattern string) Condition {
	prefix := strings.TrimSuffix(pattern, "*")
	hasWildcard := strings.HasSuffix(pattern, "*")
	return func(p proposal.Proposal) bool {
		if hasWildcard {
			return strings.HasPrefix(p.Intent.ActionName, prefix)
		}
		return p.Intent.ActionName == pattern
	}
}

// Custom resolves a named condition from registry at evaluation time (the
// "custom(name)" condition kind), so rule sets declared data-first (e.g.
// loaded from config) can still call into arbitrary application code.
// An unregistered name never matches.
func Custom(name string, registry *ConditionRegistry) Condition {
	return func(p proposal.Proposal) bool {
		fn, ok := registry.lookup(name)
		if !ok {
			return false
		}
		return fn(p)
	}
}

// ConditionRegistry holds named custom conditions PolicyAuthority rules
// may reference by name, so rule sets can be declared data-first (e.g.
// loaded from config) while still calling into arbitrary application code.
type ConditionRegistry struct {
	items map[string]Condition
}

// NewConditionRegistry returns an empty registry.
func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{items: map[string]Condition{}}
}

// Register adds a named condition. Panics on duplicate registration,
// matching the pack's registry-with-panic-on-duplicate convention.
func (r *ConditionRegistry) Register(name string, cond Condition) {
	if _, exists := r.items[name]; exists {
		panic(fmt.Sprintf("authority: condition %q already registered", name))
	}
	r.items[name] = cond
}

func (r *ConditionRegistry) lookup(name string) (Condition, bool) {
	c, ok := r.items[name]
	return c, ok
}

// Rule is one ordered entry in a PolicyAuthority's rule list.
type Rule struct {
	Condition Condition
	Decision  Decision
	Reason    string
}

// PolicyAuthority evaluates an ordered list of rules, first match wins. If
// no rule matches, Default is returned.
type PolicyAuthority struct {
	Rules   []Rule
	Default Decision
}

func (p PolicyAuthority) Decide(prop proposal.Proposal, now time.Time) Decision {
	for _, rule := range p.Rules {
		if rule.Condition == nil || !rule.Condition(prop) {
			continue
		}
		d := rule.Decision
		d.Kind = KindPolicy
		d.Timestamp = now
		if d.Reason == "" {
			d.Reason = rule.Reason
		}
		return d
	}
	d := p.Default
	d.Kind = KindPolicy
	d.Timestamp = now
	if d.Reason == "" {
		d.Reason = "no matching rule: default decision"
	}
	return d
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package authority_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"melrun/internal/governance/authority"
	"melrun/internal/governance/proposal"
	"melrun/internal/governance/scope"
	"melrun/pkg/core/compute"
)

func TestAutoAuthority_AlwaysApproves(t *testing.T) {
	a := authority.AutoAuthority{DefaultScope: scope.ApprovedScope{AllowedPaths: []string{"*"}}}
	d := a.Decide(proposal.Proposal{Intent: compute.Intent{ActionName: "anything"}}, time.Now())
	require.True(t, d.Approved)
	require.Equal(t, authority.KindAuto, d.Kind)
}

func TestPolicyAuthority_FirstMatchWins(t *testing.T) {
	narrow := scope.ApprovedScope{AllowedPaths: []string{"data.count"}}
	wide := scope.ApprovedScope{AllowedPaths: []string{"*"}}

	p := authority.PolicyAuthority{
		Rules:   ruleFixture(narrow, wide),
		Default: authority.Decision{Approved: false, Reason: "no policy matched"},
	}

	d := p.Decide(proposal.Proposal{Intent: compute.Intent{ActionName: "increment"}}, time.Now())
	require.True(t, d.Approved)
	require.Equal(t, &narrow, d.ApprovedScope)

	d2 := p.Decide(proposal.Proposal{Intent: compute.Intent{ActionName: "delete_everything"}}, time.Now())
	require.False(t, d2.Approved)
	require.Equal(t, "no policy matched", d2.Reason)
}

// ruleFixture builds the two-rule fixture used above (kept as a helper so
// the test body reads as data, not construction noise).
func ruleFixture(narrow, wide scope.ApprovedScope) []authority.Rule {
	return []authority.Rule{
		{Condition: authority.IntentTypeIn("increment"), Decision: authority.Decision{Approved: true, ApprovedScope: &narrow}, Reason: "increments are narrowly scoped"},
		{Condition: authority.ActionNamePattern("admin.*"), Decision: authority.Decision{Approved: true, ApprovedScope: &wide}, Reason: "admin actions get full scope"},
	}
}

func TestPolicyAuthority_CustomCondition(t *testing.T) {
	reg := authority.NewConditionRegistry()
	reg.Register("is_weekend_actor", func(p proposal.Proposal) bool { return p.ActorID == "weekend-bot" })

	p := authority.PolicyAuthority{
		Rules: []authority.Rule{
			{Condition: authority.Custom("is_weekend_actor", reg), Decision: authority.Decision{Approved: false}, Reason: "weekend-bot is never auto-approved"},
		},
		Default: authority.Decision{Approved: true},
	}

	d := p.Decide(proposal.Proposal{ActorID: "weekend-bot"}, time.Now())
	require.False(t, d.Approved)

	d2 := p.Decide(proposal.Proposal{ActorID: "someone-else"}, time.Now())
	require.True(t, d2.Approved)
}

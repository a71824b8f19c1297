package pdp

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/canonicalize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/jsonpath"
)

func TestMatchAction(t *testing.T) {
	cases := []struct {
		actionType, pattern string
		want                bool
	}{
		{"purchase", "purchase", true},
		{"purchase", "*", true},
		{"purchase.refund", "purchase", false},
		{"government.submit_document", "government.*", true},
		{"government", "government.*", true},
		{"governmental.x", "government.*", false},
		{"purchase", "booking", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchAction(tc.actionType, tc.pattern), "%s vs %s", tc.actionType, tc.pattern)
	}
}

func TestEvaluate_DefaultFallback(t *testing.T) {
	engine := NewEngine(WithIDGenerator(seqIDs()))

	res, err := engine.Evaluate(newAction("purchase", map[string]any{}), &contracts.Policy{Version: 1, Default: contracts.EffectDeny}, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionDeny, res.Response.Result)
	assert.Nil(t, res.Response.MatchedRuleID)
	assert.Contains(t, res.Response.Reason, "No rule matched")
	assert.Empty(t, res.Trace.Rules)

	res, err = engine.Evaluate(newAction("purchase", map[string]any{}), &contracts.Policy{Version: 1, Default: contracts.EffectAllow}, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionAllow, res.Response.Result)
	assert.NotNil(t, res.Response.Obligations)
}

func TestEvaluate_FirstMatchWinsWithFullTrace(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectAllow,
		Rules: []contracts.PolicyRule{
			{ID: "other", Effect: contracts.EffectAllow, Action: "booking"},
			{ID: "when-fails", Effect: contracts.EffectAllow, Action: "purchase",
				When: contracts.Match("$.payload.currency", contracts.OpEq, "USD")},
			{ID: "cons-fails", Effect: contracts.EffectAllow, Action: "*",
				Constraints: &contracts.Constraints{AmountMax: ptr(10.0)}},
			{ID: "deny-big", Effect: contracts.EffectDeny, Action: "purchase"},
			{ID: "allow-all", Effect: contracts.EffectAllow, Action: "*"},
		},
	}

	res, err := NewEngine().Evaluate(newAction("purchase", map[string]any{"amount_minor": 5000, "currency": "EUR"}), policy, Options{})
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionDeny, res.Response.Result)
	require.NotNil(t, res.Response.MatchedRuleID)
	assert.Equal(t, "deny-big", *res.Response.MatchedRuleID)
	assert.Equal(t, `Denied by rule "deny-big"`, res.Response.Reason)

	require.Len(t, res.Trace.Rules, 5)
	assert.Equal(t, contracts.RuleTrace{RuleID: "other"}, res.Trace.Rules[0])
	assert.Equal(t, contracts.RuleTrace{RuleID: "when-fails", PatternMatch: true, WhenMatch: ptr(false)}, res.Trace.Rules[1])
	assert.Equal(t, contracts.RuleTrace{RuleID: "cons-fails", PatternMatch: true, WhenMatch: ptr(true), ConstraintsMatch: ptr(false)}, res.Trace.Rules[2])
	assert.True(t, res.Trace.Rules[3].FinalMatch)
	assert.True(t, res.Trace.Rules[4].FinalMatch, "later rules are still traced")
}

func TestEvaluate_AllowDelegatesToObligations(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectDeny,
		Rules: []contracts.PolicyRule{{
			ID: "needs-approval", Effect: contracts.EffectAllow, Action: "purchase",
			Obligations: []contracts.ObligationSpec{
				{Type: contracts.ObligationStepUpAuth},
				{Type: contracts.ObligationHumanApproval},
			},
		}},
	}
	res, err := NewEngine().Evaluate(newAction("purchase", map[string]any{}), policy, Options{})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionRequireApproval, res.Response.Result)
	assert.Equal(t, `Rule "needs-approval" requires: REQUIRE_APPROVAL`, res.Response.Reason)
	assert.Len(t, res.Response.Obligations, 2)
}

func TestEvaluate_ProofRequirement(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectAllow,
		Rules: []contracts.PolicyRule{
			{ID: "proof", Effect: contracts.EffectAllow, Action: "booking", Proof: &contracts.ProofSpec{Required: true, TTLSeconds: ptr(30)}},
		},
	}
	engine := NewEngine()

	regulated := newAction("purchase", map[string]any{})
	regulated.RelyingParty = &contracts.RelyingParty{TrustProfile: contracts.TrustProfileRegulated}
	res, err := engine.Evaluate(regulated, policy, Options{DefaultProofTTL: 120})
	require.NoError(t, err)
	assert.True(t, res.ProofRequired, "REGULATED forces proof without a matching rule")
	require.NotNil(t, res.ProofTTLSeconds)
	assert.Equal(t, 120, *res.ProofTTLSeconds)

	res, err = engine.Evaluate(newAction("booking", map[string]any{}), policy, Options{DefaultProofTTL: 120})
	require.NoError(t, err)
	assert.True(t, res.ProofRequired)
	assert.Equal(t, 30, *res.ProofTTLSeconds, "rule ttl beats the default")

	res, err = engine.Evaluate(newAction("purchase", map[string]any{}), policy, Options{})
	require.NoError(t, err)
	assert.False(t, res.ProofRequired)
	assert.Nil(t, res.ProofTTLSeconds)
}

func TestEvaluate_EndToEndScenario(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectDeny,
		Rules: []contracts.PolicyRule{{
			ID: "r1", Effect: contracts.EffectAllow, Action: "purchase",
			Constraints: &contracts.Constraints{AmountMax: ptr(50000.0)},
			Proof:       &contracts.ProofSpec{Required: true},
		}},
	}
	engine := NewEngine()

	small := newAction("purchase", map[string]any{"amount_minor": 5000})
	res, err := engine.Evaluate(small, policy, Options{DefaultProofTTL: 120})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionAllow, res.Response.Result)
	assert.Equal(t, "r1", *res.Response.MatchedRuleID)
	assert.True(t, res.ProofRequired)

	wantHash, err := canonicalize.ActionHash(small)
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.Response.ActionHash)

	big := newAction("purchase", map[string]any{"amount_minor": 500000})
	res, err = engine.Evaluate(big, policy, Options{DefaultProofTTL: 120})
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionDeny, res.Response.Result)
	assert.Nil(t, res.Response.MatchedRuleID)
}

func TestEvaluate_MalformedPathIsInternalError(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectDeny,
		Rules: []contracts.PolicyRule{{
			ID: "broken", Effect: contracts.EffectAllow, Action: "*",
			When: contracts.Match("payload.amount", contracts.OpExists, nil),
		}},
	}
	res, err := NewEngine().Evaluate(newAction("purchase", map[string]any{}), policy, Options{})
	assert.Nil(t, res)

	var ierr *InternalError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "broken", ierr.RuleID)
	var perr *jsonpath.PathError
	assert.True(t, errors.As(err, &perr))
}

func TestEvaluate_FreshIDs(t *testing.T) {
	policy := &contracts.Policy{Version: 1, Default: contracts.EffectAllow}
	engine := NewEngine()
	a, err := engine.Evaluate(newAction("purchase", map[string]any{}), policy, Options{})
	require.NoError(t, err)
	b, err := engine.Evaluate(newAction("purchase", map[string]any{}), policy, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Response.DecisionID, b.Response.DecisionID)
	assert.Equal(t, a.Response.ActionHash, b.Response.ActionHash)
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	policy := &contracts.Policy{
		Version: 1,
		Default: contracts.EffectDeny,
		Rules: []contracts.PolicyRule{{
			ID: "re", Effect: contracts.EffectAllow, Action: "*",
			When: contracts.Match("$.payload.merchant", contracts.OpRegex, `^shop\.`),
		}},
	}
	engine := NewEngine()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Evaluate(newAction("purchase", map[string]any{"merchant": "shop.example"}), policy, Options{})
			if assert.NoError(t, err) {
				assert.Equal(t, contracts.DecisionAllow, res.Response.Result)
			}
		}()
	}
	wg.Wait()
}

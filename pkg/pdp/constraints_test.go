package pdp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openleash/openleash/pkg/contracts"
)

func TestEvaluateConstraints_AmountBoundary(t *testing.T) {
	c := &contracts.Constraints{AmountMax: ptr(10000.0)}

	assert.True(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"amount_minor": 10000})))
	assert.True(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"amount_minor": 5000})))
	assert.False(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"amount_minor": 10001})))
	assert.False(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"amount_minor": "10"})), "non-numeric amount")
	assert.False(t, EvaluateConstraints(c, newAction("purchase", map[string]any{})), "missing amount")

	lower := &contracts.Constraints{AmountMin: ptr(100.0)}
	assert.False(t, EvaluateConstraints(lower, newAction("purchase", map[string]any{"amount_minor": 99})))
	assert.True(t, EvaluateConstraints(lower, newAction("purchase", map[string]any{"amount_minor": 100})))
}

func TestEvaluateConstraints_Currency(t *testing.T) {
	c := &contracts.Constraints{Currency: []string{"EUR", "GBP"}}
	assert.True(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"currency": "EUR"})))
	assert.False(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"currency": "USD"})))
	assert.False(t, EvaluateConstraints(c, newAction("purchase", map[string]any{"currency": 978})))

	empty := &contracts.Constraints{Currency: []string{}}
	assert.False(t, EvaluateConstraints(empty, newAction("purchase", map[string]any{"currency": "EUR"})))
}

func TestEvaluateConstraints_DomainFallback(t *testing.T) {
	withRP := func(payload map[string]any, domain string) *contracts.ActionRequest {
		a := newAction("purchase", payload)
		a.RelyingParty = &contracts.RelyingParty{Domain: domain}
		return a
	}

	merchant := &contracts.Constraints{MerchantDomain: []string{"shop.example.com"}}
	assert.True(t, EvaluateConstraints(merchant, withRP(map[string]any{}, "shop.example.com")), "falls back to relying party")
	assert.False(t, EvaluateConstraints(merchant, withRP(map[string]any{"merchant_domain": "evil.test"}, "shop.example.com")), "payload wins")
	assert.False(t, EvaluateConstraints(merchant, newAction("purchase", map[string]any{})), "no domain at all")

	allowed := &contracts.Constraints{AllowedDomains: []string{"gov.example"}}
	assert.True(t, EvaluateConstraints(allowed, newAction("submit", map[string]any{"domain": "gov.example"})))
	assert.False(t, EvaluateConstraints(allowed, withRP(map[string]any{}, "other.example")))

	blocked := &contracts.Constraints{BlockedDomains: []string{"evil.test"}}
	assert.True(t, EvaluateConstraints(blocked, newAction("purchase", map[string]any{})), "absent domain passes")
	assert.False(t, EvaluateConstraints(blocked, withRP(map[string]any{}, "evil.test")))
	assert.False(t, EvaluateConstraints(blocked, newAction("purchase", map[string]any{"domain": "evil.test"})))
	assert.True(t, EvaluateConstraints(blocked, newAction("purchase", map[string]any{"domain": "fine.test"})))
}

func TestEvaluateConstraints_EmptyIsVacuous(t *testing.T) {
	assert.True(t, EvaluateConstraints(&contracts.Constraints{}, newAction("purchase", map[string]any{})))
	assert.True(t, EvaluateConstraints(nil, newAction("purchase", map[string]any{})))
}

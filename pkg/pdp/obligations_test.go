package pdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/contracts"
)

func TestResolveObligations_Precedence(t *testing.T) {
	specs := []contracts.ObligationSpec{
		{Type: contracts.ObligationDeposit},
		{Type: contracts.ObligationStepUpAuth},
		{Type: contracts.ObligationHumanApproval, Params: map[string]any{"approver": "owner"}},
	}
	obs, result := ResolveObligations(specs, nil, map[string]any{}, seqIDs())
	assert.Equal(t, contracts.DecisionRequireApproval, result)
	require.Len(t, obs, 3)
	assert.Equal(t, "id-1", obs[0].ObligationID)
	assert.Equal(t, contracts.ObligationPending, obs[2].Status)
	assert.Equal(t, map[string]any{"approver": "owner"}, obs[2].Details)
	assert.Equal(t, map[string]any{}, obs[0].Details)

	_, result = ResolveObligations(specs[:2], nil, nil, seqIDs())
	assert.Equal(t, contracts.DecisionRequireStepUp, result)

	_, result = ResolveObligations(specs[:1], nil, nil, seqIDs())
	assert.Equal(t, contracts.DecisionRequireDeposit, result)
}

func TestResolveObligations_AttestationIsNonBlocking(t *testing.T) {
	obs, result := ResolveObligations(
		[]contracts.ObligationSpec{{Type: contracts.ObligationCounterpartyAttestation}},
		nil, nil, seqIDs())
	assert.Equal(t, contracts.DecisionAllow, result)
	assert.Len(t, obs, 1)
}

func TestResolveObligations_AssuranceStepUp(t *testing.T) {
	req := &contracts.Requirements{MinAssuranceLevel: contracts.AssuranceSubstantial}

	obs, result := ResolveObligations(nil, req, map[string]any{}, seqIDs())
	assert.Equal(t, contracts.DecisionRequireStepUp, result, "missing level defaults to LOW")
	require.Len(t, obs, 1)
	assert.Equal(t, contracts.ObligationStepUpAuth, obs[0].Type)
	assert.Equal(t, map[string]any{"min_assurance_level": "SUBSTANTIAL"}, obs[0].Details)

	obs, result = ResolveObligations(nil, req, map[string]any{"assurance_level": "SUBSTANTIAL"}, seqIDs())
	assert.Equal(t, contracts.DecisionAllow, result)
	assert.Empty(t, obs)

	obs, result = ResolveObligations(nil, req, map[string]any{"assurance_level": "HIGH"}, seqIDs())
	assert.Equal(t, contracts.DecisionAllow, result)
	assert.Empty(t, obs)
}

func TestResolveObligations_DoesNotAliasParams(t *testing.T) {
	params := map[string]any{"amount": 100}
	obs, _ := ResolveObligations([]contracts.ObligationSpec{{Type: contracts.ObligationDeposit, Params: params}}, nil, nil, seqIDs())
	obs[0].Details["amount"] = 1
	assert.Equal(t, 100, params["amount"])
}

package pdp

import (
	"maps"

	"github.com/openleash/openleash/pkg/contracts"
)

// blockingPrecedence maps obligation types to the decision they force, in
// the order they are checked. COUNTERPARTY_ATTESTATION is informational and
// absent on purpose.
var blockingPrecedence = []struct {
	typ    contracts.ObligationType
	result contracts.DecisionResult
}{
	{contracts.ObligationHumanApproval, contracts.DecisionRequireApproval},
	{contracts.ObligationStepUpAuth, contracts.DecisionRequireStepUp},
	{contracts.ObligationDeposit, contracts.DecisionRequireDeposit},
}

// ResolveObligations instantiates a matched allow rule's obligations and
// derives the decision.
//
// Declared obligations are copied in order with fresh ids and PENDING status.
// When req sets a minimum assurance level above payload.assurance_level
// (default LOW), a STEP_UP_AUTH obligation carrying the required level is
// appended. Unknown levels rank as LOW.
func ResolveObligations(specs []contracts.ObligationSpec, req *contracts.Requirements, payload map[string]any, newID func() string) ([]contracts.Obligation, contracts.DecisionResult) {
	obligations := make([]contracts.Obligation, 0, len(specs)+1)

	for _, spec := range specs {
		details := maps.Clone(spec.Params)
		if details == nil {
			details = map[string]any{}
		}
		obligations = append(obligations, contracts.Obligation{
			ObligationID: newID(),
			Type:         spec.Type,
			Status:       contracts.ObligationPending,
			Details:      details,
		})
	}

	if req != nil && req.MinAssuranceLevel != "" {
		required, _ := req.MinAssuranceLevel.Rank()
		actualLevel := contracts.AssuranceLow
		if s, ok := payload["assurance_level"].(string); ok && s != "" {
			actualLevel = contracts.AssuranceLevel(s)
		}
		actual, _ := actualLevel.Rank()
		if actual < required {
			obligations = append(obligations, contracts.Obligation{
				ObligationID: newID(),
				Type:         contracts.ObligationStepUpAuth,
				Status:       contracts.ObligationPending,
				Details:      map[string]any{"min_assurance_level": string(req.MinAssuranceLevel)},
			})
		}
	}

	for _, p := range blockingPrecedence {
		for _, ob := range obligations {
			if ob.Type == p.typ {
				return obligations, p.result
			}
		}
	}
	return obligations, contracts.DecisionAllow
}

package contracts

// ProofIssuer is the fixed issuer tag of every proof token.
const ProofIssuer = "openleash"

// ProofClaims is the signed claim set of a proof token. Timestamps are
// RFC 3339 strings with millisecond precision.
type ProofClaims struct {
	Iss                 string         `json:"iss"`
	KID                 string         `json:"kid"`
	Iat                 string         `json:"iat"`
	Exp                 string         `json:"exp"`
	DecisionID          string         `json:"decision_id"`
	OwnerPrincipalID    string         `json:"owner_principal_id"`
	AgentID             string         `json:"agent_id"`
	ActionType          string         `json:"action_type"`
	ActionHash          string         `json:"action_hash"`
	MatchedRuleID       *string        `json:"matched_rule_id"`
	TrustProfile        TrustProfile   `json:"trust_profile,omitempty"`
	ConstraintsSnapshot map[string]any `json:"constraints_snapshot,omitempty"`
}

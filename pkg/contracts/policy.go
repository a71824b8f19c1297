package contracts

import (
	"encoding/json"
	"fmt"
)

// Effect of a matched rule.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// AssuranceLevel is an ordinal authentication strength.
type AssuranceLevel string

const (
	AssuranceLow         AssuranceLevel = "LOW"
	AssuranceSubstantial AssuranceLevel = "SUBSTANTIAL"
	AssuranceHigh        AssuranceLevel = "HIGH"
)

// Rank returns the ordinal of the level, LOW=0 < SUBSTANTIAL=1 < HIGH=2, and
// false for unknown levels.
func (l AssuranceLevel) Rank() (int, bool) {
	switch l {
	case AssuranceLow:
		return 0, true
	case AssuranceSubstantial:
		return 1, true
	case AssuranceHigh:
		return 2, true
	}
	return 0, false
}

// Policy is an owner's complete rule document.
type Policy struct {
	Version int          `json:"version"`
	Default Effect       `json:"default"`
	Rules   []PolicyRule `json:"rules"`
}

// Constraints are fixed-shape checks over the payload. Nil fields are not
// applicable; a non-nil empty list rejects everything.
type Constraints struct {
	AmountMax      *float64 `json:"amount_max,omitempty"`
	AmountMin      *float64 `json:"amount_min,omitempty"`
	Currency       []string `json:"currency,omitempty"`
	MerchantDomain []string `json:"merchant_domain,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	BlockedDomains []string `json:"blocked_domains,omitempty"`
}

type Requirements struct {
	MinAssuranceLevel AssuranceLevel `json:"min_assurance_level,omitempty"`
	CredentialScheme  string         `json:"credential_scheme,omitempty"`
}

type ObligationSpec struct {
	Type   ObligationType `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

type ProofSpec struct {
	Required   bool `json:"required,omitempty"`
	TTLSeconds *int `json:"ttl_seconds,omitempty"`
}

// PolicyRule is one entry of a policy. Rules are evaluated in document order.
type PolicyRule struct {
	ID           string           `json:"id"`
	Effect       Effect           `json:"effect"`
	Action       string           `json:"action"`
	Description  string           `json:"description,omitempty"`
	When         Expr             `json:"when,omitempty"`
	Constraints  *Constraints     `json:"constraints,omitempty"`
	Requirements *Requirements    `json:"requirements,omitempty"`
	Obligations  []ObligationSpec `json:"obligations,omitempty"`
	Proof        *ProofSpec       `json:"proof,omitempty"`
}

// UnmarshalJSON decodes the rule, routing "when" through ParseExpr.
func (r *PolicyRule) UnmarshalJSON(data []byte) error {
	type alias PolicyRule
	aux := struct {
		*alias
		When json.RawMessage `json:"when,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.When = nil
	if len(aux.When) > 0 && string(aux.When) != "null" {
		expr, err := ParseExpr(aux.When)
		if err != nil {
			return fmt.Errorf("rule %q: when: %w", r.ID, err)
		}
		r.When = expr
	}
	return nil
}

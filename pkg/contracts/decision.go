package contracts

// DecisionResult is the outcome of an authorization.
type DecisionResult string

const (
	DecisionAllow           DecisionResult = "ALLOW"
	DecisionDeny            DecisionResult = "DENY"
	DecisionRequireApproval DecisionResult = "REQUIRE_APPROVAL"
	DecisionRequireStepUp   DecisionResult = "REQUIRE_STEP_UP"
	DecisionRequireDeposit  DecisionResult = "REQUIRE_DEPOSIT"
)

// ObligationType names a post-decision condition.
type ObligationType string

const (
	ObligationHumanApproval           ObligationType = "HUMAN_APPROVAL"
	ObligationStepUpAuth              ObligationType = "STEP_UP_AUTH"
	ObligationDeposit                 ObligationType = "DEPOSIT"
	ObligationCounterpartyAttestation ObligationType = "COUNTERPARTY_ATTESTATION"
)

// ObligationTypes lists every known obligation type.
var ObligationTypes = []ObligationType{
	ObligationHumanApproval,
	ObligationStepUpAuth,
	ObligationDeposit,
	ObligationCounterpartyAttestation,
}

type ObligationStatus string

const (
	ObligationPending   ObligationStatus = "PENDING"
	ObligationFulfilled ObligationStatus = "FULFILLED"
	ObligationWaived    ObligationStatus = "WAIVED"
)

// Obligation is an instantiated obligation attached to a decision.
type Obligation struct {
	ObligationID string           `json:"obligation_id"`
	Type         ObligationType   `json:"type"`
	Status       ObligationStatus `json:"status"`
	Details      map[string]any   `json:"details_json"`
}

// AuthorizeResponse is returned to the agent for every decision.
type AuthorizeResponse struct {
	DecisionID     string         `json:"decision_id"`
	ActionID       string         `json:"action_id"`
	ActionHash     string         `json:"action_hash"`
	Result         DecisionResult `json:"result"`
	MatchedRuleID  *string        `json:"matched_rule_id"`
	Reason         string         `json:"reason"`
	ProofToken     *string        `json:"proof_token"`
	ProofExpiresAt *string        `json:"proof_expires_at"`
	Obligations    []Obligation   `json:"obligations"`
}

// RuleTrace records the gates of a single rule. Nil gates were not evaluated.
type RuleTrace struct {
	RuleID           string `json:"rule_id"`
	PatternMatch     bool   `json:"pattern_match"`
	WhenMatch        *bool  `json:"when_match"`
	ConstraintsMatch *bool  `json:"constraints_match"`
	FinalMatch       bool   `json:"final_match"`
}

type EvaluationTrace struct {
	Rules []RuleTrace `json:"rules"`
}

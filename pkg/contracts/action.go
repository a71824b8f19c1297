package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrustProfile is the risk tier a relying party declares.
type TrustProfile string

const (
	TrustProfileLow       TrustProfile = "LOW"
	TrustProfileMedium    TrustProfile = "MEDIUM"
	TrustProfileHigh      TrustProfile = "HIGH"
	TrustProfileRegulated TrustProfile = "REGULATED"
)

// Valid reports whether p is one of the known profiles.
func (p TrustProfile) Valid() bool {
	switch p {
	case TrustProfileLow, TrustProfileMedium, TrustProfileHigh, TrustProfileRegulated:
		return true
	}
	return false
}

// ForcesProof reports whether the profile mandates a proof token on its own.
func (p TrustProfile) ForcesProof() bool {
	return p == TrustProfileHigh || p == TrustProfileRegulated
}

// Principal identifies the acting agent.
type Principal struct {
	AgentID string `json:"agent_id"`
}

// Subject identifies the owner on whose behalf the agent acts.
type Subject struct {
	PrincipalID string `json:"principal_id"`
}

// RelyingParty is the counterparty that will receive the action.
type RelyingParty struct {
	RPID         string       `json:"rp_id,omitempty"`
	Domain       string       `json:"domain,omitempty"`
	TrustProfile TrustProfile `json:"trust_profile,omitempty"`
}

// ActionRequest is what an agent submits for authorization. It is treated as
// immutable once received; its canonical hash is the action fingerprint.
type ActionRequest struct {
	ActionID     string         `json:"action_id"`
	ActionType   string         `json:"action_type"`
	RequestedAt  string         `json:"requested_at"`
	Principal    Principal      `json:"principal"`
	Subject      Subject        `json:"subject"`
	RelyingParty *RelyingParty  `json:"relying_party,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// TrustProfile returns the relying party's profile, or "" when none was declared.
func (a *ActionRequest) TrustProfile() TrustProfile {
	if a.RelyingParty == nil {
		return ""
	}
	return a.RelyingParty.TrustProfile
}

// Validate checks the structural requirements of an action request and
// returns every violation found.
func (a *ActionRequest) Validate() error {
	var errs []FieldError
	add := func(field, msg string) { errs = append(errs, FieldError{Field: field, Message: msg}) }

	if _, err := uuid.Parse(a.ActionID); err != nil {
		add("action_id", "must be a UUID")
	}
	if strings.TrimSpace(a.ActionType) == "" {
		add("action_type", "is required")
	}
	if a.RequestedAt == "" {
		add("requested_at", "is required")
	} else if _, err := time.Parse(time.RFC3339Nano, a.RequestedAt); err != nil {
		add("requested_at", "must be an RFC 3339 timestamp")
	}
	if a.Principal.AgentID == "" {
		add("principal.agent_id", "is required")
	}
	if _, err := uuid.Parse(a.Subject.PrincipalID); err != nil {
		add("subject.principal_id", "must be a UUID")
	}
	if rp := a.RelyingParty; rp != nil {
		if rp.RPID != "" {
			if _, err := uuid.Parse(rp.RPID); err != nil {
				add("relying_party.rp_id", "must be a UUID")
			}
		}
		if rp.TrustProfile != "" && !rp.TrustProfile.Valid() {
			add("relying_party.trust_profile", fmt.Sprintf("unknown trust profile %q", rp.TrustProfile))
		}
	}
	if a.Payload == nil {
		add("payload", "is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Subject: "action", Errors: errs}
	}
	return nil
}

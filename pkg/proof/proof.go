// Package proof issues and verifies proof tokens: signed, expiring claim
// sets attesting that a decision was made for a specific action hash.
//
// Tokens are verifiable offline with the server's published public keys.
// Verification tries every candidate key so tokens signed by a rotated-out
// key keep verifying until that key is removed.
package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

// Verification failure reasons.
const (
	ReasonExpired          = "token expired"
	ReasonNoMatchingKey    = "no matching key or invalid signature"
	ReasonInvalidExp       = "token has an invalid exp claim"
	ReasonActionHash       = "action_hash mismatch"
	ReasonAgentID          = "agent_id mismatch"
	ReasonUnsupportedToken = "unsupported token format"
)

// IssueParams describes the decision a proof attests.
type IssueParams struct {
	Key                 contracts.ServerKey
	DecisionID          string
	OwnerPrincipalID    string
	AgentID             string
	ActionType          string
	ActionHash          string
	MatchedRuleID       *string
	TTLSeconds          int
	TrustProfile        contracts.TrustProfile
	ConstraintsSnapshot map[string]any
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ExpiresAt string
	Claims    contracts.ProofClaims
}

// Issuer signs proof tokens.
type Issuer struct {
	format Format
	now    func() time.Time
}

// NewIssuer creates an issuer for format. A nil clock means time.Now.
func NewIssuer(format Format, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{format: format, now: now}
}

// Format returns the token format in use.
func (i *Issuer) Format() string { return i.format.Name() }

// Issue builds and signs the claim set with iat=now and exp=now+TTL. now is
// truncated to the format's precision so the returned claims are exactly
// the signed ones.
func (i *Issuer) Issue(_ context.Context, p IssueParams) (*Issued, error) {
	if p.TTLSeconds <= 0 {
		return nil, fmt.Errorf("proof: ttl must be positive, got %d", p.TTLSeconds)
	}
	if p.Key.PrivateKey == nil {
		return nil, errors.New("proof: signing key has no private half")
	}

	now := i.now().UTC().Truncate(i.format.Precision())
	exp := now.Add(time.Duration(p.TTLSeconds) * time.Second)
	claims := contracts.ProofClaims{
		Iss:                 contracts.ProofIssuer,
		KID:                 p.Key.KID,
		Iat:                 crypto.FormatTimestamp(now),
		Exp:                 crypto.FormatTimestamp(exp),
		DecisionID:          p.DecisionID,
		OwnerPrincipalID:    p.OwnerPrincipalID,
		AgentID:             p.AgentID,
		ActionType:          p.ActionType,
		ActionHash:          p.ActionHash,
		MatchedRuleID:       p.MatchedRuleID,
		TrustProfile:        p.TrustProfile,
		ConstraintsSnapshot: p.ConstraintsSnapshot,
	}

	token, err := i.format.Sign(claims, p.Key)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: token, ExpiresAt: claims.Exp, Claims: claims}, nil
}

// Result is the outcome of a verification.
type Result struct {
	Valid  bool                   `json:"valid"`
	Claims *contracts.ProofClaims `json:"claims,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

// Verifier checks proof tokens against candidate keys.
type Verifier struct {
	formats []Format
	now     func() time.Time
}

// NewVerifier accepts tokens in every known format. A nil clock means
// time.Now.
func NewVerifier(now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{formats: []Format{PASETOFormat{}, JWTFormat{}}, now: now}
}

// Verify tries each key in order. The first key that validates the
// signature decides: the token is then valid unless expired. An expired
// token is reported invalid with its claims attached.
func (v *Verifier) Verify(_ context.Context, token string, keys []contracts.ServerKey) Result {
	format := v.detect(token)
	if format == nil {
		return Result{Reason: ReasonUnsupportedToken}
	}

	for _, key := range keys {
		if key.PublicKey == nil {
			continue
		}
		claims, err := format.Open(token, key)
		if err != nil {
			continue
		}
		exp, err := time.Parse(time.RFC3339Nano, claims.Exp)
		if err != nil {
			return Result{Claims: claims, Reason: ReasonInvalidExp}
		}
		if !v.now().Before(exp) {
			return Result{Claims: claims, Reason: ReasonExpired}
		}
		return Result{Valid: true, Claims: claims}
	}
	return Result{Reason: ReasonNoMatchingKey}
}

// Expectations optionally pin a token to an action and an agent.
type Expectations struct {
	ActionHash string
	AgentID    string
}

// VerifyExpected runs Verify and then checks the expectations that are set.
func (v *Verifier) VerifyExpected(ctx context.Context, token string, keys []contracts.ServerKey, want Expectations) Result {
	res := v.Verify(ctx, token, keys)
	if !res.Valid {
		return res
	}
	if want.ActionHash != "" && res.Claims.ActionHash != want.ActionHash {
		return Result{Claims: res.Claims, Reason: ReasonActionHash}
	}
	if want.AgentID != "" && res.Claims.AgentID != want.AgentID {
		return Result{Claims: res.Claims, Reason: ReasonAgentID}
	}
	return res
}

func (v *Verifier) detect(token string) Format {
	for _, f := range v.formats {
		if f.Accepts(token) {
			return f
		}
	}
	return nil
}

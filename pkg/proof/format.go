package proof

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

// Token format names as they appear in configuration.
const (
	FormatPASETO = "paseto_v4_public"
	FormatJWT    = "jwt_eddsa"
)

var errBadSignature = errors.New("proof: signature verification failed")

// Format encodes and signs a claim set. Open verifies the signature only;
// expiry is checked by the Verifier so expired claims can still be shown.
type Format interface {
	Name() string
	// Precision is the finest time unit the encoded iat and exp can carry.
	Precision() time.Duration
	Accepts(token string) bool
	Sign(claims contracts.ProofClaims, key contracts.ServerKey) (string, error)
	Open(token string, key contracts.ServerKey) (*contracts.ProofClaims, error)
}

// NewFormat returns the format registered under name.
func NewFormat(name string) (Format, error) {
	switch name {
	case FormatPASETO, "":
		return PASETOFormat{}, nil
	case FormatJWT:
		return JWTFormat{}, nil
	}
	return nil, fmt.Errorf("proof: unknown token format %q", name)
}

// PASETOFormat issues PASETO v4.public tokens. The claim set is the token
// payload verbatim.
type PASETOFormat struct{}

func (PASETOFormat) Name() string { return FormatPASETO }

func (PASETOFormat) Precision() time.Duration { return time.Millisecond }

func (PASETOFormat) Accepts(token string) bool { return strings.HasPrefix(token, "v4.public.") }

func (PASETOFormat) Sign(claims contracts.ProofClaims, key contracts.ServerKey) (string, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromEd25519(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("proof: paseto key: %w", err)
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("proof: marshal claims: %w", err)
	}
	token, err := paseto.NewTokenFromClaimsJSON(body, nil)
	if err != nil {
		return "", fmt.Errorf("proof: build token: %w", err)
	}
	return token.V4Sign(secret, nil), nil
}

func (PASETOFormat) Open(token string, key contracts.ServerKey) (*contracts.ProofClaims, error) {
	pub, err := paseto.NewV4AsymmetricPublicKeyFromEd25519(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("proof: paseto key: %w", err)
	}
	parser := paseto.NewParserWithoutExpiryCheck()
	parsed, err := parser.ParseV4Public(pub, token, nil)
	if err != nil {
		return nil, errBadSignature
	}
	var claims contracts.ProofClaims
	if err := json.Unmarshal(parsed.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("proof: decode claims: %w", err)
	}
	return &claims, nil
}

// JWTFormat issues compact EdDSA JWTs with the kid in the header. Registered
// time claims are NumericDate; they are mapped back to RFC 3339 strings on
// Open.
type JWTFormat struct{}

type jwtClaims struct {
	jwt.RegisteredClaims
	KID                 string                 `json:"kid"`
	DecisionID          string                 `json:"decision_id"`
	OwnerPrincipalID    string                 `json:"owner_principal_id"`
	AgentID             string                 `json:"agent_id"`
	ActionType          string                 `json:"action_type"`
	ActionHash          string                 `json:"action_hash"`
	MatchedRuleID       *string                `json:"matched_rule_id"`
	TrustProfile        contracts.TrustProfile `json:"trust_profile,omitempty"`
	ConstraintsSnapshot map[string]any         `json:"constraints_snapshot,omitempty"`
}

func (JWTFormat) Name() string { return FormatJWT }

func (JWTFormat) Precision() time.Duration { return time.Second }

func (JWTFormat) Accepts(token string) bool { return strings.Count(token, ".") == 2 && strings.HasPrefix(token, "ey") }

func (JWTFormat) Sign(c contracts.ProofClaims, key contracts.ServerKey) (string, error) {
	iat, err := time.Parse(time.RFC3339Nano, c.Iat)
	if err != nil {
		return "", fmt.Errorf("proof: iat: %w", err)
	}
	exp, err := time.Parse(time.RFC3339Nano, c.Exp)
	if err != nil {
		return "", fmt.Errorf("proof: exp: %w", err)
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Iss,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        c.DecisionID,
		},
		KID:                 c.KID,
		DecisionID:          c.DecisionID,
		OwnerPrincipalID:    c.OwnerPrincipalID,
		AgentID:             c.AgentID,
		ActionType:          c.ActionType,
		ActionHash:          c.ActionHash,
		MatchedRuleID:       c.MatchedRuleID,
		TrustProfile:        c.TrustProfile,
		ConstraintsSnapshot: c.ConstraintsSnapshot,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.KID
	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("proof: sign jwt: %w", err)
	}
	return signed, nil
}

func (JWTFormat) Open(token string, key contracts.ServerKey) (*contracts.ProofClaims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, errBadSignature
	}

	out := &contracts.ProofClaims{
		Iss:                 claims.Issuer,
		KID:                 claims.KID,
		DecisionID:          claims.DecisionID,
		OwnerPrincipalID:    claims.OwnerPrincipalID,
		AgentID:             claims.AgentID,
		ActionType:          claims.ActionType,
		ActionHash:          claims.ActionHash,
		MatchedRuleID:       claims.MatchedRuleID,
		TrustProfile:        claims.TrustProfile,
		ConstraintsSnapshot: claims.ConstraintsSnapshot,
	}
	if claims.IssuedAt != nil {
		out.Iat = crypto.FormatTimestamp(claims.IssuedAt.Time)
	}
	if claims.ExpiresAt != nil {
		out.Exp = crypto.FormatTimestamp(claims.ExpiresAt.Time)
	}
	return out, nil
}

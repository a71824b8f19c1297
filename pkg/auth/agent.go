package auth

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/openleash/openleash/pkg/canonicalize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/nonce"
)

// Code identifies an authentication failure.
type Code string

const (
	CodeMissingHeaders        Code = "MISSING_HEADERS"
	CodeTimestampSkew         Code = "TIMESTAMP_SKEW"
	CodeNonceReplay           Code = "NONCE_REPLAY"
	CodeNonceStoreUnavailable Code = "NONCE_STORE_UNAVAILABLE"
	CodeBodyHashMismatch      Code = "BODY_HASH_MISMATCH"
	CodeAgentNotFound         Code = "AGENT_NOT_FOUND"
	CodeAgentInactive         Code = "AGENT_INACTIVE"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeAdminForbidden        Code = "ADMIN_FORBIDDEN"
	CodeAdminUnauthorized     Code = "ADMIN_UNAUTHORIZED"
)

// Error is an authentication rejection.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %s: %s", e.Code, e.Message) }

func reject(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AgentLookup finds a registered agent by its external id. A nil agent with
// a nil error means not found.
type AgentLookup interface {
	LookupAgentByExternalID(ctx context.Context, agentID string) (*contracts.Agent, error)
}

// RequestMetadata is what the authenticator needs from an HTTP request.
type RequestMetadata struct {
	Method     string
	Path       string
	AgentID    string
	Timestamp  string
	Nonce      string
	BodySHA256 string
	Signature  string
}

// AgentIdentity is an authenticated agent.
type AgentIdentity struct {
	AgentID          string
	AgentPrincipalID string
	OwnerPrincipalID string
	Agent            *contracts.Agent
}

// AgentAuthenticator verifies signed agent requests.
type AgentAuthenticator struct {
	agents    AgentLookup
	nonces    nonce.Store
	clockSkew time.Duration
	now       func() time.Time
	onReject  func(ctx context.Context, code Code)
}

// DefaultClockSkew is the accepted distance between request and server time.
const DefaultClockSkew = 120 * time.Second

// NewAgentAuthenticator creates an authenticator. A zero skew means
// DefaultClockSkew.
func NewAgentAuthenticator(agents AgentLookup, nonces nonce.Store, skew time.Duration) *AgentAuthenticator {
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	return &AgentAuthenticator{agents: agents, nonces: nonces, clockSkew: skew, now: time.Now}
}

// WithClock overrides the time source.
func (a *AgentAuthenticator) WithClock(now func() time.Time) *AgentAuthenticator {
	a.now = now
	return a
}

// OnReject registers fn to be called with the code of every rejection.
func (a *AgentAuthenticator) OnReject(fn func(ctx context.Context, code Code)) *AgentAuthenticator {
	a.onReject = fn
	return a
}

func (a *AgentAuthenticator) rejected(ctx context.Context, e *Error) {
	if a.onReject != nil {
		a.onReject(ctx, e.Code)
	}
}

// Authenticate runs the checks in order and stops at the first failure:
// headers, timestamp window, nonce, body hash, agent lookup, signature. The
// nonce is recorded before the signature is checked, so a request with a
// bad signature still burns its nonce.
func (a *AgentAuthenticator) Authenticate(ctx context.Context, md RequestMetadata, body []byte) (*AgentIdentity, error) {
	if md.AgentID == "" || md.Timestamp == "" || md.Nonce == "" || md.BodySHA256 == "" || md.Signature == "" {
		return nil, reject(CodeMissingHeaders, "missing required signing headers")
	}

	ts, err := crypto.ParseTimestamp(md.Timestamp)
	if err != nil {
		return nil, reject(CodeTimestampSkew, "request timestamp is not a valid RFC 3339 time")
	}
	if skew := a.now().Sub(ts); math.Abs(float64(skew)) > float64(a.clockSkew) {
		return nil, reject(CodeTimestampSkew, "request timestamp outside allowed clock skew window")
	}

	fresh, err := a.nonces.Check(ctx, md.AgentID, md.Nonce)
	if err != nil {
		return nil, reject(CodeNonceStoreUnavailable, "nonce store unavailable")
	}
	if !fresh {
		return nil, reject(CodeNonceReplay, "nonce has already been used")
	}

	if canonicalize.HashBytes(body) != md.BodySHA256 {
		return nil, reject(CodeBodyHashMismatch, "body hash does not match")
	}

	agent, err := a.agents.LookupAgentByExternalID(ctx, md.AgentID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup agent: %w", err)
	}
	if agent == nil {
		return nil, reject(CodeAgentNotFound, "agent %q not found", md.AgentID)
	}
	if agent.Status != contracts.AgentActive {
		return nil, reject(CodeAgentInactive, "agent %q is not active", md.AgentID)
	}

	pub, err := crypto.DecodePublicKey(agent.PublicKeyB64)
	if err != nil {
		return nil, reject(CodeInvalidSignature, "agent public key is unusable")
	}
	if !crypto.VerifyRequestSignature(md.Method, md.Path, md.Timestamp, md.Nonce, md.BodySHA256, md.Signature, pub) {
		return nil, reject(CodeInvalidSignature, "request signature verification failed")
	}

	return &AgentIdentity{
		AgentID:          agent.AgentID,
		AgentPrincipalID: agent.AgentPrincipalID,
		OwnerPrincipalID: agent.OwnerPrincipalID,
		Agent:            agent,
	}, nil
}

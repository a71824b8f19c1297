// Package registration implements challenge-response agent registration.
//
// An agent asks for a challenge, signs the 32 random challenge bytes with its
// Ed25519 private key and submits the signature. A valid signature proves
// possession of the key; the validated tuple is then handed to an
// AgentRegistrar for persistence. Challenges live five minutes and are
// single-use.
package registration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

const (
	ChallengeTTL  = 5 * time.Minute
	challengeSize = 32
)

// NewAgent is the validated registration tuple.
type NewAgent struct {
	AgentID          string
	OwnerPrincipalID string
	PublicKeyB64     string
	Attributes       map[string]any
}

// AgentRegistrar persists a newly registered agent.
type AgentRegistrar interface {
	RegisterAgent(ctx context.Context, a NewAgent) (*contracts.Agent, error)
}

// IssueRequest asks for a challenge.
type IssueRequest struct {
	AgentID          string
	PublicKeyB64     string
	OwnerPrincipalID string
	Attributes       map[string]any
}

// RegisterRequest answers a challenge.
type RegisterRequest struct {
	ChallengeID      string
	AgentID          string
	PublicKeyB64     string
	SignatureB64     string
	OwnerPrincipalID string
	Attributes       map[string]any
}

// Protocol runs the registration exchange.
type Protocol struct {
	store     *ChallengeStore
	registrar AgentRegistrar
	now       func() time.Time
	rand      io.Reader
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// WithRandom overrides the challenge byte source.
func WithRandom(r io.Reader) Option {
	return func(p *Protocol) { p.rand = r }
}

// NewProtocol creates a Protocol over store and registrar.
func NewProtocol(store *ChallengeStore, registrar AgentRegistrar, opts ...Option) *Protocol {
	p := &Protocol{store: store, registrar: registrar, now: time.Now, rand: rand.Reader}
	for _, o := range opts {
		o(p)
	}
	return p
}

// IssueChallenge creates and stores a fresh challenge bound to the agent id,
// public key and optional owner.
func (p *Protocol) IssueChallenge(_ context.Context, req IssueRequest) (*Challenge, error) {
	if req.AgentID == "" || req.PublicKeyB64 == "" {
		return nil, newError(CodeInvalidRequest, "agent_id and agent_pubkey_b64 are required")
	}
	if _, err := crypto.DecodePublicKey(req.PublicKeyB64); err != nil {
		return nil, newError(CodeInvalidPublicKey, "agent public key is not a valid ed25519 key")
	}

	b := make([]byte, challengeSize)
	if _, err := io.ReadFull(p.rand, b); err != nil {
		return nil, fmt.Errorf("registration: read random: %w", err)
	}
	c := Challenge{
		ChallengeID:       uuid.NewString(),
		Bytes:             b,
		AgentID:           req.AgentID,
		AgentPublicKeyB64: req.PublicKeyB64,
		OwnerPrincipalID:  req.OwnerPrincipalID,
		Attributes:        req.Attributes,
		ExpiresAt:         p.now().Add(ChallengeTTL).UTC(),
	}
	p.store.put(c)
	return &c, nil
}

// Register verifies a signed challenge and registers the agent. The
// challenge is consumed by any attempt that finds it, whatever the outcome.
func (p *Protocol) Register(ctx context.Context, req RegisterRequest) (*contracts.Agent, error) {
	if req.ChallengeID == "" || req.AgentID == "" || req.PublicKeyB64 == "" || req.SignatureB64 == "" || req.OwnerPrincipalID == "" {
		return nil, newError(CodeInvalidRequest, "missing required fields")
	}

	c, cerr := p.store.take(req.ChallengeID)
	if cerr != nil {
		return nil, cerr
	}

	if req.AgentID != c.AgentID || req.PublicKeyB64 != c.AgentPublicKeyB64 {
		return nil, newError(CodeAgentMismatch, "agent_id or public key differs from the challenge")
	}
	if c.OwnerPrincipalID != "" && req.OwnerPrincipalID != c.OwnerPrincipalID {
		return nil, newError(CodeAgentMismatch, "owner differs from the challenge")
	}

	pub, err := crypto.DecodePublicKey(req.PublicKeyB64)
	if err != nil {
		return nil, newError(CodeInvalidPublicKey, "agent public key is not a valid ed25519 key")
	}
	sig, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, c.Bytes, sig) {
		return nil, newError(CodeInvalidSignature, "challenge signature verification failed")
	}

	attrs := req.Attributes
	if attrs == nil {
		attrs = c.Attributes
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	agent, err := p.registrar.RegisterAgent(ctx, NewAgent{
		AgentID:          req.AgentID,
		OwnerPrincipalID: req.OwnerPrincipalID,
		PublicKeyB64:     req.PublicKeyB64,
		Attributes:       attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("registration: register agent: %w", err)
	}
	return agent, nil
}

// ChallengeB64 is the wire form of the challenge bytes.
func (c *Challenge) ChallengeB64() string {
	return base64.StdEncoding.EncodeToString(c.Bytes)
}

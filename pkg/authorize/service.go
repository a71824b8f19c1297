// Package authorize runs the authorization flow for an authenticated agent:
// it finds the policy bound to the agent, evaluates the action, issues a
// proof token when one is required and writes the audit trail.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/auth"
	"github.com/openleash/openleash/pkg/canonicalize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/observability"
	"github.com/openleash/openleash/pkg/pdp"
	"github.com/openleash/openleash/pkg/policyloader"
	"github.com/openleash/openleash/pkg/proof"
)

// Code identifies a refusal that is not a policy decision.
type Code string

const (
	CodeAgentMismatch Code = "AGENT_MISMATCH"
	CodeNoPolicy      Code = "NO_POLICY"
	// CodePolicyCorrupt means a stored policy no longer parses.
	CodePolicyCorrupt Code = "POLICY_INVALID"
)

// Error is a refusal raised before or around evaluation.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("authorize: %s: %s", e.Code, e.Message) }

// Store is the state the service reads.
type Store interface {
	crypto.KeySource
	LookupBoundPolicy(ctx context.Context, ownerID, agentPrincipalID string) (*contracts.PolicyRecord, error)
}

// Options carries the token lifetime settings.
type Options struct {
	DefaultProofTTL int
	MaxProofTTL     int
}

// Service authorizes actions.
type Service struct {
	store     Store
	loader    *policyloader.Loader
	engine    *pdp.Engine
	issuer    *proof.Issuer
	verifier  *proof.Verifier
	recorder  audit.Recorder
	telemetry *observability.Provider
	logger    *slog.Logger
	opts      Options
}

// NewService creates a Service. A nil recorder disables auditing.
func NewService(store Store, issuer *proof.Issuer, verifier *proof.Verifier, recorder audit.Recorder, opts Options) *Service {
	if recorder == nil {
		recorder = audit.Nop
	}
	telemetry, _ := observability.New(context.Background(), &observability.Config{Enabled: false})
	return &Service{
		store:     store,
		loader:    policyloader.NewLoader(0),
		engine:    pdp.NewEngine(),
		issuer:    issuer,
		verifier:  verifier,
		recorder:  recorder,
		telemetry: telemetry,
		logger:    slog.Default().With("component", "authorize"),
		opts:      opts,
	}
}

// SetEngine replaces the decision engine, e.g. with deterministic ids.
func (s *Service) SetEngine(e *pdp.Engine) { s.engine = e }

// SetTelemetry enables decision metrics and spans.
func (s *Service) SetTelemetry(p *observability.Provider) {
	if p != nil {
		s.telemetry = p
	}
}

// SetLogger replaces the service logger.
func (s *Service) SetLogger(l *slog.Logger) { s.logger = l }

// Loader exposes the parsed-policy cache.
func (s *Service) Loader() *policyloader.Loader { return s.loader }

// Authorize evaluates action for the authenticated agent. Policy refusals
// come back as a DENY response; errors are reserved for invalid input
// (*contracts.ValidationError), *Error refusals and internal failures,
// including *pdp.InternalError.
func (s *Service) Authorize(ctx context.Context, agent *auth.AgentIdentity, action *contracts.ActionRequest) (resp *contracts.AuthorizeResponse, result *pdp.Result, err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, "authorize", observability.AttrActionType.String(action.ActionType))
	defer func() { finish(err) }()

	if err := action.Validate(); err != nil {
		return nil, nil, err
	}
	if action.Principal.AgentID != agent.AgentID {
		return nil, nil, &Error{
			Code:    CodeAgentMismatch,
			Status:  http.StatusBadRequest,
			Message: "principal.agent_id does not match the authenticated agent",
		}
	}

	observability.AddSpanEvent(ctx, "authenticated", observability.AgentAttributes(agent.AgentID, agent.OwnerPrincipalID)...)
	_ = s.recorder.Record(ctx, contracts.AuditAuthorizeCalled, map[string]any{
		"agent_id":    action.Principal.AgentID,
		"action_type": action.ActionType,
	}, audit.Refs{ActionID: action.ActionID, PrincipalID: agent.AgentPrincipalID})

	record, err := s.store.LookupBoundPolicy(ctx, agent.OwnerPrincipalID, agent.AgentPrincipalID)
	if err != nil {
		return nil, nil, fmt.Errorf("authorize: lookup policy: %w", err)
	}
	if record == nil {
		return nil, nil, &Error{
			Code:    CodeNoPolicy,
			Status:  http.StatusForbidden,
			Message: "No policy bound to this agent or owner",
		}
	}

	policy, err := s.loader.Get(record.PolicyYAML)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored policy failed to load", "policy_id", record.PolicyID, "error", err)
		return nil, nil, &Error{
			Code:    CodePolicyCorrupt,
			Status:  http.StatusInternalServerError,
			Message: "Bound policy could not be loaded",
		}
	}

	result, err = s.engine.Evaluate(action, policy, pdp.Options{DefaultProofTTL: s.opts.DefaultProofTTL})
	if err != nil {
		return nil, nil, err
	}
	resp = &result.Response

	if result.ProofRequired && resp.Result == contracts.DecisionAllow {
		if err := s.issueProof(ctx, agent, action, result); err != nil {
			return nil, nil, err
		}
		_ = s.recorder.Record(ctx, contracts.AuditProofIssued, map[string]any{
			"decision_id": resp.DecisionID,
			"action_hash": resp.ActionHash,
		}, audit.Refs{DecisionID: resp.DecisionID, ActionID: action.ActionID})
	}

	_ = s.recorder.Record(ctx, contracts.AuditDecisionCreated, map[string]any{
		"decision_id":     resp.DecisionID,
		"result":          resp.Result,
		"matched_rule_id": resp.MatchedRuleID,
		"action_hash":     resp.ActionHash,
	}, audit.Refs{DecisionID: resp.DecisionID, ActionID: action.ActionID, PrincipalID: agent.AgentPrincipalID})

	s.telemetry.RecordDecision(ctx, string(resp.Result), action.ActionType)
	observability.AddSpanEvent(ctx, "decision",
		observability.DecisionAttributes(resp.DecisionID, string(resp.Result), action.ActionType, resp.MatchedRuleID)...)

	return resp, result, nil
}

func (s *Service) issueProof(ctx context.Context, agent *auth.AgentIdentity, action *contracts.ActionRequest, result *pdp.Result) error {
	ttl := s.opts.DefaultProofTTL
	if result.ProofTTLSeconds != nil {
		ttl = *result.ProofTTLSeconds
	}
	if s.opts.MaxProofTTL > 0 && ttl > s.opts.MaxProofTTL {
		ttl = s.opts.MaxProofTTL
	}

	key, err := s.store.ActiveSigningKey(ctx)
	if err != nil {
		return fmt.Errorf("authorize: signing key: %w", err)
	}

	var snapshot map[string]any
	if result.MatchedRule != nil && result.MatchedRule.Constraints != nil {
		snapshot, err = constraintsSnapshot(result.MatchedRule.Constraints)
		if err != nil {
			return err
		}
	}

	resp := &result.Response
	issued, err := s.issuer.Issue(ctx, proof.IssueParams{
		Key:                 key,
		DecisionID:          resp.DecisionID,
		OwnerPrincipalID:    agent.OwnerPrincipalID,
		AgentID:             action.Principal.AgentID,
		ActionType:          action.ActionType,
		ActionHash:          resp.ActionHash,
		MatchedRuleID:       resp.MatchedRuleID,
		TTLSeconds:          ttl,
		TrustProfile:        action.TrustProfile(),
		ConstraintsSnapshot: snapshot,
	})
	if err != nil {
		return fmt.Errorf("authorize: issue proof: %w", err)
	}

	resp.ProofToken = &issued.Token
	resp.ProofExpiresAt = &issued.ExpiresAt
	s.telemetry.RecordProofIssued(ctx, s.issuer.Format())
	return nil
}

// constraintsSnapshot renders the matched rule's constraints as a plain JSON
// object for embedding in the proof.
func constraintsSnapshot(c *contracts.Constraints) (map[string]any, error) {
	b, err := canonicalize.JCS(c)
	if err != nil {
		return nil, fmt.Errorf("authorize: constraints snapshot: %w", err)
	}
	tree, err := policyloader.ParseJSON(b)
	if err != nil {
		return nil, fmt.Errorf("authorize: constraints snapshot: %w", err)
	}
	m, _ := tree.(map[string]any)
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// PlaygroundResult is a dry-run evaluation.
type PlaygroundResult struct {
	ActionHash string                      `json:"action_hash"`
	Decision   contracts.AuthorizeResponse `json:"decision"`
	Debug      PlaygroundDebug             `json:"debug"`
}

type PlaygroundDebug struct {
	Trace []contracts.RuleTrace `json:"trace"`
}

// Playground evaluates action against an ad-hoc policy. Nothing is signed
// or persisted beyond a PLAYGROUND_RUN audit entry.
func (s *Service) Playground(ctx context.Context, policyYAML string, action *contracts.ActionRequest) (*PlaygroundResult, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	policy, err := policyloader.Load([]byte(policyYAML))
	if err != nil {
		var verr *contracts.ValidationError
		if !errors.As(err, &verr) {
			err = &contracts.ValidationError{Subject: "policy", Errors: []contracts.FieldError{{Message: err.Error()}}}
		}
		return nil, err
	}

	result, err := s.engine.Evaluate(action, policy, pdp.Options{DefaultProofTTL: s.opts.DefaultProofTTL})
	if err != nil {
		return nil, err
	}

	_ = s.recorder.Record(ctx, contracts.AuditPlaygroundRun, map[string]any{
		"action_type": action.ActionType,
		"result":      result.Response.Result,
	}, audit.Refs{ActionID: action.ActionID})

	return &PlaygroundResult{
		ActionHash: result.Response.ActionHash,
		Decision:   result.Response,
		Debug:      PlaygroundDebug{Trace: result.Trace.Rules},
	}, nil
}

// VerifyRequest is the body of a proof verification.
type VerifyRequest = contracts.VerifyProofRequest

// VerifyResponse reports a proof verification outcome.
type VerifyResponse = contracts.VerifyProofResponse

// ReasonMissingToken is returned for an empty token.
const ReasonMissingToken = "Missing token"

// VerifyProof checks a token against every non-revoked server key.
func (s *Service) VerifyProof(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	if req.Token == "" {
		return &VerifyResponse{Valid: false, Reason: ReasonMissingToken}, nil
	}

	keys, err := s.store.AllVerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("authorize: verification keys: %w", err)
	}

	res := s.verifier.VerifyExpected(ctx, req.Token, keys, proof.Expectations{
		ActionHash: req.ExpectedActionHash,
		AgentID:    req.ExpectedAgentID,
	})

	_ = s.recorder.Record(ctx, contracts.AuditProofVerified, map[string]any{
		"valid":  res.Valid,
		"reason": res.Reason,
	}, audit.Refs{})
	s.telemetry.RecordProofVerification(ctx, res.Valid, res.Reason)

	return &VerifyResponse{Valid: res.Valid, Reason: res.Reason, Claims: res.Claims}, nil
}

// IsRefusal reports whether err is an *Error and returns it.
func IsRefusal(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

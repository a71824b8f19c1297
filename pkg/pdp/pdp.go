// Package pdp is the policy decision point.
//
// It evaluates an ActionRequest against an owner's Policy and produces a
// decision, the obligations attached to it, a full per-rule trace and a
// proof-requirement verdict. Everything here is pure and synchronous: no I/O,
// no shared mutable state beyond a concurrency-safe regex cache, so an Engine
// may be used from any number of goroutines.
//
// Evaluation proceeds rule by rule in document order. Each rule passes three
// gates (action pattern, "when" condition, constraints); the first rule that
// passes all three decides. Every rule is still evaluated so the trace is
// complete.
package pdp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/canonicalize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/jsonpath"
)

// Options tunes a single evaluation.
type Options struct {
	// DefaultProofTTL is used when the matched rule has no explicit ttl.
	// Zero means no default.
	DefaultProofTTL int
}

// Result is the outcome of Engine.Evaluate.
type Result struct {
	Response        contracts.AuthorizeResponse
	Trace           contracts.EvaluationTrace
	ProofRequired   bool
	ProofTTLSeconds *int
	// MatchedRule is the deciding rule, nil when the default applied.
	MatchedRule *contracts.PolicyRule
}

// InternalError wraps a programmer error raised during evaluation, such as a
// malformed path inside a condition. It must surface as a server error and is
// never converted into a deny.
type InternalError struct {
	RuleID string
	Err    error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("pdp: internal error evaluating rule %q: %v", e.RuleID, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Engine evaluates policies.
type Engine struct {
	newID func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIDGenerator overrides decision and obligation id generation.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an Engine that generates random UUIDv4 ids.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{newID: func() string { return uuid.NewString() }}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs action through policy. Neither argument is modified.
func (e *Engine) Evaluate(action *contracts.ActionRequest, policy *contracts.Policy, opts Options) (res *Result, err error) {
	actionHash, err := canonicalize.ActionHash(action)
	if err != nil {
		return nil, fmt.Errorf("pdp: %w", err)
	}
	tree, err := jsonpath.ToTree(action)
	if err != nil {
		return nil, fmt.Errorf("pdp: %w", err)
	}

	var current string
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok {
				rerr = fmt.Errorf("%v", r)
			}
			res, err = nil, &InternalError{RuleID: current, Err: rerr}
		}
	}()

	traces := make([]contracts.RuleTrace, 0, len(policy.Rules))
	var matched *contracts.PolicyRule

	for i := range policy.Rules {
		rule := &policy.Rules[i]
		current = rule.ID

		tr := contracts.RuleTrace{RuleID: rule.ID, PatternMatch: MatchAction(action.ActionType, rule.Action)}
		if tr.PatternMatch {
			when := rule.When == nil || EvaluateExpr(rule.When, tree)
			tr.WhenMatch = &when
			if when {
				cons := rule.Constraints == nil || EvaluateConstraints(rule.Constraints, action)
				tr.ConstraintsMatch = &cons
				tr.FinalMatch = cons
			}
		}
		traces = append(traces, tr)

		if tr.FinalMatch && matched == nil {
			matched = rule
		}
	}

	resp := contracts.AuthorizeResponse{
		DecisionID:  e.newID(),
		ActionID:    action.ActionID,
		ActionHash:  actionHash,
		Obligations: []contracts.Obligation{},
	}

	switch {
	case matched == nil:
		resp.Result = contracts.DecisionDeny
		if policy.Default == contracts.EffectAllow {
			resp.Result = contracts.DecisionAllow
		}
		resp.Reason = fmt.Sprintf("No rule matched; default policy applied: %s", policy.Default)
	case matched.Effect == contracts.EffectDeny:
		resp.Result = contracts.DecisionDeny
		resp.Reason = fmt.Sprintf("Denied by rule %q", matched.ID)
	default:
		obligations, result := ResolveObligations(matched.Obligations, matched.Requirements, action.Payload, e.newID)
		resp.Result = result
		resp.Obligations = obligations
		if result == contracts.DecisionAllow {
			resp.Reason = fmt.Sprintf("Allowed by rule %q", matched.ID)
		} else {
			resp.Reason = fmt.Sprintf("Rule %q requires: %s", matched.ID, result)
		}
	}

	if matched != nil {
		id := matched.ID
		resp.MatchedRuleID = &id
	}

	res = &Result{
		Response:      resp,
		Trace:         contracts.EvaluationTrace{Rules: traces},
		ProofRequired: action.TrustProfile().ForcesProof(),
		MatchedRule:   matched,
	}
	if matched != nil && matched.Proof != nil {
		res.ProofRequired = res.ProofRequired || matched.Proof.Required
		if matched.Proof.TTLSeconds != nil {
			ttl := *matched.Proof.TTLSeconds
			res.ProofTTLSeconds = &ttl
		}
	}
	if res.ProofTTLSeconds == nil && opts.DefaultProofTTL > 0 {
		ttl := opts.DefaultProofTTL
		res.ProofTTLSeconds = &ttl
	}
	return res, nil
}

// MatchAction reports whether actionType matches a rule's action pattern:
// "*" matches everything, "prefix.*" matches prefix itself and anything under
// "prefix.", and any other pattern must be equal.
func MatchAction(actionType, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return actionType == prefix || strings.HasPrefix(actionType, prefix+".")
	}
	return actionType == pattern
}

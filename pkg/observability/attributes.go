package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// openleash semantic convention attributes.
var (
	AttrOperation = attribute.Key("openleash.operation")

	// Decision attributes
	AttrDecisionID     = attribute.Key("openleash.decision.id")
	AttrDecisionResult = attribute.Key("openleash.decision.result")
	AttrMatchedRuleID  = attribute.Key("openleash.decision.rule_id")
	AttrActionType     = attribute.Key("openleash.action.type")
	AttrAgentID        = attribute.Key("openleash.agent.id")
	AttrOwnerID        = attribute.Key("openleash.owner.id")

	// Proof attributes
	AttrProofFormat = attribute.Key("openleash.proof.format")
	AttrProofValid  = attribute.Key("openleash.proof.valid")
	AttrProofReason = attribute.Key("openleash.proof.reason")
	AttrKeyID       = attribute.Key("openleash.key.id")

	AttrAuthCode = attribute.Key("openleash.auth.code")

	// HTTP
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
)

// DecisionAttributes describes an authorization decision on a span.
func DecisionAttributes(decisionID, result, actionType string, ruleID *string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrDecisionID.String(decisionID),
		AttrDecisionResult.String(result),
		AttrActionType.String(actionType),
	}
	if ruleID != nil {
		attrs = append(attrs, AttrMatchedRuleID.String(*ruleID))
	}
	return attrs
}

// AgentAttributes identifies the calling agent.
func AgentAttributes(agentID, ownerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentID.String(agentID),
		AttrOwnerID.String(ownerID),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

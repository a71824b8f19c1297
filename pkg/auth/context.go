package auth

import (
	"context"
	"errors"
)

type contextKey string

const (
	agentKey contextKey = "agent"
)

// WithAgent attaches an authenticated agent to the context.
func WithAgent(ctx context.Context, a *AgentIdentity) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

// GetAgent retrieves the authenticated agent from the context.
func GetAgent(ctx context.Context) (*AgentIdentity, error) {
	a, ok := ctx.Value(agentKey).(*AgentIdentity)
	if !ok || a == nil {
		return nil, errors.New("no agent in context")
	}
	return a, nil
}

// MustGetAgent panics if the agent is missing (use only when middleware guarantees it).
func MustGetAgent(ctx context.Context) *AgentIdentity {
	a, err := GetAgent(ctx)
	if err != nil {
		panic(err)
	}
	return a
}

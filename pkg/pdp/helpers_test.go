package pdp

import (
	"fmt"

	"github.com/openleash/openleash/pkg/contracts"
)

func newAction(actionType string, payload map[string]any) *contracts.ActionRequest {
	return &contracts.ActionRequest{
		ActionID:    "5b1a3f0e-4f64-4b64-9a53-0f0f2ad3c001",
		ActionType:  actionType,
		RequestedAt: "2026-01-02T03:04:05.678Z",
		Principal:   contracts.Principal{AgentID: "agent-1"},
		Subject:     contracts.Subject{PrincipalID: "8e0f6a1c-2d1b-4c41-8d7b-2f6a1c5d9e10"},
		Payload:     payload,
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func ptr[T any](v T) *T { return &v }

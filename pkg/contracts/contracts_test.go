package contracts

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpr_Shapes(t *testing.T) {
	raw := `{"all":[
		{"match":{"path":"$.payload.amount_minor","op":"lte","value":10000}},
		{"any":[]},
		{"not":{"match":{"path":"$.payload.flagged","op":"exists"}}}
	]}`

	expr, err := ParseExpr([]byte(raw))
	require.NoError(t, err)

	all, ok := expr.(AllExpr)
	require.True(t, ok)
	require.Len(t, all.Children, 3)

	m, ok := all.Children[0].(MatchExpr)
	require.True(t, ok)
	assert.Equal(t, "$.payload.amount_minor", m.Path)
	assert.Equal(t, OpLte, m.Op)
	assert.Equal(t, float64(10000), m.Value)

	anyExpr, ok := all.Children[1].(AnyExpr)
	require.True(t, ok)
	assert.Empty(t, anyExpr.Children)

	not, ok := all.Children[2].(NotExpr)
	require.True(t, ok)
	assert.Equal(t, MatchExpr{Path: "$.payload.flagged", Op: OpExists}, not.Child)
}

func TestParseExpr_Rejects(t *testing.T) {
	cases := map[string]string{
		"two keys":      `{"all":[],"any":[]}`,
		"unknown key":   `{"xor":[]}`,
		"unknown op":    `{"match":{"path":"$.a","op":"like"}}`,
		"missing path":  `{"match":{"op":"exists"}}`,
		"extra field":   `{"match":{"path":"$.a","op":"exists","flags":"i"}}`,
		"bad child":     `{"not":{"oops":1}}`,
		"not an object": `[1,2]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExpr([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestExpr_MarshalRoundTrip(t *testing.T) {
	in := All(
		Match("$.action_type", OpEq, "purchase"),
		Not(Any(Match("$.payload.currency", OpIn, []any{"EUR"}))),
	)
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"all":[{"match":{"path":"$.action_type","op":"eq","value":"purchase"}},{"not":{"any":[{"match":{"path":"$.payload.currency","op":"in","value":["EUR"]}}]}}]}`,
		string(b))

	out, err := ParseExpr(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPolicyRule_UnmarshalWhen(t *testing.T) {
	raw := `{"id":"r1","effect":"allow","action":"purchase","when":{"match":{"path":"$.payload.x","op":"exists"}},"proof":{"required":true,"ttl_seconds":60}}`
	var r PolicyRule
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, MatchExpr{Path: "$.payload.x", Op: OpExists}, r.When)
	require.NotNil(t, r.Proof)
	assert.True(t, r.Proof.Required)
	require.NotNil(t, r.Proof.TTLSeconds)
	assert.Equal(t, 60, *r.Proof.TTLSeconds)

	var bare PolicyRule
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r2","effect":"deny","action":"*"}`), &bare))
	assert.Nil(t, bare.When)
}

func TestActionRequest_Validate(t *testing.T) {
	ok := ActionRequest{
		ActionID:    "5b1a3f0e-4f64-4b64-9a53-0f0f2ad3c001",
		ActionType:  "purchase",
		RequestedAt: "2026-01-02T03:04:05.678Z",
		Principal:   Principal{AgentID: "agent-1"},
		Subject:     Subject{PrincipalID: "8e0f6a1c-2d1b-4c41-8d7b-2f6a1c5d9e10"},
		Payload:     map[string]any{},
	}
	require.NoError(t, ok.Validate())

	bad := ActionRequest{
		ActionID:     "nope",
		RequestedAt:  "yesterday",
		RelyingParty: &RelyingParty{TrustProfile: "EXTREME"},
	}
	err := bad.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{
		"action_id", "action_type", "requested_at", "principal.agent_id",
		"subject.principal_id", "relying_party.trust_profile", "payload",
	}, fields)
}

func TestAssuranceLevel_Rank(t *testing.T) {
	low, _ := AssuranceLow.Rank()
	sub, _ := AssuranceSubstantial.Rank()
	high, _ := AssuranceHigh.Rank()
	assert.True(t, low < sub && sub < high)

	_, known := AssuranceLevel("ULTRA").Rank()
	assert.False(t, known)
}

package proof

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newKey(t *testing.T) contracts.ServerKey {
	t.Helper()
	k, err := crypto.GenerateServerKey(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return k
}

func params(key contracts.ServerKey) IssueParams {
	rule := "allow_small"
	return IssueParams{
		Key:              key,
		DecisionID:       "dec-1",
		OwnerPrincipalID: "owner-1",
		AgentID:          "agent-1",
		ActionType:       "purchase",
		ActionHash:       strings.Repeat("ab", 32),
		MatchedRuleID:    &rule,
		TTLSeconds:       120,
	}
}

func formats() []Format { return []Format{PASETOFormat{}, JWTFormat{}} }

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	for _, f := range formats() {
		t.Run(f.Name(), func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			key := newKey(t)

			issued, err := NewIssuer(f, clock.Now).Issue(context.Background(), params(key))
			require.NoError(t, err)
			assert.True(t, f.Accepts(issued.Token))
			assert.Equal(t, "2026-03-01T12:02:00.000Z", issued.ExpiresAt)
			assert.Equal(t, contracts.ProofIssuer, issued.Claims.Iss)
			assert.Equal(t, key.KID, issued.Claims.KID)

			res := NewVerifier(clock.Now).Verify(context.Background(), issued.Token, []contracts.ServerKey{key})
			require.True(t, res.Valid, res.Reason)
			assert.Equal(t, issued.Claims, *res.Claims)
		})
	}
}

func TestVerify_TriesEveryKey(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	k1, k2 := newKey(t), newKey(t)

	issued, err := NewIssuer(PASETOFormat{}, clock.Now).Issue(context.Background(), params(k1))
	require.NoError(t, err)

	v := NewVerifier(clock.Now)
	assert.True(t, v.Verify(context.Background(), issued.Token, []contracts.ServerKey{k2, k1}).Valid)

	res := v.Verify(context.Background(), issued.Token, []contracts.ServerKey{k2})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoMatchingKey, res.Reason)
	assert.Nil(t, res.Claims)
}

func TestVerify_ExpiredKeepsClaims(t *testing.T) {
	for _, f := range formats() {
		t.Run(f.Name(), func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			key := newKey(t)
			issued, err := NewIssuer(f, clock.Now).Issue(context.Background(), params(key))
			require.NoError(t, err)

			clock.t = clock.t.Add(121 * time.Second)
			res := NewVerifier(clock.Now).Verify(context.Background(), issued.Token, []contracts.ServerKey{key})
			assert.False(t, res.Valid)
			assert.Equal(t, ReasonExpired, res.Reason)
			require.NotNil(t, res.Claims)
			assert.Equal(t, "dec-1", res.Claims.DecisionID)
		})
	}
}

func TestIssue_SubSecondClockMatchesSignedClaims(t *testing.T) {
	for _, f := range formats() {
		t.Run(f.Name(), func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 900_400_000, time.UTC)}
			key := newKey(t)
			p := params(key)
			p.TTLSeconds = 1

			issued, err := NewIssuer(f, clock.Now).Issue(context.Background(), p)
			require.NoError(t, err)
			expiresAt, err := time.Parse(time.RFC3339Nano, issued.ExpiresAt)
			require.NoError(t, err)

			clock.t = expiresAt.Add(-time.Millisecond)
			v := NewVerifier(clock.Now)
			res := v.Verify(context.Background(), issued.Token, []contracts.ServerKey{key})
			require.True(t, res.Valid, res.Reason)
			assert.Equal(t, issued.Claims, *res.Claims)

			clock.t = expiresAt
			res = v.Verify(context.Background(), issued.Token, []contracts.ServerKey{key})
			assert.Equal(t, ReasonExpired, res.Reason)
		})
	}
}

func TestIssue_TruncatesToFormatPrecision(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 900_400_000, time.UTC)}
	p := params(newKey(t))
	p.TTLSeconds = 1

	issued, err := NewIssuer(JWTFormat{}, clock.Now).Issue(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", issued.Claims.Iat)
	assert.Equal(t, "2026-01-01T00:00:01.000Z", issued.ExpiresAt)

	issued, err = NewIssuer(PASETOFormat{}, clock.Now).Issue(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00.900Z", issued.Claims.Iat)
	assert.Equal(t, "2026-01-01T00:00:01.900Z", issued.ExpiresAt)
}

func TestVerify_TamperedToken(t *testing.T) {
	key := newKey(t)
	issued, err := NewIssuer(PASETOFormat{}, nil).Issue(context.Background(), params(key))
	require.NoError(t, err)

	body := strings.TrimPrefix(issued.Token, "v4.public.")
	raw, err := base64.RawURLEncoding.DecodeString(body)
	require.NoError(t, err)
	raw[5] ^= 0x01
	tampered := "v4.public." + base64.RawURLEncoding.EncodeToString(raw)

	res := NewVerifier(nil).Verify(context.Background(), tampered, []contracts.ServerKey{key})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoMatchingKey, res.Reason)
}

func TestVerify_UnsupportedToken(t *testing.T) {
	res := NewVerifier(nil).Verify(context.Background(), "garbage", []contracts.ServerKey{newKey(t)})
	assert.Equal(t, ReasonUnsupportedToken, res.Reason)
}

func TestVerifyExpected(t *testing.T) {
	key := newKey(t)
	issued, err := NewIssuer(PASETOFormat{}, nil).Issue(context.Background(), params(key))
	require.NoError(t, err)
	keys := []contracts.ServerKey{key}
	v := NewVerifier(nil)
	ctx := context.Background()

	ok := v.VerifyExpected(ctx, issued.Token, keys, Expectations{ActionHash: issued.Claims.ActionHash, AgentID: "agent-1"})
	assert.True(t, ok.Valid)

	bad := v.VerifyExpected(ctx, issued.Token, keys, Expectations{ActionHash: strings.Repeat("cd", 32)})
	assert.False(t, bad.Valid)
	assert.Equal(t, ReasonActionHash, bad.Reason)

	bad = v.VerifyExpected(ctx, issued.Token, keys, Expectations{AgentID: "someone-else"})
	assert.False(t, bad.Valid)
	assert.Equal(t, ReasonAgentID, bad.Reason)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	key := newKey(t)
	p := params(key)
	p.TTLSeconds = 0
	_, err := NewIssuer(PASETOFormat{}, nil).Issue(context.Background(), p)
	assert.Error(t, err)

	p = params(contracts.ServerKey{KID: "pub-only", PublicKey: key.PublicKey})
	_, err = NewIssuer(PASETOFormat{}, nil).Issue(context.Background(), p)
	assert.Error(t, err)
}

func TestNewFormat(t *testing.T) {
	f, err := NewFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPASETO, f.Name())
	f, err = NewFormat(FormatJWT)
	require.NoError(t, err)
	assert.Equal(t, FormatJWT, f.Name())
	_, err = NewFormat("x509")
	assert.Error(t, err)
}

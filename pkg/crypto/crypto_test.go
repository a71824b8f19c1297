package crypto

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/canonicalize"
)

func TestKeyCodec_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	pubB64, err := EncodePublicKey(pub)
	require.NoError(t, err)
	privB64, err := EncodePrivateKey(priv)
	require.NoError(t, err)

	gotPub, err := DecodePublicKey(pubB64)
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)

	gotPriv, err := DecodePrivateKey(privB64)
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)

	raw, err := DecodePublicKey(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err, "bare 32-byte keys are accepted")
	assert.Equal(t, pub, raw)
}

func TestKeyCodec_Rejects(t *testing.T) {
	for _, in := range []string{"not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := DecodePublicKey(in)
		assert.True(t, errors.Is(err, ErrInvalidKey), "input %q", in)
		_, err = DecodePrivateKey(in)
		assert.True(t, errors.Is(err, ErrInvalidKey), "input %q", in)
	}
}

func TestBuildSigningInput(t *testing.T) {
	got := BuildSigningInput("POST", "/v1/authorize", "2026-01-01T00:00:00.000Z", "n-1", "abc")
	assert.Equal(t, "POST\n/v1/authorize\n2026-01-01T00:00:00.000Z\nn-1\nabc", got)
}

func TestSignRequest_RejectsMalformedKey(t *testing.T) {
	for _, priv := range []ed25519.PrivateKey{nil, make(ed25519.PrivateKey, 31)} {
		_, err := SignRequest("POST", "/v1/authorize", "2026-01-01T00:00:00.000Z", "nonce-1", []byte("{}"), priv)
		assert.Error(t, err)
	}
}

func TestRequestSignature_RoundTripAndTamper(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	body := []byte(`{"action_type":"purchase"}`)
	ts := "2026-01-01T00:00:00.000Z"
	h, err := SignRequest("POST", "/v1/authorize", ts, "nonce-1", body, priv)
	require.NoError(t, err)

	assert.Equal(t, canonicalize.HashBytes(body), h.BodySHA256)
	assert.True(t, VerifyRequestSignature("POST", "/v1/authorize", ts, "nonce-1", h.BodySHA256, h.Signature, pub))

	tampered := []struct {
		name                                  string
		method, path, ts, nonce, hash, sigB64 string
	}{
		{"method", "PUT", "/v1/authorize", ts, "nonce-1", h.BodySHA256, h.Signature},
		{"path", "POST", "/v1/other", ts, "nonce-1", h.BodySHA256, h.Signature},
		{"timestamp", "POST", "/v1/authorize", "2026-01-01T00:00:01.000Z", "nonce-1", h.BodySHA256, h.Signature},
		{"nonce", "POST", "/v1/authorize", ts, "nonce-2", h.BodySHA256, h.Signature},
		{"body hash", "POST", "/v1/authorize", ts, "nonce-1", canonicalize.HashBytes([]byte("{}")), h.Signature},
		{"garbage signature", "POST", "/v1/authorize", ts, "nonce-1", h.BodySHA256, "%%%"},
	}
	for _, tc := range tampered {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, VerifyRequestSignature(tc.method, tc.path, tc.ts, tc.nonce, tc.hash, tc.sigB64, pub))
		})
	}

	otherPub, _, err := GenerateKeypair()
	require.NoError(t, err)
	assert.False(t, VerifyRequestSignature("POST", "/v1/authorize", ts, "nonce-1", h.BodySHA256, h.Signature, otherPub))
}

func TestSigner_Integrity(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("hello"))
	require.NoError(t, err)

	ok, err := Verify(signer.PublicKey(), sig, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.PublicKey(), sig, []byte("hellO"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(signer.PublicKey()[:10], sig, []byte("hello"))
	assert.Error(t, err)
}

func TestKeyRing_Rotation(t *testing.T) {
	ctx := context.Background()
	ring := NewKeyRing()

	_, err := ring.ActiveSigningKey(ctx)
	assert.ErrorIs(t, err, ErrNoActiveKey)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k1, err := GenerateServerKey(now)
	require.NoError(t, err)
	ring.AddKey(k1)
	assert.Equal(t, k1.KID, ring.ActiveKID())

	k2, err := ring.Rotate(now.Add(time.Hour))
	require.NoError(t, err)
	active, err := ring.ActiveSigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, k2.KID, active.KID)

	keys, err := ring.AllVerificationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, k2.KID, keys[0].KID, "newest first")

	ring.RevokeKey(k1.KID, now.Add(2*time.Hour))
	keys, _ = ring.AllVerificationKeys(ctx)
	require.Len(t, keys, 1)
	assert.Equal(t, k2.KID, keys[0].KID)

	assert.Error(t, ring.SetActive(k1.KID), "revoked keys cannot sign")
	assert.Error(t, ring.SetActive("nope"))
}

func TestPublicKeyInfo(t *testing.T) {
	k, err := GenerateServerKey(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	info, err := PublicKeyInfo(k)
	require.NoError(t, err)
	assert.Equal(t, "OKP", info.Kty)
	assert.Equal(t, "EdDSA", info.Alg)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", info.CreatedAt)
	assert.Nil(t, info.RevokedAt)

	pub, err := DecodePublicKey(info.PublicKeyB64)
	require.NoError(t, err)
	assert.Equal(t, k.PublicKey, pub)
}

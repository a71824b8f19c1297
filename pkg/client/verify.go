package client

import (
	"context"
	"time"

	"github.com/openleash/openleash/pkg/authorize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/proof"
)

// OfflineVerifier checks proof tokens against a key set fetched earlier
// with PublicKeys, without calling the server.
type OfflineVerifier struct {
	ring     *crypto.KeyRing
	verifier *proof.Verifier
}

// NewOfflineVerifier caches the published keys. A nil clock means time.Now.
func NewOfflineVerifier(keys []contracts.PublicKeyInfo, now func() time.Time) *OfflineVerifier {
	v := &OfflineVerifier{ring: crypto.NewKeyRing(), verifier: proof.NewVerifier(now)}
	v.Refresh(keys)
	return v
}

// OfflineVerifier fetches the server's key set and returns a verifier over it.
func (c *Client) OfflineVerifier(ctx context.Context) (*OfflineVerifier, error) {
	keys, err := c.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	return NewOfflineVerifier(keys, c.now), nil
}

// Refresh merges a newer key listing into the cache. A key listed as
// revoked stops verifying; keys that fail to decode are skipped.
func (v *OfflineVerifier) Refresh(keys []contracts.PublicKeyInfo) {
	for _, info := range keys {
		pub, err := crypto.DecodePublicKey(info.PublicKeyB64)
		if err != nil {
			continue
		}
		key := contracts.ServerKey{KID: info.KID, PublicKey: pub}
		if t, err := crypto.ParseTimestamp(info.CreatedAt); err == nil {
			key.CreatedAt = t
		}
		if info.RevokedAt != nil {
			t, err := crypto.ParseTimestamp(*info.RevokedAt)
			if err != nil {
				t = time.Unix(0, 0)
			}
			key.RevokedAt = &t
		}
		v.ring.AddKey(key)
	}
}

// Verify checks token and, when set, its action hash and agent id.
func (v *OfflineVerifier) Verify(ctx context.Context, req contracts.VerifyProofRequest) contracts.VerifyProofResponse {
	if req.Token == "" {
		return contracts.VerifyProofResponse{Reason: authorize.ReasonMissingToken}
	}
	keys, err := v.ring.AllVerificationKeys(ctx)
	if err != nil {
		return contracts.VerifyProofResponse{Reason: proof.ReasonNoMatchingKey}
	}
	res := v.verifier.VerifyExpected(ctx, req.Token, keys, proof.Expectations{
		ActionHash: req.ExpectedActionHash,
		AgentID:    req.ExpectedAgentID,
	})
	return contracts.VerifyProofResponse{Valid: res.Valid, Reason: res.Reason, Claims: res.Claims}
}

// VerifyProofOffline is a one-shot OfflineVerifier check.
func VerifyProofOffline(token string, keys []contracts.PublicKeyInfo) contracts.VerifyProofResponse {
	return NewOfflineVerifier(keys, nil).Verify(context.Background(), contracts.VerifyProofRequest{Token: token})
}

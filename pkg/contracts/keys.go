package contracts

import (
	"crypto/ed25519"
	"time"
)

// ServerKey is one of the sidecar's proof-signing keys. Several may coexist;
// exactly one is active for signing and every non-revoked key verifies.
type ServerKey struct {
	KID        string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been taken out of verification.
func (k ServerKey) Revoked() bool { return k.RevokedAt != nil }

// PublicKeyInfo is the public half of a ServerKey as published to
// counterparties.
type PublicKeyInfo struct {
	KID          string  `json:"kid"`
	Kty          string  `json:"kty"`
	Alg          string  `json:"alg"`
	PublicKeyB64 string  `json:"public_key_b64"`
	CreatedAt    string  `json:"created_at"`
	RevokedAt    *string `json:"revoked_at"`
}

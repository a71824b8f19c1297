// Package crypto holds the Ed25519 primitives of the trust protocol: key
// encoding, the request-signing string, request signatures and the server
// key ring used for proof-token rotation.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Signer produces detached signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() ed25519.PublicKey
}

// Ed25519Signer signs with a single private key. Signatures are base64.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pubKey
}

// Verify checks a base64 signature over data.
func Verify(pub ed25519.PublicKey, sigB64 string, data []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, data, sig), nil
}

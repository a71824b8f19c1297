package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
)

// ErrInvalidKey is returned when key material cannot be decoded as Ed25519.
var ErrInvalidKey = errors.New("crypto: invalid ed25519 key")

// GenerateKeypair creates a fresh Ed25519 key pair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return pub, priv, nil
}

// GenerateServerKey creates a new proof-signing key with a random kid.
func GenerateServerKey(now time.Time) (contracts.ServerKey, error) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		return contracts.ServerKey{}, err
	}
	return contracts.ServerKey{
		KID:        uuid.NewString(),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  now.UTC(),
	}, nil
}

// EncodePublicKey renders pub as base64 of its DER SubjectPublicKeyInfo.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses base64 DER SubjectPublicKeyInfo. A bare base64
// 32-byte key is accepted too.
func DecodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 public key", ErrInvalidKey)
	}
	return pub, nil
}

// EncodePrivateKey renders priv as base64 of its DER PKCS#8 encoding.
func EncodePrivateKey(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePrivateKey parses base64 DER PKCS#8.
func DecodePrivateKey(b64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 private key", ErrInvalidKey)
	}
	return priv, nil
}

// PublicKeyInfo renders the publishable half of a server key.
func PublicKeyInfo(k contracts.ServerKey) (contracts.PublicKeyInfo, error) {
	b64, err := EncodePublicKey(k.PublicKey)
	if err != nil {
		return contracts.PublicKeyInfo{}, err
	}
	info := contracts.PublicKeyInfo{
		KID:          k.KID,
		Kty:          "OKP",
		Alg:          "EdDSA",
		PublicKeyB64: b64,
		CreatedAt:    FormatTimestamp(k.CreatedAt),
	}
	if k.RevokedAt != nil {
		s := FormatTimestamp(*k.RevokedAt)
		info.RevokedAt = &s
	}
	return info, nil
}

// FormatTimestamp renders t as RFC 3339 UTC with millisecond precision, the
// format used on the wire for request timestamps and proof claims.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTimestamp accepts any RFC 3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("crypto: invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

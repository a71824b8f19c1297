// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of action requests and request bodies.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshalled with encoding/json so struct tags are honoured, then
// re-serialized by the JCS transformer:
//  1. Object keys are sorted by UTF-16 code units.
//  2. HTML escaping is disabled.
//  3. Numbers use the ECMAScript shortest round-trip form.
//
// Values that have no JSON representation (NaN, Inf, channels) return an error.
func JCS(v any) ([]byte, error) {
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
		}
		raw = b
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// HashBytes computes the SHA-256 of raw bytes as 64 lower-case hex characters.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// ActionHash fingerprints an action request. Two structurally equal actions
// always hash identically regardless of key order in the submitted JSON.
func ActionHash(action any) (string, error) {
	h, err := CanonicalHash(action)
	if err != nil {
		return "", fmt.Errorf("jcs: action hash: %w", err)
	}
	return h, nil
}

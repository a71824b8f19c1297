package crypto

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/openleash/openleash/pkg/canonicalize"
)

// Request authentication headers.
const (
	HeaderAgentID    = "X-Agent-Id"
	HeaderTimestamp  = "X-Timestamp"
	HeaderNonce      = "X-Nonce"
	HeaderBodySHA256 = "X-Body-Sha256"
	HeaderSignature  = "X-Signature"
)

// SignedHeaders are the values an agent attaches to a signed request.
type SignedHeaders struct {
	Timestamp  string `json:"X-Timestamp"`
	Nonce      string `json:"X-Nonce"`
	BodySHA256 string `json:"X-Body-Sha256"`
	Signature  string `json:"X-Signature"`
}

// BuildSigningInput joins the five signed fields with newlines, without a
// trailing newline. Fields are used verbatim.
func BuildSigningInput(method, path, timestamp, nonce, bodySHA256 string) string {
	return strings.Join([]string{method, path, timestamp, nonce, bodySHA256}, "\n")
}

// SignRequest signs a request for the given method, path and body.
func SignRequest(method, path, timestamp, nonce string, body []byte, priv ed25519.PrivateKey) (SignedHeaders, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return SignedHeaders{}, fmt.Errorf("crypto: invalid private key size %d", len(priv))
	}
	bodyHash := canonicalize.HashBytes(body)
	input := BuildSigningInput(method, path, timestamp, nonce, bodyHash)
	sig, err := NewEd25519SignerFromKey(priv, "").Sign([]byte(input))
	if err != nil {
		return SignedHeaders{}, fmt.Errorf("crypto: sign request: %w", err)
	}
	return SignedHeaders{
		Timestamp:  timestamp,
		Nonce:      nonce,
		BodySHA256: bodyHash,
		Signature:  sig,
	}, nil
}

// VerifyRequestSignature checks a request signature. Malformed signatures
// and keys verify as false.
func VerifyRequestSignature(method, path, timestamp, nonce, bodySHA256, sigB64 string, pub ed25519.PublicKey) bool {
	ok, err := Verify(pub, sigB64, []byte(BuildSigningInput(method, path, timestamp, nonce, bodySHA256)))
	return err == nil && ok
}

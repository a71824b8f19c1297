// Package client is the Go SDK for an openleash sidecar. It signs agent
// requests, drives the registration handshake and verifies proof tokens
// online or against a cached key set.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/authorize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/versioning"
)

// DefaultBaseURL is where a locally started sidecar listens.
const DefaultBaseURL = "http://127.0.0.1:8787"

// APIError is a Problem Detail returned by the server.
type APIError struct {
	Status int                    `json:"status"`
	Code   string                 `json:"code"`
	Title  string                 `json:"title"`
	Detail string                 `json:"detail"`
	Errors []contracts.FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openleash: %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("openleash: %d: %s", e.Status, e.Detail)
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one openleash server.
type Client struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
	now        func() time.Time
	retries    int
}

// Option configures a Client.
type Option func(*Client)

// WithAdminToken sets the bearer token sent on admin calls.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.AdminToken = token }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithClock overrides the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client. An empty baseURL means DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Keypair is an Ed25519 keypair in wire form: base64 DER SPKI for the public
// key and base64 DER PKCS8 for the private key.
type Keypair struct {
	PublicKeyB64  string
	PrivateKeyB64 string
}

// GenerateKeypair creates a fresh agent keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	pubB64, err := crypto.EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}
	privB64, err := crypto.EncodePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKeyB64: pubB64, PrivateKeyB64: privB64}, nil
}

// SignRequest produces the signed headers for a request using a base64
// PKCS8 private key.
func SignRequest(method, path, timestamp, nonce string, body []byte, privateKeyB64 string) (crypto.SignedHeaders, error) {
	priv, err := crypto.DecodePrivateKey(privateKeyB64)
	if err != nil {
		return crypto.SignedHeaders{}, fmt.Errorf("openleash: private key: %w", err)
	}
	return crypto.SignRequest(method, path, timestamp, nonce, body, priv)
}

// SignChallenge signs registration challenge bytes.
func SignChallenge(challengeB64, privateKeyB64 string) (string, error) {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return "", fmt.Errorf("openleash: challenge: %w", err)
	}
	priv, err := crypto.DecodePrivateKey(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("openleash: private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, challenge)), nil
}

// Health fetches the server health document.
func (c *Client) Health(ctx context.Context) (*contracts.HealthResponse, error) {
	var out contracts.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckCompatibility fails when the server's version is not compatible with
// the version this SDK was built at.
func (c *Client) CheckCompatibility(ctx context.Context) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	ok, err := versioning.Compatible(versioning.Current, h.Version)
	if err != nil {
		return fmt.Errorf("openleash: %w", err)
	}
	if !ok {
		return fmt.Errorf("openleash: server version %s is incompatible with client %s", h.Version, versioning.Current)
	}
	return nil
}

// PublicKeys lists the server's signing keys, revoked ones included.
func (c *Client) PublicKeys(ctx context.Context) ([]contracts.PublicKeyInfo, error) {
	var out contracts.PublicKeysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/public-keys", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// RegistrationChallenge asks for a challenge to register an agent key.
func (c *Client) RegistrationChallenge(ctx context.Context, req contracts.RegistrationChallengeRequest) (*contracts.RegistrationChallengeResponse, error) {
	var out contracts.RegistrationChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/agents/registration-challenge", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterAgent completes registration with a signed challenge.
func (c *Client) RegisterAgent(ctx context.Context, req contracts.RegisterAgentRequest) (*contracts.RegisterAgentResponse, error) {
	var out contracts.RegisterAgentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/agents/register", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register runs the whole handshake for agentID under ownerPrincipalID.
func (c *Client) Register(ctx context.Context, agentID, ownerPrincipalID string, kp *Keypair) (*contracts.RegisterAgentResponse, error) {
	ch, err := c.RegistrationChallenge(ctx, contracts.RegistrationChallengeRequest{
		AgentID:           agentID,
		AgentPublicKeyB64: kp.PublicKeyB64,
		OwnerPrincipalID:  ownerPrincipalID,
	})
	if err != nil {
		return nil, err
	}
	sig, err := SignChallenge(ch.ChallengeB64, kp.PrivateKeyB64)
	if err != nil {
		return nil, err
	}
	return c.RegisterAgent(ctx, contracts.RegisterAgentRequest{
		ChallengeID:       ch.ChallengeID,
		AgentID:           agentID,
		AgentPublicKeyB64: kp.PublicKeyB64,
		SignatureB64:      sig,
		OwnerPrincipalID:  ownerPrincipalID,
	})
}

// Authorize sends a signed action request as agentID. A denial is a normal
// response; only transport and request errors are returned as errors.
func (c *Client) Authorize(ctx context.Context, agentID, privateKeyB64 string, action *contracts.ActionRequest) (*contracts.AuthorizeResponse, error) {
	const path = "/v1/authorize"
	body, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("openleash: encode action: %w", err)
	}
	signed, err := SignRequest(http.MethodPost, path, crypto.FormatTimestamp(c.now()), uuid.NewString(), body, privateKeyB64)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set(crypto.HeaderAgentID, agentID)
	hdr.Set(crypto.HeaderTimestamp, signed.Timestamp)
	hdr.Set(crypto.HeaderNonce, signed.Nonce)
	hdr.Set(crypto.HeaderBodySHA256, signed.BodySHA256)
	hdr.Set(crypto.HeaderSignature, signed.Signature)

	var out contracts.AuthorizeResponse
	if err := c.doRaw(ctx, http.MethodPost, path, body, hdr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyProofOnline asks the server to verify a proof token.
func (c *Client) VerifyProofOnline(ctx context.Context, req contracts.VerifyProofRequest) (*contracts.VerifyProofResponse, error) {
	var out contracts.VerifyProofResponse
	if err := c.do(ctx, http.MethodPost, "/v1/verify-proof", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Playground evaluates action against policyYAML without persisting or
// signing anything.
func (c *Client) Playground(ctx context.Context, policyYAML string, action *contracts.ActionRequest) (*authorize.PlaygroundResult, error) {
	var out authorize.PlaygroundResult
	req := contracts.PlaygroundRequest{PolicyYAML: policyYAML, Action: action}
	if err := c.do(ctx, http.MethodPost, "/v1/playground/run", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RotateKey makes a fresh server signing key active. Requires admin access.
func (c *Client) RotateKey(ctx context.Context) (activeKID string, err error) {
	var out struct {
		ActiveKID string `json:"active_kid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/keys/rotate", nil, c.adminHeader(), &out); err != nil {
		return "", err
	}
	return out.ActiveKID, nil
}

func (c *Client) adminHeader() http.Header {
	hdr := http.Header{}
	if c.AdminToken != "" {
		hdr.Set("Authorization", "Bearer "+c.AdminToken)
	}
	return hdr
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("openleash: encode request: %w", err)
		}
		raw = b
	}
	return c.doRaw(ctx, method, path, raw, hdr, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, hdr http.Header, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("openleash: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	resp, err := c.send(req)
	if err != nil {
		return fmt.Errorf("openleash: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Detail == "" && apiErr.Code == "" {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openleash: decode response: %w", err)
	}
	return nil
}

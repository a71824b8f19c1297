package contracts

// Request and response bodies of the public HTTP API, shared by the server
// and the Go client.

type HealthResponse struct {
	Status  string `json:"status"`
	Time    string `json:"time"`
	Version string `json:"version"`
}

type PublicKeysResponse struct {
	Keys []PublicKeyInfo `json:"keys"`
}

type RegistrationChallengeRequest struct {
	AgentID           string         `json:"agent_id"`
	AgentPublicKeyB64 string         `json:"agent_pubkey_b64"`
	OwnerPrincipalID  string         `json:"owner_principal_id,omitempty"`
	Attributes        map[string]any `json:"agent_attributes_json,omitempty"`
}

type RegistrationChallengeResponse struct {
	ChallengeID  string `json:"challenge_id"`
	ChallengeB64 string `json:"challenge_b64"`
	ExpiresAt    string `json:"expires_at"`
}

type RegisterAgentRequest struct {
	ChallengeID       string         `json:"challenge_id"`
	AgentID           string         `json:"agent_id"`
	AgentPublicKeyB64 string         `json:"agent_pubkey_b64"`
	SignatureB64      string         `json:"signature_b64"`
	OwnerPrincipalID  string         `json:"owner_principal_id"`
	Attributes        map[string]any `json:"agent_attributes_json,omitempty"`
}

type RegisterAgentResponse struct {
	AgentPrincipalID string      `json:"agent_principal_id"`
	AgentID          string      `json:"agent_id"`
	OwnerPrincipalID string      `json:"owner_principal_id"`
	Status           AgentStatus `json:"status"`
	CreatedAt        string      `json:"created_at"`
}

// VerifyProofRequest asks the server to check a proof token. The expected
// values are compared only when set.
type VerifyProofRequest struct {
	Token              string `json:"token"`
	ExpectedActionHash string `json:"expected_action_hash,omitempty"`
	ExpectedAgentID    string `json:"expected_agent_id,omitempty"`
}

type VerifyProofResponse struct {
	Valid  bool         `json:"valid"`
	Reason string       `json:"reason,omitempty"`
	Claims *ProofClaims `json:"claims,omitempty"`
}

type PlaygroundRequest struct {
	PolicyYAML string         `json:"policy_yaml"`
	Action     *ActionRequest `json:"action"`
}

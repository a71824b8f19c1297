package contracts

import "time"

type PrincipalType string

const (
	PrincipalHuman PrincipalType = "HUMAN"
	PrincipalOrg   PrincipalType = "ORG"
)

type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "ACTIVE"
	PrincipalSuspended PrincipalStatus = "SUSPENDED"
	PrincipalRevoked   PrincipalStatus = "REVOKED"
)

type AgentStatus string

const (
	AgentActive  AgentStatus = "ACTIVE"
	AgentRevoked AgentStatus = "REVOKED"
)

// Owner is the human or organization an agent acts for.
type Owner struct {
	OwnerPrincipalID string          `json:"owner_principal_id"`
	PrincipalType    PrincipalType   `json:"principal_type"`
	DisplayName      string          `json:"display_name"`
	Status           PrincipalStatus `json:"status"`
	Attributes       map[string]any  `json:"attributes"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Agent is a registered agent bound to an owner and an Ed25519 public key.
// AgentID is the agent's self-chosen external identifier; AgentPrincipalID is
// assigned by the server at registration.
type Agent struct {
	AgentPrincipalID string         `json:"agent_principal_id"`
	AgentID          string         `json:"agent_id"`
	OwnerPrincipalID string         `json:"owner_principal_id"`
	PublicKeyB64     string         `json:"public_key_b64"`
	Status           AgentStatus    `json:"status"`
	Attributes       map[string]any `json:"attributes"`
	CreatedAt        time.Time      `json:"created_at"`
	RevokedAt        *time.Time     `json:"revoked_at"`
}

// PolicyRecord is a stored policy document. The YAML text is the source of
// truth; edits replace it wholesale.
type PolicyRecord struct {
	PolicyID                  string    `json:"policy_id"`
	OwnerPrincipalID          string    `json:"owner_principal_id"`
	AppliesToAgentPrincipalID *string   `json:"applies_to_agent_principal_id"`
	PolicyYAML                string    `json:"policy_yaml"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// Binding attaches a policy to an owner, optionally narrowed to one agent.
type Binding struct {
	OwnerPrincipalID          string  `json:"owner_principal_id"`
	PolicyID                  string  `json:"policy_id"`
	AppliesToAgentPrincipalID *string `json:"applies_to_agent_principal_id"`
}

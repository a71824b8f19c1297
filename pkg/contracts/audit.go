package contracts

// AuditEventType names an audit log entry.
type AuditEventType string

const (
	AuditOwnerCreated         AuditEventType = "OWNER_CREATED"
	AuditAgentChallengeIssued AuditEventType = "AGENT_CHALLENGE_ISSUED"
	AuditAgentRegistered      AuditEventType = "AGENT_REGISTERED"
	AuditAgentRevoked         AuditEventType = "AGENT_REVOKED"
	AuditPolicyUpserted       AuditEventType = "POLICY_UPSERTED"
	AuditPolicyUpdated        AuditEventType = "POLICY_UPDATED"
	AuditPolicyDeleted        AuditEventType = "POLICY_DELETED"
	AuditPolicyUnbound        AuditEventType = "POLICY_UNBOUND"
	AuditAuthorizeCalled      AuditEventType = "AUTHORIZE_CALLED"
	AuditDecisionCreated      AuditEventType = "DECISION_CREATED"
	AuditProofIssued          AuditEventType = "PROOF_ISSUED"
	AuditProofVerified        AuditEventType = "PROOF_VERIFIED"
	AuditPlaygroundRun        AuditEventType = "PLAYGROUND_RUN"
	AuditKeyRotated           AuditEventType = "KEY_ROTATED"
	AuditKeyRevoked           AuditEventType = "KEY_REVOKED"
	AuditServerStarted        AuditEventType = "SERVER_STARTED"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	EventID     string         `json:"event_id"`
	Timestamp   string         `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	PrincipalID *string        `json:"principal_id"`
	ActionID    *string        `json:"action_id"`
	DecisionID  *string        `json:"decision_id"`
	Metadata    map[string]any `json:"metadata_json"`
}

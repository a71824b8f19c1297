package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/registration"
)

const agentColumns = `agent_principal_id, agent_id, owner_principal_id, public_key_b64, status, attributes, created_at, revoked_at`

// RegisterAgent stores a newly registered agent. The owner must exist and
// the external agent id must be unused.
func (s *SQLStore) RegisterAgent(ctx context.Context, in registration.NewAgent) (*contracts.Agent, error) {
	if _, err := s.GetOwner(ctx, in.OwnerPrincipalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("owner %s: %w", in.OwnerPrincipalID, ErrNotFound)
		}
		return nil, err
	}
	existing, err := s.LookupAgentByExternalID(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("agent %s: %w", in.AgentID, ErrConflict)
	}

	attrs := in.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	rawAttrs, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("store: marshal agent attributes: %w", err)
	}
	a := &contracts.Agent{
		AgentPrincipalID: uuid.NewString(),
		AgentID:          in.AgentID,
		OwnerPrincipalID: in.OwnerPrincipalID,
		PublicKeyB64:     in.PublicKeyB64,
		Status:           contracts.AgentActive,
		Attributes:       attrs,
		CreatedAt:        s.now().UTC(),
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		a.AgentPrincipalID, a.AgentID, a.OwnerPrincipalID, a.PublicKeyB64, string(a.Status), string(rawAttrs), formatTime(a.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert agent: %w", err)
	}
	return a, nil
}

// LookupAgentByExternalID returns the agent with the given external id, or
// nil when there is none.
func (s *SQLStore) LookupAgentByExternalID(ctx context.Context, agentID string) (*contracts.Agent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`), agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every agent, oldest first.
func (s *SQLStore) ListAgents(ctx context.Context) ([]*contracts.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at, agent_principal_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	agents := []*contracts.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// RevokeAgent marks an agent revoked; it can no longer authenticate.
func (s *SQLStore) RevokeAgent(ctx context.Context, agentPrincipalID string) error {
	res, err := s.exec(ctx, s.db, `UPDATE agents SET status = ?, revoked_at = ? WHERE agent_principal_id = ?`,
		string(contracts.AgentRevoked), formatTime(s.now()), agentPrincipalID)
	if err != nil {
		return fmt.Errorf("store: revoke agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgent(row scanner) (*contracts.Agent, error) {
	var (
		a         contracts.Agent
		status    string
		attrs     string
		createdAt string
		revokedAt sql.NullString
	)
	if err := row.Scan(&a.AgentPrincipalID, &a.AgentID, &a.OwnerPrincipalID, &a.PublicKeyB64, &status, &attrs, &createdAt, &revokedAt); err != nil {
		return nil, err
	}
	a.Status = contracts.AgentStatus(status)
	a.Attributes = decodeAttributes(attrs)
	a.CreatedAt = parseTime(createdAt)
	a.RevokedAt = parseNullTime(revokedAt)
	return &a, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
)

// NewPolicy is the input to CreatePolicy.
type NewPolicy struct {
	OwnerPrincipalID          string
	AppliesToAgentPrincipalID *string
	PolicyYAML                string
}

const policyColumns = `policy_id, owner_principal_id, applies_to_agent_principal_id, policy_yaml, created_at, updated_at`

// CreatePolicy stores a policy and binds it to its owner (and agent, when
// set) in one transaction. The YAML is stored as given; callers validate it.
func (s *SQLStore) CreatePolicy(ctx context.Context, in NewPolicy) (*contracts.PolicyRecord, error) {
	p := s.newPolicyRecord(in)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertPolicy(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLStore) newPolicyRecord(in NewPolicy) *contracts.PolicyRecord {
	now := s.now().UTC()
	return &contracts.PolicyRecord{
		PolicyID:                  uuid.NewString(),
		OwnerPrincipalID:          in.OwnerPrincipalID,
		AppliesToAgentPrincipalID: in.AppliesToAgentPrincipalID,
		PolicyYAML:                in.PolicyYAML,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

func (s *SQLStore) insertPolicy(ctx context.Context, q execer, p *contracts.PolicyRecord) error {
	if _, err := s.exec(ctx, q, `INSERT INTO policies (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.PolicyID, p.OwnerPrincipalID, nullString(p.AppliesToAgentPrincipalID), p.PolicyYAML, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
		return fmt.Errorf("store: insert policy: %w", err)
	}
	if _, err := s.exec(ctx, q, `INSERT INTO bindings (owner_principal_id, policy_id, applies_to_agent_principal_id) VALUES (?, ?, ?)`,
		p.OwnerPrincipalID, p.PolicyID, nullString(p.AppliesToAgentPrincipalID)); err != nil {
		return fmt.Errorf("store: insert binding: %w", err)
	}
	return nil
}

// GetPolicy returns the policy or ErrNotFound.
func (s *SQLStore) GetPolicy(ctx context.Context, policyID string) (*contracts.PolicyRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+policyColumns+` FROM policies WHERE policy_id = ?`), policyID)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get policy: %w", err)
	}
	return p, nil
}

// ListPolicies returns every policy, oldest first.
func (s *SQLStore) ListPolicies(ctx context.Context) ([]*contracts.PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY created_at, policy_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	policies := []*contracts.PolicyRecord{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpdatePolicy replaces the policy's YAML.
func (s *SQLStore) UpdatePolicy(ctx context.Context, policyID, policyYAML string) (*contracts.PolicyRecord, error) {
	res, err := s.exec(ctx, s.db, `UPDATE policies SET policy_yaml = ?, updated_at = ? WHERE policy_id = ?`,
		policyYAML, formatTime(s.now()), policyID)
	if err != nil {
		return nil, fmt.Errorf("store: update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetPolicy(ctx, policyID)
}

// DeletePolicy removes the policy and every binding that references it.
func (s *SQLStore) DeletePolicy(ctx context.Context, policyID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `DELETE FROM policies WHERE policy_id = ?`, policyID)
		if err != nil {
			return fmt.Errorf("store: delete policy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM bindings WHERE policy_id = ?`, policyID); err != nil {
			return fmt.Errorf("store: delete bindings: %w", err)
		}
		return nil
	})
}

// UnbindPolicy removes the policy's bindings, only those of ownerID when it
// is non-empty, and reports how many were removed.
func (s *SQLStore) UnbindPolicy(ctx context.Context, policyID, ownerID string) (int, error) {
	if _, err := s.GetPolicy(ctx, policyID); err != nil {
		return 0, err
	}
	var (
		res sql.Result
		err error
	)
	if ownerID != "" {
		res, err = s.exec(ctx, s.db, `DELETE FROM bindings WHERE policy_id = ? AND owner_principal_id = ?`, policyID, ownerID)
	} else {
		res, err = s.exec(ctx, s.db, `DELETE FROM bindings WHERE policy_id = ?`, policyID)
	}
	if err != nil {
		return 0, fmt.Errorf("store: unbind policy: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListBindings returns every binding in creation order.
func (s *SQLStore) ListBindings(ctx context.Context) ([]contracts.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_principal_id, policy_id, applies_to_agent_principal_id FROM bindings ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("store: list bindings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.Binding{}
	for rows.Next() {
		var (
			b     contracts.Binding
			agent sql.NullString
		)
		if err := rows.Scan(&b.OwnerPrincipalID, &b.PolicyID, &agent); err != nil {
			return nil, err
		}
		b.AppliesToAgentPrincipalID = stringPtr(agent)
		out = append(out, b)
	}
	return out, rows.Err()
}

// LookupBoundPolicy finds the policy that governs an agent: a binding to the
// agent itself wins over an owner-wide binding. Among equals the oldest
// binding wins. Returns nil when nothing is bound.
func (s *SQLStore) LookupBoundPolicy(ctx context.Context, ownerID, agentPrincipalID string) (*contracts.PolicyRecord, error) {
	query := `SELECT p.policy_id, p.owner_principal_id, p.applies_to_agent_principal_id, p.policy_yaml, p.created_at, p.updated_at
		FROM bindings b JOIN policies p ON p.policy_id = b.policy_id
		WHERE b.applies_to_agent_principal_id = ?
		   OR (b.applies_to_agent_principal_id IS NULL AND b.owner_principal_id = ?)
		ORDER BY CASE WHEN b.applies_to_agent_principal_id IS NULL THEN 1 ELSE 0 END, b.seq
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, s.rebind(query), agentPrincipalID, ownerID)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup bound policy: %w", err)
	}
	return p, nil
}

func scanPolicy(row scanner) (*contracts.PolicyRecord, error) {
	var (
		p         contracts.PolicyRecord
		agent     sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&p.PolicyID, &p.OwnerPrincipalID, &agent, &p.PolicyYAML, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.AppliesToAgentPrincipalID = stringPtr(agent)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openleash/openleash/pkg/contracts"
)

// NewOwner is the input to CreateOwner.
type NewOwner struct {
	PrincipalType contracts.PrincipalType
	DisplayName   string
	Attributes    map[string]any
}

// CreateOwner inserts an active owner with a fresh id.
func (s *SQLStore) CreateOwner(ctx context.Context, in NewOwner) (*contracts.Owner, error) {
	return s.insertOwner(ctx, s.db, in)
}

func (s *SQLStore) insertOwner(ctx context.Context, q execer, in NewOwner) (*contracts.Owner, error) {
	if in.Attributes == nil {
		in.Attributes = map[string]any{}
	}
	attrs, err := json.Marshal(in.Attributes)
	if err != nil {
		return nil, fmt.Errorf("store: marshal owner attributes: %w", err)
	}
	o := &contracts.Owner{
		OwnerPrincipalID: uuid.NewString(),
		PrincipalType:    in.PrincipalType,
		DisplayName:      in.DisplayName,
		Status:           contracts.PrincipalActive,
		Attributes:       in.Attributes,
		CreatedAt:        s.now().UTC(),
	}
	_, err = s.exec(ctx, q, `INSERT INTO owners (owner_principal_id, principal_type, display_name, status, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.OwnerPrincipalID, string(o.PrincipalType), o.DisplayName, string(o.Status), string(attrs), formatTime(o.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert owner: %w", err)
	}
	return o, nil
}

const ownerColumns = `owner_principal_id, principal_type, display_name, status, attributes, created_at`

// GetOwner returns the owner or ErrNotFound.
func (s *SQLStore) GetOwner(ctx context.Context, id string) (*contracts.Owner, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ownerColumns+` FROM owners WHERE owner_principal_id = ?`), id)
	o, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// ListOwners returns every owner, oldest first.
func (s *SQLStore) ListOwners(ctx context.Context) ([]*contracts.Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ownerColumns+` FROM owners ORDER BY created_at, owner_principal_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	owners := []*contracts.Owner{}
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOwner(row scanner) (*contracts.Owner, error) {
	var (
		o         contracts.Owner
		ptype     string
		status    string
		attrs     string
		createdAt string
	)
	if err := row.Scan(&o.OwnerPrincipalID, &ptype, &o.DisplayName, &status, &attrs, &createdAt); err != nil {
		return nil, err
	}
	o.PrincipalType = contracts.PrincipalType(ptype)
	o.Status = contracts.PrincipalStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.Attributes = decodeAttributes(attrs)
	return &o, nil
}

func decodeAttributes(raw string) map[string]any {
	out := map[string]any{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}

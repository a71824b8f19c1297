package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
)

var _ crypto.KeySource = (*SQLStore)(nil)

const keyColumns = `kid, public_key_b64, private_key_b64, created_at, revoked_at`

// AddServerKey stores a key; when activate is set it becomes the signing key.
func (s *SQLStore) AddServerKey(ctx context.Context, key contracts.ServerKey, activate bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertKey(ctx, tx, key, activate)
	})
}

func (s *SQLStore) insertKey(ctx context.Context, q execer, key contracts.ServerKey, activate bool) error {
	pub, err := crypto.EncodePublicKey(key.PublicKey)
	if err != nil {
		return err
	}
	priv, err := crypto.EncodePrivateKey(key.PrivateKey)
	if err != nil {
		return err
	}
	var revoked sql.NullString
	if key.RevokedAt != nil {
		revoked = sql.NullString{String: formatTime(*key.RevokedAt), Valid: true}
	}
	if _, err := s.exec(ctx, q, `INSERT INTO server_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?)`,
		key.KID, pub, priv, formatTime(key.CreatedAt), revoked); err != nil {
		return fmt.Errorf("store: insert key: %w", err)
	}
	if activate {
		return s.setMeta(ctx, q, metaActiveKID, key.KID)
	}
	return nil
}

// RotateKey generates a new key and makes it active. Previous keys keep
// verifying until revoked.
func (s *SQLStore) RotateKey(ctx context.Context) (contracts.ServerKey, error) {
	key, err := crypto.GenerateServerKey(s.now())
	if err != nil {
		return contracts.ServerKey{}, err
	}
	if err := s.AddServerKey(ctx, key, true); err != nil {
		return contracts.ServerKey{}, err
	}
	return key, nil
}

// RevokeKey takes a key out of verification. The active key cannot be
// revoked; rotate first.
func (s *SQLStore) RevokeKey(ctx context.Context, kid string) error {
	active, _, err := s.getMeta(ctx, metaActiveKID)
	if err != nil {
		return err
	}
	if kid == active {
		return fmt.Errorf("store: key %s is active: %w", kid, ErrConflict)
	}
	res, err := s.exec(ctx, s.db, `UPDATE server_keys SET revoked_at = ? WHERE kid = ? AND revoked_at IS NULL`, formatTime(s.now()), kid)
	if err != nil {
		return fmt.Errorf("store: revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveSigningKey returns the active key.
func (s *SQLStore) ActiveSigningKey(ctx context.Context) (contracts.ServerKey, error) {
	kid, ok, err := s.getMeta(ctx, metaActiveKID)
	if err != nil {
		return contracts.ServerKey{}, err
	}
	if !ok {
		return contracts.ServerKey{}, crypto.ErrNoActiveKey
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+keyColumns+` FROM server_keys WHERE kid = ?`), kid)
	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ServerKey{}, crypto.ErrNoActiveKey
	}
	if err != nil {
		return contracts.ServerKey{}, err
	}
	if key.Revoked() {
		return contracts.ServerKey{}, crypto.ErrNoActiveKey
	}
	return key, nil
}

// AllVerificationKeys returns every non-revoked key, newest first.
func (s *SQLStore) AllVerificationKeys(ctx context.Context) ([]contracts.ServerKey, error) {
	return s.listKeys(ctx, `SELECT `+keyColumns+` FROM server_keys WHERE revoked_at IS NULL ORDER BY created_at DESC, kid`)
}

// ListServerKeys returns every key including revoked ones, oldest first.
func (s *SQLStore) ListServerKeys(ctx context.Context) ([]contracts.ServerKey, error) {
	return s.listKeys(ctx, `SELECT `+keyColumns+` FROM server_keys ORDER BY created_at, kid`)
}

// ActiveKID returns the active key id, or "" when none is set.
func (s *SQLStore) ActiveKID(ctx context.Context) (string, error) {
	kid, _, err := s.getMeta(ctx, metaActiveKID)
	return kid, err
}

func (s *SQLStore) listKeys(ctx context.Context, query string) ([]contracts.ServerKey, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []contracts.ServerKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanKey(row scanner) (contracts.ServerKey, error) {
	var (
		kid, pubB64, privB64, createdAt string
		revokedAt                       sql.NullString
	)
	if err := row.Scan(&kid, &pubB64, &privB64, &createdAt, &revokedAt); err != nil {
		return contracts.ServerKey{}, err
	}
	pub, err := crypto.DecodePublicKey(pubB64)
	if err != nil {
		return contracts.ServerKey{}, fmt.Errorf("store: key %s: %w", kid, err)
	}
	priv, err := crypto.DecodePrivateKey(privB64)
	if err != nil {
		return contracts.ServerKey{}, fmt.Errorf("store: key %s: %w", kid, err)
	}
	return contracts.ServerKey{
		KID:        kid,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  parseTime(createdAt),
		RevokedAt:  parseNullTime(revokedAt),
	}, nil
}

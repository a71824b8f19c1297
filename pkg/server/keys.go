package server

import (
	"context"
	"fmt"

	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/store"
)

// Rotation is the outcome of RotateKey.
type Rotation struct {
	ActiveKID   string `json:"active_kid"`
	PreviousKID string `json:"previous_kid"`
}

// RotateKey makes a fresh signing key active and audits KEY_ROTATED. The
// previous key stays valid for verification until revoked.
func RotateKey(ctx context.Context, st *store.SQLStore, recorder audit.Recorder) (*Rotation, error) {
	previous, err := st.ActiveKID(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotate key: %w", err)
	}
	key, err := st.RotateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotate key: %w", err)
	}
	_ = recorder.Record(ctx, contracts.AuditKeyRotated, map[string]any{
		"kid":          key.KID,
		"previous_kid": previous,
	}, audit.Refs{})
	return &Rotation{ActiveKID: key.KID, PreviousKID: previous}, nil
}

// RevokeKey takes kid out of verification and audits KEY_REVOKED.
func RevokeKey(ctx context.Context, st *store.SQLStore, recorder audit.Recorder, kid string) error {
	if err := st.RevokeKey(ctx, kid); err != nil {
		return fmt.Errorf("revoke key %s: %w", kid, err)
	}
	_ = recorder.Record(ctx, contracts.AuditKeyRevoked, map[string]any{"kid": kid}, audit.Refs{})
	return nil
}

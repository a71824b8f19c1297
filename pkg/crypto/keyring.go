package crypto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openleash/openleash/pkg/contracts"
)

// ErrNoActiveKey is returned when no signing key is available.
var ErrNoActiveKey = errors.New("crypto: no active signing key")

// KeySource supplies proof keys: one active key for signing and every
// non-revoked key for verification.
type KeySource interface {
	ActiveSigningKey(ctx context.Context) (contracts.ServerKey, error)
	AllVerificationKeys(ctx context.Context) ([]contracts.ServerKey, error)
}

// KeyRing is an in-memory KeySource with rotation support.
type KeyRing struct {
	mu     sync.RWMutex
	keys   map[string]contracts.ServerKey
	active string
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]contracts.ServerKey)}
}

// AddKey adds a key. The first key added becomes active.
func (k *KeyRing) AddKey(key contracts.ServerKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.KID] = key
	if k.active == "" && !key.Revoked() && key.PrivateKey != nil {
		k.active = key.KID
	}
}

// SetActive selects the signing key.
func (k *KeyRing) SetActive(kid string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[kid]
	if !ok {
		return fmt.Errorf("crypto: unknown key %s", kid)
	}
	if key.Revoked() || key.PrivateKey == nil {
		return fmt.Errorf("crypto: key %s cannot sign", kid)
	}
	k.active = kid
	return nil
}

// Rotate generates a new key and makes it active. Older keys stay
// available for verification.
func (k *KeyRing) Rotate(now time.Time) (contracts.ServerKey, error) {
	key, err := GenerateServerKey(now)
	if err != nil {
		return contracts.ServerKey{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.KID] = key
	k.active = key.KID
	return key, nil
}

// RevokeKey marks a key revoked. A revoked key neither signs nor verifies.
func (k *KeyRing) RevokeKey(kid string, now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[kid]
	if !ok {
		return
	}
	t := now.UTC()
	key.RevokedAt = &t
	k.keys[kid] = key
	if k.active == kid {
		k.active = ""
	}
}

// ActiveKID returns the kid of the signing key, or "".
func (k *KeyRing) ActiveKID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *KeyRing) ActiveSigningKey(_ context.Context) (contracts.ServerKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[k.active]
	if !ok {
		return contracts.ServerKey{}, ErrNoActiveKey
	}
	return key, nil
}

// AllVerificationKeys returns non-revoked keys, newest first.
func (k *KeyRing) AllVerificationKeys(_ context.Context) ([]contracts.ServerKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]contracts.ServerKey, 0, len(k.keys))
	for _, key := range k.keys {
		if !key.Revoked() {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KID < out[j].KID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

var _ KeySource = (*KeyRing)(nil)

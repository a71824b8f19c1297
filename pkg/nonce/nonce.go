// Package nonce provides replay protection for signed agent requests.
//
// A nonce is accepted once per agent within its TTL. Uniqueness is scoped per
// agent: two agents may use the same nonce value independently.
package nonce

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultTTL           = 600 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

// Store records nonces.
type Store interface {
	// Check returns true and records the nonce the first time (agentID, nonce)
	// is seen while unexpired, and false on any repeat within the TTL.
	Check(ctx context.Context, agentID, nonce string) (bool, error)
}

// MemoryStore is an in-process Store. Check-and-insert happens under a
// single lock so concurrent requests with the same nonce cannot both pass.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // agent:nonce -> expiry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates a store with the given TTL (DefaultTTL if zero).
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// key length-prefixes the agent id so no (agent, nonce) pair can collide
// with another when either part contains the separator.
func key(agentID, nonce string) string {
	return strconv.Itoa(len(agentID)) + ":" + agentID + ":" + nonce
}

func (s *MemoryStore) Check(_ context.Context, agentID, nonce string) (bool, error) {
	now := s.now()
	k := key(agentID, nonce)

	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[k]; ok && now.Before(exp) {
		return false, nil
	}
	s.entries[k] = now.Add(s.ttl)
	return true, nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked nonces.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("nonce sweep", "removed", n)
			}
		}
	}
}

package registration

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Challenge is an issued registration challenge.
type Challenge struct {
	ChallengeID       string
	Bytes             []byte
	AgentID           string
	AgentPublicKeyB64 string
	OwnerPrincipalID  string
	Attributes        map[string]any
	ExpiresAt         time.Time
}

// ChallengeStore holds outstanding challenges in memory.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	now        func() time.Time
	logger     *slog.Logger
}

// NewChallengeStore creates an empty store. A nil clock means time.Now.
func NewChallengeStore(now func() time.Time) *ChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{
		challenges: make(map[string]Challenge),
		now:        now,
		logger:     slog.Default().With("component", "registration"),
	}
}

func (s *ChallengeStore) put(c Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ChallengeID] = c
}

// take removes and returns a live challenge. Expired challenges are removed
// and reported as such.
func (s *ChallengeStore) take(id string) (Challenge, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return Challenge{}, newError(CodeChallengeNotFound, "challenge not found")
	}
	delete(s.challenges, id)
	if s.now().After(c.ExpiresAt) {
		return Challenge{}, newError(CodeChallengeExpired, "challenge has expired")
	}
	return c, nil
}

// Len reports the number of outstanding challenges.
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// Sweep removes expired challenges and reports how many were removed.
func (s *ChallengeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *ChallengeStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("challenge sweep", "removed", n)
			}
		}
	}
}

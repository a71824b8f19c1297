package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStore_Replay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	ok, err := s.Check(ctx, "agentX", "nonceY")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(ctx, "agentX", "nonceY")
	require.NoError(t, err)
	assert.False(t, ok, "replay must be rejected")

	ok, err = s.Check(ctx, "agentZ", "nonceY")
	require.NoError(t, err)
	assert.True(t, ok, "nonces are scoped per agent")

	ok, err = s.Check(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Check(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, ok, "separator inside agent id or nonce must not alias another pair")
}

func TestMemoryStore_ExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(10*time.Second, WithClock(clock.Now))

	ok, _ := s.Check(ctx, "a", "n")
	require.True(t, ok)

	clock.Advance(9 * time.Second)
	ok, _ = s.Check(ctx, "a", "n")
	assert.False(t, ok, "still within ttl")

	clock.Advance(time.Second)
	ok, _ = s.Check(ctx, "a", "n")
	assert.True(t, ok, "accepted again once expired")

	_, _ = s.Check(ctx, "b", "n")
	clock.Advance(11 * time.Second)
	assert.Equal(t, 2, s.Sweep(clock.Now()))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ConcurrentCheckIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Check(ctx, "agent", "same"); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(time.Second, WithClock(clock.Now))
	_, _ = s.Check(context.Background(), "a", "n")
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisStore_Replay(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, 30*time.Second)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	ok, err := s.Check(ctx, "agentX", "nonceY")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(ctx, "agentX", "nonceY")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Check(ctx, "agentZ", "nonceY")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Check(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 30*time.Second, mr.TTL("openleash:nonce:6:agentX:nonceY"))
	mr.FastForward(31 * time.Second)

	ok, err = s.Check(ctx, "agentX", "nonceY")
	require.NoError(t, err)
	assert.True(t, ok, "expired nonce is accepted again")
}

func TestRedisStore_ErrorsWhenUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedisStore(client, time.Minute)
	mr.Close()

	_, err = s.Check(context.Background(), "a", "n")
	assert.Error(t, err)
}

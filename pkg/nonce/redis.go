package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across processes. Each nonce is a key
// written with SET NX EX, so the insert is atomic and Redis expires it.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, prefix: "openleash:nonce:"}
}

// NewRedisStoreFromAddr dials a single Redis node.
func NewRedisStoreFromAddr(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(rdb, ttl)
}

func (s *RedisStore) Check(ctx context.Context, agentID, nonce string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key(agentID, nonce), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce: redis setnx: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("nonce: redis ping: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled; Redis expires keys itself.
func (s *RedisStore) Run(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore tracks failed login attempts per (email, client ip) in
// Redis so that brute-force attempts lock out before password verification
// is even attempted.
type RedisLockoutStore struct {
	client      redis.UniversalClient
	maxAttempts int
	window      time.Duration
}

// NewRedisLockoutStore constructs a Redis-backed lockout store.
func NewRedisLockoutStore(client redis.UniversalClient, maxAttempts int, window time.Duration) *RedisLockoutStore {
	return &RedisLockoutStore{client: client, maxAttempts: maxAttempts, window: window}
}

func (s *RedisLockoutStore) key(email, ip string) string {
	return fmt.Sprintf("auth:lockout:%s:%s", email, ip)
}

// Locked reports whether the caller has exhausted its failure budget. A nil
// store or disabled budget never locks.
func (s *RedisLockoutStore) Locked(ctx context.Context, email, ip string) (bool, error) {
	if s == nil || s.maxAttempts <= 0 {
		return false, nil
	}
	count, err := s.client.Get(ctx, s.key(email, ip)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load lockout counter: %w", err)
	}
	return count >= s.maxAttempts, nil
}

// RecordFailure bumps the failure counter, starting the lockout window on
// the first failure.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, email, ip string) error {
	if s == nil || s.maxAttempts <= 0 {
		return nil
	}
	key := s.key(email, ip)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("bump lockout counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.window).Err(); err != nil {
			return fmt.Errorf("set lockout window: %w", err)
		}
	}
	return nil
}

// Reset clears the failure counter after a successful login.
func (s *RedisLockoutStore) Reset(ctx context.Context, email, ip string) error {
	if s == nil || s.maxAttempts <= 0 {
		return nil
	}
	if err := s.client.Del(ctx, s.key(email, ip)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("reset lockout counter: %w", err)
	}
	return nil
}

// Package redisstore provides Redis-backed implementations of outbound
// ports for multi-instance deployments.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pace-erp/pace-gate/internal/domain/ratelimit"
)

// CounterStore implements ratelimit.CounterStore on Redis so that rate-limit
// windows are shared across process instances.
//
// The window is approximated with INCR plus an expiry set on the first
// increment: the key's TTL bounds the window, and expiry resets the count.
type CounterStore struct {
	client *redis.Client
}

// NewCounterStore wraps an existing Redis client.
func NewCounterStore(client *redis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Increment advances the counter for key and returns the post-increment
// count.
func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count, nil
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)

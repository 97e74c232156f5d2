package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker reports whether the rate-limit Redis backend is reachable.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker wraps a Redis client in a checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck issues a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

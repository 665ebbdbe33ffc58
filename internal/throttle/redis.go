// ABOUTME: Redis-backed fixed window limiter shared across gateway replicas
// ABOUTME: Counts attempts with INCR and bounds each key's life with EXPIRE

package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter counts attempts per key in Redis. Every attempt renews the
// key's expiry, so a key stays locked until it has been quiet for a window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	cfg = cfg.withDefaults()
	return &RedisLimiter{
		client: client,
		limit:  cfg.Attempts,
		window: cfg.Window,
		prefix: cfg.Prefix,
	}
}

func (r *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// Allow charges one attempt against key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, r.key(key))
	pipe.Expire(ctx, r.key(key), r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(r.limit), nil
}

// Remaining returns how many attempts key has left in the current window.
func (r *RedisLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := r.client.Get(ctx, r.key(key)).Int()
	if err == redis.Nil {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	if remaining := r.limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset clears the counter for key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

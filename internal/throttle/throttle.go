// ABOUTME: Limiter interface and shared configuration for attempt throttling
// ABOUTME: New picks the memory or Redis backend from Config

package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Defaults applied when Config leaves fields unset.
const (
	DefaultAttempts = 5
	DefaultWindow   = time.Minute
	DefaultMaxKeys  = 10000
	DefaultPrefix   = "gatekeeper:throttle"
)

// ErrUnknownBackend is returned by New for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown throttle backend")

// Limiter decides whether another attempt for key is allowed right now.
type Limiter interface {
	// Allow charges one attempt against key. When the backend fails the
	// attempt is allowed and the error is returned alongside true.
	Allow(ctx context.Context, key string) (bool, error)
	// Remaining reports how many attempts key has left without charging one.
	Remaining(ctx context.Context, key string) (int, error)
	// Reset forgets all attempts recorded for key.
	Reset(ctx context.Context, key string) error
}

// Config sizes a Limiter: Attempts per Window for each key.
type Config struct {
	Backend   string
	Attempts  int
	Window    time.Duration
	MaxKeys   int
	RedisAddr string
	Prefix    string
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	return c
}

// New builds the Limiter named by cfg.Backend. An empty backend means memory.
func New(cfg Config) (Limiter, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryLimiter(cfg), nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis throttle backend requires an address")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisLimiter(client, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

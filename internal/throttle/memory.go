// ABOUTME: In-process token bucket limiter keyed by string
// ABOUTME: Buckets live in an expiring LRU so idle keys are dropped

package throttle

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// MemoryLimiter allows Attempts per Window for each key using a token bucket
// that refills evenly across the window.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter holding at most cfg.MaxKeys buckets.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		buckets: lru.NewLRU[string, *rate.Limiter](cfg.MaxKeys, nil, cfg.Window),
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Attempts)),
		burst:   cfg.Attempts,
		now:     time.Now,
	}
}

// Allow charges one attempt against key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(m.limit, m.burst)
		m.buckets.Add(key, bucket)
	}
	return bucket.AllowN(m.now(), 1), nil
}

// Remaining reports how many whole attempts key's bucket holds. Keys without
// a bucket have the full burst.
func (m *MemoryLimiter) Remaining(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets.Peek(key)
	if !ok {
		return m.burst, nil
	}
	tokens := int(bucket.TokensAt(m.now()))
	if tokens < 0 {
		return 0, nil
	}
	return tokens, nil
}

// Reset drops the bucket for key.
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets.Remove(key)
	return nil
}

// Len reports how many keys currently hold a bucket. The gateway exports it
// as a gauge.
func (m *MemoryLimiter) Len() int {
	return m.buckets.Len()
}

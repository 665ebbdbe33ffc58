// Package throttle limits repeated attempts per key.
//
// The gateway uses it to slow down credential guessing on the login endpoint:
// every attempt is charged against the submitted login key and the client IP,
// and the request is refused with 429 once either budget is exhausted.
//
// Two backends implement Limiter:
//
//   - MemoryLimiter keeps a token bucket (golang.org/x/time/rate) per key in a
//     size-bounded LRU whose entries expire after one window. Suitable for a
//     single gateway process.
//   - RedisLimiter counts attempts in Redis with INCR and EXPIRE so several
//     gateway replicas share one budget.
//
// Both fail open: a backend error allows the attempt and is returned so the
// caller can log it.
package throttle

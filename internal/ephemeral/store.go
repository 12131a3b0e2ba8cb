// internal/ephemeral/store.go
// Key-value contract with TTL used for rate limits, idempotency,
// revocation and presence. RedisStore is shared across processes,
// LocalStore is the single-process fallback.

package ephemeral

import (
	"context"
	"time"
)

// Store is implemented by LocalStore and RedisStore.
// A zero ttl means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

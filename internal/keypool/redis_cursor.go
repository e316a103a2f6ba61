package keypool

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	core "github.com/forgefleet/orchestrator/internal/core/service"
)

// RedisCursorStore backs CursorStore with a shared Redis INCR counter so
// that multiple orchestrator processes drawing from the same pool rotate
// consistently instead of each keeping an independent local cursor.
type RedisCursorStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCursorStore wraps an existing client. keyPrefix namespaces the
// counters this store owns, e.g. "orchestrator:keypool:cursor:".
func NewRedisCursorStore(client *redis.Client, keyPrefix string) *RedisCursorStore {
	if keyPrefix == "" {
		keyPrefix = "orchestrator:keypool:cursor:"
	}
	return &RedisCursorStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCursorStore) key(poolName string) string {
	return r.keyPrefix + poolName
}

// advanceRetry bounds the transient-failure retries one cursor advance may
// spend before the acquisition is reported failed.
var advanceRetry = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// Advance atomically increments poolName's shared counter and returns the
// result modulo size.
func (r *RedisCursorStore) Advance(ctx context.Context, poolName string, size int) (int, error) {
	if size <= 0 {
		return 0, nil
	}
	var n int64
	err := core.Retry(ctx, advanceRetry, func() error {
		var err error
		n, err = r.client.Incr(ctx, r.key(poolName)).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("keypool: redis cursor advance for %q: %w", poolName, err)
	}
	return int(n % int64(size)), nil
}

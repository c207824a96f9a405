// Package dedup provides an optional at-most-once guard in front of the
// command service's sinks. CDL's transports only promise at-least-once
// delivery (spec.md §4.A), and every sink already tolerates redelivery via
// an idempotent object_id+timestamp upsert — dedup exists purely to skip
// redundant sink writes on the hot redelivery path, never to replace that
// guarantee. Off by default; enabled via config.DedupEnabled.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Table reports whether a delivery has already been handled, marking it
// seen atomically on first sight.
type Table interface {
	// SeenBefore returns true if key was already marked within the
	// window, and otherwise marks it seen and returns false.
	SeenBefore(ctx context.Context, key string) (bool, error)
}

// RedisTable guards against redelivery using Redis SETNX: the first
// caller to SETNX a key wins and proceeds, every subsequent caller within
// ttl is told the delivery was already seen.
type RedisTable struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTable wraps an established go-redis client. ttl bounds how
// long a delivery is remembered — long enough to absorb typical broker
// redelivery windows, short enough not to grow unbounded.
func NewRedisTable(client *redis.Client, ttl time.Duration) *RedisTable {
	return &RedisTable{client: client, ttl: ttl}
}

func (t *RedisTable) SeenBefore(ctx context.Context, key string) (bool, error) {
	ok, err := t.client.SetNX(ctx, "cdl:dedup:"+key, 1, t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: setnx %s: %w", key, err)
	}
	return !ok, nil
}

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *RedisTable {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTable(client, time.Minute)
}

func TestRedisTableFirstSightIsNotSeen(t *testing.T) {
	table := newTestTable(t)
	seen, err := table.SeenBefore(context.Background(), "schema-a:object-1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisTableRedeliverySeen(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	_, err := table.SeenBefore(ctx, "schema-a:object-1")
	require.NoError(t, err)

	seen, err := table.SeenBefore(ctx, "schema-a:object-1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRedisTableDistinctKeysIndependent(t *testing.T) {
	table := newTestTable(t)
	ctx := context.Background()

	_, err := table.SeenBefore(ctx, "schema-a:object-1")
	require.NoError(t, err)

	seen, err := table.SeenBefore(ctx, "schema-a:object-2")
	require.NoError(t, err)
	require.False(t, seen)
}

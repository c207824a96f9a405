package transport

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAckQueueCommitsInOrderEvenWhenAckedOutOfOrder(t *testing.T) {
	q := NewAckQueue()
	q.Track(0)
	q.Track(1)
	q.Track(2)

	var order []uint64
	var mu sync.Mutex
	commit := func(n uint64) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	// Ack 2 and 1 first; neither should commit since 0 hasn't acked.
	require.NoError(t, q.Ack(context.Background(), 2, commit(2)))
	require.NoError(t, q.Ack(context.Background(), 1, commit(1)))
	require.Empty(t, order)
	require.Equal(t, 3, q.Pending())

	// Acking 0 should now flush 0, 1, 2 in order.
	require.NoError(t, q.Ack(context.Background(), 0, commit(0)))
	require.Equal(t, []uint64{0, 1, 2}, order)
	require.Equal(t, 0, q.Pending())
	require.Equal(t, uint64(2), q.Committed())
}

func TestAckQueueNilCommitStillAdvancesPrefix(t *testing.T) {
	q := NewAckQueue()
	q.Track(0)
	q.Track(1)

	var ran bool
	require.NoError(t, q.Ack(context.Background(), 0, nil))
	require.NoError(t, q.Ack(context.Background(), 1, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
	require.Equal(t, uint64(1), q.Committed())
}

func TestAckQueuePropagatesFirstError(t *testing.T) {
	q := NewAckQueue()
	q.Track(0)
	q.Track(1)

	boom := errDummy{}
	require.NoError(t, q.Ack(context.Background(), 1, func(context.Context) error { return nil }))
	err := q.Ack(context.Background(), 0, func(context.Context) error { return boom })
	require.Equal(t, boom, err)
}

type errDummy struct{}

func (errDummy) Error() string { return "dummy error" }

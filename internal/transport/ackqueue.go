package transport

import (
	"container/heap"
	"context"
	"sync"
)

// AckQueue commits actions for a single partition only once every prior
// action on that partition has itself become ready to commit — a
// contiguous-prefix ack. This lets the parallel consumer process
// messages for one partition key out of order (whichever worker
// finishes first) while the partition's underlying broker ack/nack
// calls still reach the broker in the same order the messages arrived,
// so a slow message never lets a later one on the same key get acked
// first.
type AckQueue struct {
	mu        sync.Mutex
	pending   offsetHeap
	ready     map[uint64]func(context.Context) error
	committed uint64 // highest contiguous offset committed so far
}

// NewAckQueue creates an empty AckQueue.
func NewAckQueue() *AckQueue {
	return &AckQueue{ready: make(map[uint64]func(context.Context) error)}
}

// Track registers offset as in-flight, before the message it names is
// handed to a worker. Offsets must be tracked in non-decreasing order
// per partition.
func (q *AckQueue) Track(offset uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.pending, offset)
}

// Ack marks offset ready to commit via commit, and runs every
// contiguous-ready commit starting from the lowest still-pending
// offset, in order. commit may be nil (e.g. a nacked message that
// still needs to vacate the queue so later offsets aren't blocked
// behind it forever); it is simply skipped. Returns the first error
// any commit call returned, if any, after running them all.
func (q *AckQueue) Ack(ctx context.Context, offset uint64, commit func(context.Context) error) error {
	q.mu.Lock()
	q.ready[offset] = commit

	var firstErr error
	for q.pending.Len() > 0 {
		next := q.pending[0]
		fn, ok := q.ready[next]
		if !ok {
			break
		}
		heap.Pop(&q.pending)
		delete(q.ready, next)
		q.committed = next
		if fn != nil {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	q.mu.Unlock()

	return firstErr
}

// Committed returns the highest contiguous offset committed so far.
func (q *AckQueue) Committed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committed
}

// Pending returns the number of offsets still awaiting commit.
func (q *AckQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// offsetHeap is a min-heap of pending offsets.
type offsetHeap []uint64

func (h offsetHeap) Len() int            { return len(h) }
func (h offsetHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h offsetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *offsetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

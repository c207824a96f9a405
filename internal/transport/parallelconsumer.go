package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// errConsumerClosed is returned by Run when the inner consumer's message
// channel closes without any in-flight handler having already failed —
// an unexpected condition distinct from a normal ctx-cancelled shutdown.
var errConsumerClosed = errors.New("transport: consumer message channel closed")

// ParallelConsumer wraps any Consumer with a bounded pool of concurrent
// handlers (sized by TaskLimit) and a per-partition-key AckQueue: the
// handler for one message may start before an earlier message on a
// different key has finished, but the broker ack/nack for messages
// sharing a key still commits in the order those messages arrived.
type ParallelConsumer struct {
	inner     Consumer
	taskLimit int
	log       *slog.Logger

	mu     sync.Mutex
	queues map[string]*AckQueue
	next   map[string]uint64
}

// NewParallelConsumer wraps inner. taskLimit bounds how many handle
// calls run concurrently across all partition keys; values <= 0 are
// clamped to 1 (fully serial).
func NewParallelConsumer(inner Consumer, taskLimit int, log *slog.Logger) *ParallelConsumer {
	if taskLimit <= 0 {
		taskLimit = 1
	}
	return &ParallelConsumer{
		inner:     inner,
		taskLimit: taskLimit,
		log:       log,
		queues:    make(map[string]*AckQueue),
		next:      make(map[string]uint64),
	}
}

// Run reads messages from inner and calls handle once per message, with
// at most taskLimit calls in flight at a time. handle acks/nacks msg
// exactly as it would if called directly — Run only gates when that
// ack/nack physically reaches the broker, never whether it happens, so
// existing handle implementations (command.MessageRouter.Handle,
// router.Router.Handle) need no changes to run under it. Run returns
// nil once ctx is cancelled (a normal shutdown), or once the message
// channel closes or the consumer's error stream fires — in the latter
// two cases returning the first non-nil error any handle call or the
// consumer itself produced. In every case Run waits for all in-flight
// handle calls to finish before returning.
func (pc *ParallelConsumer) Run(ctx context.Context, handle func(context.Context, Message) error) error {
	sem := make(chan struct{}, pc.taskLimit)
	var wg sync.WaitGroup

	var errMu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil

		case msg, ok := <-pc.inner.Messages():
			if !ok {
				wg.Wait()
				if firstErr == nil {
					firstErr = errConsumerClosed
				}
				return firstErr
			}
			wrapped := pc.wrap(msg)

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return nil
			}

			wg.Add(1)
			go func(m Message) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := handle(ctx, m); err != nil {
					pc.log.Error("transport: parallel consumer handler failed", "error", err)
					recordErr(err)
				}
			}(wrapped)

		case err := <-pc.inner.Errs():
			wg.Wait()
			return err
		}
	}
}

// wrap returns msg with its Ack/Nack replaced by queue-gated versions.
func (pc *ParallelConsumer) wrap(msg Message) Message {
	queue, seq := pc.track(msg.Key)
	realAck, realNack := msg.Ack, msg.Nack
	return NewMessage(msg.Key, msg.Payload, msg.Timestamp,
		func(ctx context.Context) error { return queue.Ack(ctx, seq, realAck) },
		func(ctx context.Context) error { return queue.Ack(ctx, seq, realNack) },
	)
}

func (pc *ParallelConsumer) track(key string) (*AckQueue, uint64) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	q, ok := pc.queues[key]
	if !ok {
		q = NewAckQueue()
		pc.queues[key] = q
	}
	seq := pc.next[key]
	pc.next[key] = seq + 1
	q.Track(seq)
	return q, seq
}

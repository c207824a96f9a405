package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes to a Redis Stream per destination via XADD,
// generalizing evalgo-org-eve's go-redis queue client from a list-based
// job queue to the Streams API the spec's at-least-once contract needs.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an established go-redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, destination, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: destination,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redistransport: xadd %s: %w", destination, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// RedisConsumer reads a stream via a consumer group, acking each delivery
// tag independently with XACK (queue-based backends ack per-message, not
// per-partition, per spec.md §4.A).
type RedisConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	msgs     chan Message
	errs     chan error
	cancel   context.CancelFunc
}

// NewRedisConsumer creates the consumer group if absent and begins
// reading new messages via XREADGROUP.
func NewRedisConsumer(ctx context.Context, client *redis.Client, stream, group, consumer string, batchSize int64) (*RedisConsumer, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		var busyErr error
		// BUSYGROUP means the group already exists, which is fine.
		if !isBusyGroup(err) {
			busyErr = err
		}
		if busyErr != nil {
			return nil, fmt.Errorf("redistransport: create group %s/%s: %w", stream, group, busyErr)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &RedisConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		msgs:     make(chan Message, batchSize),
		errs:     make(chan error, 1),
		cancel:   cancel,
	}
	go c.pump(cctx, batchSize)
	return c, nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (c *RedisConsumer) pump(ctx context.Context, batchSize int64) {
	defer close(c.msgs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    batchSize,
			Block:    pollTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			select {
			case c.errs <- fmt.Errorf("redistransport: xreadgroup: %w", err):
			default:
			}
			return
		}

		for _, str := range streams {
			for _, entry := range str.Messages {
				id := entry.ID
				key, _ := entry.Values["key"].(string)
				payload, _ := entry.Values["payload"].(string)
				msg := NewMessage(key, []byte(payload), timeNow(),
					func(ackCtx context.Context) error {
						return c.client.XAck(ackCtx, c.stream, c.group, id).Err()
					},
					func(context.Context) error {
						// leaving the delivery unacked lets the broker
						// redeliver it to another consumer via XCLAIM/XAUTOCLAIM.
						return nil
					},
				)
				select {
				case c.msgs <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (c *RedisConsumer) Messages() <-chan Message { return c.msgs }
func (c *RedisConsumer) Errs() <-chan error        { return c.errs }
func (c *RedisConsumer) Close() error {
	c.cancel()
	return nil
}

// waitFor is a small helper so callers can bound connection setup the way
// the teacher's NewQueue pings Redis before returning.
func waitFor(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// Package transport unifies NATS JetStream, Redis Streams, and gRPC
// bidirectional streaming behind one publish/consume/ack contract, the
// way pkg/natsutil unified NATS alone in the teacher.
package transport

import (
	"context"
	"time"
)

// Message is a single transport delivery: a partition key, its payload,
// the time it was produced, and an ack callback.
type Message struct {
	Key       string
	Payload   []byte
	Timestamp time.Time

	// ack is called by the consumer harness once processing succeeds.
	// nack redelivers (or, for queue backends, leaves the delivery
	// unacked so the broker redelivers it).
	ack  func(context.Context) error
	nack func(context.Context) error
}

// Ack acknowledges successful processing of the message.
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Nack signals failed processing; the transport redelivers the message.
func (m *Message) Nack(ctx context.Context) error {
	if m.nack == nil {
		return nil
	}
	return m.nack(ctx)
}

// NewMessage constructs a Message with explicit ack/nack hooks. Used by
// backend implementations (natstransport, redistransport, grpctransport).
func NewMessage(key string, payload []byte, ts time.Time, ack, nack func(context.Context) error) Message {
	return Message{Key: key, Payload: payload, Timestamp: ts, ack: ack, nack: nack}
}

// Publisher publishes a payload to a destination, keyed for ordering.
type Publisher interface {
	Publish(ctx context.Context, destination, key string, payload []byte) error
	Close() error
}

// Consumer yields a stream of Messages from a source. Messages arrive on
// the returned channel; closing ctx or calling Close drains in-flight
// work and stops delivery.
type Consumer interface {
	Messages() <-chan Message
	// Errs surfaces fatal consumer errors (e.g. a dropped subscription).
	Errs() <-chan error
	Close() error
}

package transport

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier,
// generalizing pkg/natsutil's carrier to the shared transport contract.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATSPublisher publishes to a JetStream stream, one subject per
// destination, with the order-group/empty key carried as a header so
// consumers can recover it.
type NATSPublisher struct {
	js nats.JetStreamContext
}

// NewNATSPublisher wraps an established JetStream context.
func NewNATSPublisher(js nats.JetStreamContext) *NATSPublisher {
	return &NATSPublisher{js: js}
}

const keyHeader = "CDL-Key"

func (p *NATSPublisher) Publish(ctx context.Context, destination, key string, payload []byte) error {
	msg := &nats.Msg{Subject: destination, Data: payload, Header: make(nats.Header)}
	msg.Header.Set(keyHeader, key)
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	_, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("natstransport: publish to %s: %w", destination, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error { return nil }

// NATSConsumer pulls from a durable JetStream consumer and acks/nacks
// using the underlying nats.Msg's Ack/Nak, per message rather than per
// partition offset, since JetStream already tracks per-message redelivery.
type NATSConsumer struct {
	sub    *nats.Subscription
	msgs   chan Message
	errs   chan error
	cancel context.CancelFunc
}

// NewNATSConsumer starts pulling messages from a durable pull consumer
// bound to subject.
func NewNATSConsumer(ctx context.Context, js nats.JetStreamContext, subject, durable string, batchSize int) (*NATSConsumer, error) {
	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("natstransport: pull subscribe %s: %w", subject, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &NATSConsumer{
		sub:    sub,
		msgs:   make(chan Message, batchSize),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go c.pump(cctx, batchSize)
	return c, nil
}

func (c *NATSConsumer) pump(ctx context.Context, batchSize int) {
	defer close(c.msgs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(batchSize, nats.MaxWait(pollTimeout))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			select {
			case c.errs <- fmt.Errorf("natstransport: fetch: %w", err):
			default:
			}
			return
		}

		for _, m := range msgs {
			tcCtx := otel.GetTextMapPropagator().Extract(ctx, (*natsHeaderCarrier)(m))
			key := m.Header.Get(keyHeader)
			mm := m
			msg := NewMessage(key, mm.Data, timeNow(),
				func(ackCtx context.Context) error { return mm.Ack(nats.Context(ackCtx)) },
				func(nackCtx context.Context) error { return mm.Nak(nats.Context(nackCtx)) },
			)
			_ = tcCtx
			select {
			case c.msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *NATSConsumer) Messages() <-chan Message { return c.msgs }
func (c *NATSConsumer) Errs() <-chan error        { return c.errs }
func (c *NATSConsumer) Close() error {
	c.cancel()
	return c.sub.Unsubscribe()
}

// Package router implements the Data Router: it parses inbound insert
// messages (single or batched), resolves each entry's destination via the
// static routing table or the registry cache, rewrites each into a
// BorrowedInsertMessage, and republishes — acking only once every entry
// in the message has published successfully.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/registrycache"
	"github.com/commondatalayer/cdl/internal/transport"
)

// RoutingTable resolves a static repository_id override to a publish
// destination, configured out-of-band (deployment glue, not core).
type RoutingTable interface {
	Lookup(repositoryID uuid.UUID) (destination string, ok bool)
}

// Router parses and republishes Data Router inserts.
type Router struct {
	gate      *ordergate.Gate
	cache     *registrycache.Cache
	table     RoutingTable
	publisher transport.Publisher
	log       *slog.Logger
}

// New creates a Router.
func New(gate *ordergate.Gate, cache *registrycache.Cache, table RoutingTable, publisher transport.Publisher, log *slog.Logger) *Router {
	return &Router{gate: gate, cache: cache, table: table, publisher: publisher, log: log}
}

// ParseErr marks an error as a parse/format failure: fatal for the
// message (acked and logged, never retried), per spec.md §7.
type ParseErr struct{ Err error }

func (e *ParseErr) Error() string { return fmt.Sprintf("router: parse: %v", e.Err) }
func (e *ParseErr) Unwrap() error { return e.Err }

// Handle processes one transport message: parses its payload as either a
// single DataRouterInsert or a JSON array of them, resolves and
// republishes each entry in order under one order-group permit, and acks
// only once every entry has published.
func (r *Router) Handle(ctx context.Context, msg transport.Message) error {
	return r.gate.Do(ctx, msg.Key, func(ctx context.Context) error {
		inserts, err := parsePayload(msg.Payload)
		if err != nil {
			r.log.Error("router: malformed payload, dropping", "error", err)
			return msg.Ack(ctx) // parse errors are fatal for the message, not retried
		}

		for _, ins := range inserts {
			if err := r.routeOne(ctx, ins, msg.Key); err != nil {
				r.log.Warn("router: publish failed, nacking for redelivery", "error", err, "object_id", ins.ObjectID)
				_ = msg.Nack(ctx)
				return err
			}
		}
		return msg.Ack(ctx)
	})
}

// parsePayload accepts either a single DataRouterInsert object or a JSON
// array of them, preserving array order.
func parsePayload(payload []byte) ([]cdl.DataRouterInsert, error) {
	trimmed := skipWhitespace(payload)
	if len(trimmed) == 0 {
		return nil, &ParseErr{Err: fmt.Errorf("empty payload")}
	}

	if trimmed[0] == '[' {
		var batch []cdl.DataRouterInsert
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, &ParseErr{Err: err}
		}
		return batch, nil
	}

	var single cdl.DataRouterInsert
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, &ParseErr{Err: err}
	}
	return []cdl.DataRouterInsert{single}, nil
}

func skipWhitespace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// DestinationErr marks an error resolving a destination: bubbles up to a
// nack/redelivery, per spec.md §4.D.
type DestinationErr struct{ Err error }

func (e *DestinationErr) Error() string { return fmt.Sprintf("router: resolve destination: %v", e.Err) }
func (e *DestinationErr) Unwrap() error { return e.Err }

// routeOne republishes ins under key, the inbound message's own key.
func (r *Router) routeOne(ctx context.Context, ins cdl.DataRouterInsert, key string) error {
	destination, err := r.resolveDestination(ctx, ins)
	if err != nil {
		return &DestinationErr{Err: err}
	}

	out := cdl.BorrowedInsertMessage{
		ObjectID:  ins.ObjectID,
		SchemaID:  ins.SchemaID,
		Timestamp: cdl.NowMillis(),
		Data:      ins.Data,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return &ParseErr{Err: err}
	}

	if err := r.publisher.Publish(ctx, destination, key, payload); err != nil {
		return fmt.Errorf("router: publish: %w", err)
	}
	return nil
}

func (r *Router) resolveDestination(ctx context.Context, ins cdl.DataRouterInsert) (string, error) {
	if ins.Options.RepositoryID != nil {
		dest, ok := r.table.Lookup(*ins.Options.RepositoryID)
		if !ok {
			return "", fmt.Errorf("unknown repository_id %s", *ins.Options.RepositoryID)
		}
		return dest, nil
	}

	meta, err := r.cache.Get(ctx, ins.SchemaID)
	if err != nil {
		return "", fmt.Errorf("resolve schema %s: %w", ins.SchemaID, err)
	}
	return meta.InsertDestination, nil
}

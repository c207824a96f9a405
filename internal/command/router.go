package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/command/dedup"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/transport"
)

// MessageRouter dispatches each transport message to a single
// OutputPlugin, reporting non-Success resolutions and acking the
// message iff the plugin returned without panicking.
type MessageRouter struct {
	plugin   OutputPlugin
	reporter Reporter
	gate     *ordergate.Gate
	ordered  bool // ordered queues go through the gate; unordered do not
	dedup    dedup.Table
	log      *slog.Logger
}

// New creates a MessageRouter. ordered selects whether messages are
// serialized per order-group key via the gate, per spec.md §4.E.
func New(plugin OutputPlugin, reporter Reporter, gate *ordergate.Gate, ordered bool, log *slog.Logger) *MessageRouter {
	return &MessageRouter{plugin: plugin, reporter: reporter, gate: gate, ordered: ordered, log: log}
}

// WithDedup attaches an optional redelivery guard; table is consulted
// before every plugin call when non-nil.
func (mr *MessageRouter) WithDedup(table dedup.Table) *MessageRouter {
	mr.dedup = table
	return mr
}

// Handle processes one transport message carrying a BorrowedInsertMessage.
func (mr *MessageRouter) Handle(ctx context.Context, msg transport.Message) error {
	if mr.ordered {
		return mr.gate.Do(ctx, msg.Key, func(ctx context.Context) error {
			return mr.dispatch(ctx, msg)
		})
	}
	return mr.dispatch(ctx, msg)
}

func (mr *MessageRouter) dispatch(ctx context.Context, msg transport.Message) (dispatchErr error) {
	var ins cdl.BorrowedInsertMessage
	if err := json.Unmarshal(msg.Payload, &ins); err != nil {
		mr.log.Error("command: malformed payload, dropping", "error", err)
		return msg.Ack(ctx)
	}

	if mr.dedup != nil {
		seen, err := mr.dedup.SeenBefore(ctx, fmt.Sprintf("%s:%d", ins.ObjectID, ins.Timestamp))
		if err != nil {
			mr.log.Error("command: dedup check failed, processing anyway", "error", err)
		} else if seen {
			mr.log.Debug("command: duplicate delivery dropped", "object_id", ins.ObjectID)
			return msg.Ack(ctx)
		}
	}

	resolution, panicked := mr.callPlugin(ctx, ins)
	if panicked {
		// Plugin panic is not acked — the message is redelivered.
		return fmt.Errorf("command: plugin %s panicked handling object %s", mr.plugin.Name(), ins.ObjectID)
	}

	if !cdl.IsSuccess(resolution) {
		if err := mr.reporter.Report(ctx, reportFor(ins, resolution)); err != nil {
			// Reporter failure surfaces as an error that triggers redelivery.
			return fmt.Errorf("command: report: %w", err)
		}
	}

	return msg.Ack(ctx)
}

func (mr *MessageRouter) callPlugin(ctx context.Context, ins cdl.BorrowedInsertMessage) (resolution cdl.Resolution, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			mr.log.Error("command: plugin panic recovered", "plugin", mr.plugin.Name(), "panic", fmt.Sprintf("%v", r))
		}
	}()
	return mr.plugin.Handle(ctx, ins), false
}

func reportFor(ins cdl.BorrowedInsertMessage, resolution cdl.Resolution) Report {
	rep := Report{
		Context:  "command-service",
		SchemaID: ins.SchemaID,
		ObjectID: ins.ObjectID,
		Payload:  ins.Data,
	}
	switch v := resolution.(type) {
	case cdl.StorageLayerFailure:
		rep.Description = v.Description
	case cdl.UserFailure:
		rep.Description = v.Description
		rep.Context = v.Context
	case cdl.CommandServiceFailure:
		rep.Description = "internal command service failure"
	default:
		rep.Description = "unknown non-success resolution"
	}
	return rep
}

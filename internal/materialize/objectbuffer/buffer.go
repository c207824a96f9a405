// Package objectbuffer is the streaming join buffer of spec.md §4.H: it
// consumes resolved objects in arrival order and emits each plan Row
// exactly once, as soon as every object it requires has arrived. Each
// arrival is handled as it comes in rather than as a fixed batch, so
// unlike rowbuilder's field evaluation there is no independent work set
// to hand to internal/fn's parallel helpers here.
package objectbuffer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/materialize/viewplan"
)

// CompletedRow is a fully resolved Row, ready for the row builder.
type CompletedRow struct {
	Objects map[cdl.LocalID]json.RawMessage
	Arrays  map[string]*viewplan.ArrayGroup
}

// Buffer owns exactly one materialization request's Plan; it is never
// shared across requests and is dropped, un-drained, when its context is
// cancelled, per spec.md §5's documented partial-result policy.
type Buffer struct {
	plan    *viewplan.Plan
	rows    chan CompletedRow
	emitted []bool
	log     *slog.Logger
}

// NewBuffer creates a Buffer over plan. Rows() must be drained
// concurrently with Feed() or Feed will block once the channel fills.
func NewBuffer(plan *viewplan.Plan, log *slog.Logger) *Buffer {
	return &Buffer{
		plan:    plan,
		rows:    make(chan CompletedRow, len(plan.Rows)),
		emitted: make([]bool, len(plan.Rows)),
		log:     log,
	}
}

// Rows yields completed rows in completion order, not arrival order.
func (b *Buffer) Rows() <-chan CompletedRow { return b.rows }

// Close closes the emission channel; call once Feed will not be called
// again (e.g. after every expected object key has arrived or been timed
// out upstream).
func (b *Buffer) Close() { close(b.rows) }

// Feed delivers one resolved object. If key matches no outstanding
// requirement, it is treated as a single-object row source only when the
// plan has no rows at all — otherwise it is logged and dropped, whether
// or not the view declares relations.
func (b *Buffer) Feed(ctx context.Context, key cdl.ObjectKey, data json.RawMessage) error {
	reqs, ok := b.plan.Missing[key]
	if !ok {
		return b.feedUnmatched(ctx, key, data)
	}

	rowsToEmit := make(map[int]bool)
	for _, req := range reqs {
		if b.emitted[req.RowIndex] {
			continue
		}
		row := b.plan.Rows[req.RowIndex]
		if storeObject(row, req.Path, req.LocalID, data) {
			row.Missing--
			if row.Missing == 0 {
				rowsToEmit[req.RowIndex] = true
			}
		}
	}

	for idx := range rowsToEmit {
		b.emit(ctx, idx)
	}
	return nil
}

func (b *Buffer) feedUnmatched(ctx context.Context, key cdl.ObjectKey, data json.RawMessage) error {
	if len(b.plan.Rows) != 0 {
		b.log.Warn("objectbuffer: dropping unmatched arrival", "schema_id", key.SchemaID, "object_id", key.ObjectID)
		return nil
	}
	// No rows in this plan: treat as an ad hoc single-object row.
	row := &viewplan.Row{RootKey: key, Objects: map[cdl.LocalID]json.RawMessage{cdl.BaseLocalID: data}}
	b.emitted = append(b.emitted, false)
	idx := len(b.plan.Rows)
	b.plan.Rows = append(b.plan.Rows, row)
	b.emit(ctx, idx)
	return nil
}

func (b *Buffer) emit(ctx context.Context, idx int) {
	if b.emitted[idx] {
		return
	}
	b.emitted[idx] = true
	row := b.plan.Rows[idx]
	select {
	case b.rows <- CompletedRow{Objects: row.Objects, Arrays: row.Arrays}:
	case <-ctx.Done():
	}
}

// storeObject writes data into the Objects map addressed by path and
// localID, descending through nested Array groups. Returns false if the
// path no longer resolves (e.g. a stale requirement after the row was
// already emitted via another branch).
func storeObject(row *viewplan.Row, path []viewplan.PathStep, localID cdl.LocalID, data json.RawMessage) bool {
	objects := row.Objects
	arrays := row.Arrays
	for _, step := range path {
		group, ok := arrays[step.ArrayField]
		if !ok || step.ElemIndex >= len(group.Elements) {
			return false
		}
		elem := group.Elements[step.ElemIndex]
		objects = elem.Objects
		arrays = elem.Arrays
	}
	objects[localID] = data
	return true
}

package objectbuffer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/materialize/viewplan"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBufferEmitsWhenSingleRequirementArrives(t *testing.T) {
	baseSchema := uuid.New()
	objID := uuid.New()
	key := cdl.ObjectKey{SchemaID: baseSchema, ObjectID: objID}

	row := &viewplan.Row{RootKey: key, Objects: map[cdl.LocalID]json.RawMessage{}, Missing: 1}
	plan := &viewplan.Plan{
		Rows:    []*viewplan.Row{row},
		Missing: map[cdl.ObjectKey][]viewplan.Requirement{key: {{RowIndex: 0, LocalID: cdl.BaseLocalID}}},
	}

	buf := NewBuffer(plan, testLogger())
	ctx := context.Background()

	require.NoError(t, buf.Feed(ctx, key, json.RawMessage(`{"name":"a"}`)))

	select {
	case completed := <-buf.Rows():
		require.Equal(t, json.RawMessage(`{"name":"a"}`), completed.Objects[cdl.BaseLocalID])
	default:
		t.Fatal("expected a completed row to be emitted")
	}
}

func TestBufferWaitsForAllRequirements(t *testing.T) {
	baseSchema, childSchema := uuid.New(), uuid.New()
	rootID, childID := uuid.New(), uuid.New()
	rootKey := cdl.ObjectKey{SchemaID: baseSchema, ObjectID: rootID}
	childKey := cdl.ObjectKey{SchemaID: childSchema, ObjectID: childID}

	row := &viewplan.Row{RootKey: rootKey, Objects: map[cdl.LocalID]json.RawMessage{}, Missing: 2}
	plan := &viewplan.Plan{
		Rows: []*viewplan.Row{row},
		Missing: map[cdl.ObjectKey][]viewplan.Requirement{
			rootKey:  {{RowIndex: 0, LocalID: cdl.BaseLocalID}},
			childKey: {{RowIndex: 0, LocalID: 1}},
		},
	}

	buf := NewBuffer(plan, testLogger())
	ctx := context.Background()

	require.NoError(t, buf.Feed(ctx, rootKey, json.RawMessage(`{}`)))
	select {
	case <-buf.Rows():
		t.Fatal("row must not emit before every requirement arrives")
	default:
	}

	require.NoError(t, buf.Feed(ctx, childKey, json.RawMessage(`{}`)))
	select {
	case <-buf.Rows():
	default:
		t.Fatal("row must emit once its last requirement arrives")
	}
}

func TestBufferRowEmittedAtMostOnce(t *testing.T) {
	baseSchema := uuid.New()
	objID := uuid.New()
	key := cdl.ObjectKey{SchemaID: baseSchema, ObjectID: objID}

	row := &viewplan.Row{RootKey: key, Objects: map[cdl.LocalID]json.RawMessage{}, Missing: 1}
	plan := &viewplan.Plan{
		Rows:    []*viewplan.Row{row},
		Missing: map[cdl.ObjectKey][]viewplan.Requirement{key: {{RowIndex: 0, LocalID: cdl.BaseLocalID}}},
	}

	buf := NewBuffer(plan, testLogger())
	ctx := context.Background()
	require.NoError(t, buf.Feed(ctx, key, json.RawMessage(`{}`)))
	<-buf.Rows()

	require.NoError(t, buf.Feed(ctx, key, json.RawMessage(`{}`)))
	select {
	case <-buf.Rows():
		t.Fatal("a row must never be emitted twice")
	default:
	}
}

func TestBufferUnmatchedArrivalBuildsSingleRowWhenNoRelations(t *testing.T) {
	plan := &viewplan.Plan{Missing: map[cdl.ObjectKey][]viewplan.Requirement{}}
	buf := NewBuffer(plan, testLogger())
	ctx := context.Background()

	key := cdl.ObjectKey{SchemaID: uuid.New(), ObjectID: uuid.New()}
	// The plan has no rows, so the channel has no capacity: Feed blocks
	// until the ad hoc row is received, and Rows is drained concurrently.
	fed := make(chan error, 1)
	go func() { fed <- buf.Feed(ctx, key, json.RawMessage(`{"a":1}`)) }()

	select {
	case completed := <-buf.Rows():
		require.Equal(t, json.RawMessage(`{"a":1}`), completed.Objects[cdl.BaseLocalID])
	case <-time.After(time.Second):
		t.Fatal("expected an ad hoc row for an unmatched arrival on a relation-less plan")
	}
	require.NoError(t, <-fed)
}

package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/registrycache"
	"github.com/commondatalayer/cdl/internal/transport"
)

type staticFetcher struct{ meta cdl.SchemaMetadata }

func (f staticFetcher) Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error) {
	return f.meta, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	fail bool
}

type published struct {
	destination, key string
	payload          []byte
}

func (p *recordingPublisher) Publish(ctx context.Context, destination, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errPublishFailed
	}
	p.sent = append(p.sent, published{destination, key, payload})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var errPublishFailed = &publishErr{}

type publishErr struct{}

func (e *publishErr) Error() string { return "publish failed" }

type emptyTable struct{}

func (emptyTable) Lookup(uuid.UUID) (string, bool) { return "", false }

func newRouter(t *testing.T, schemaID uuid.UUID, dest string, pub *recordingPublisher) *Router {
	fetcher := staticFetcher{meta: cdl.SchemaMetadata{ID: schemaID, InsertDestination: dest}}
	cache := registrycache.New(100, time.Minute, fetcher)
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(ordergate.New(), cache, emptyTable{}, pub, log)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func ackNackMessage(payload []byte, key string) (transport.Message, *bool, *bool) {
	acked, nacked := new(bool), new(bool)
	msg := transport.NewMessage(key, payload, time.Now(),
		func(context.Context) error { *acked = true; return nil },
		func(context.Context) error { *nacked = true; return nil },
	)
	return msg, acked, nacked
}

func TestRouterSingleMessagePublishesAndAcks(t *testing.T) {
	schemaID := uuid.New()
	objectID := uuid.New()
	pub := &recordingPublisher{}
	r := newRouter(t, schemaID, "documents.widgets", pub)

	ins := cdl.DataRouterInsert{ObjectID: objectID, SchemaID: schemaID, Data: json.RawMessage(`{"x":1}`)}
	payload, err := json.Marshal(ins)
	require.NoError(t, err)

	msg, acked, nacked := ackNackMessage(payload, "")
	err = r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked)
	require.False(t, *nacked)

	require.Len(t, pub.sent, 1)
	require.Equal(t, "documents.widgets", pub.sent[0].destination)

	var out cdl.BorrowedInsertMessage
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &out))
	require.Equal(t, objectID, out.ObjectID)
	require.Equal(t, schemaID, out.SchemaID)
}

func TestRouterBatchPreservesOrder(t *testing.T) {
	schemaID := uuid.New()
	pub := &recordingPublisher{}
	r := newRouter(t, schemaID, "documents.widgets", pub)

	var ids []uuid.UUID
	batch := make([]cdl.DataRouterInsert, 5)
	for i := range batch {
		id := uuid.New()
		ids = append(ids, id)
		batch[i] = cdl.DataRouterInsert{ObjectID: id, SchemaID: schemaID, Data: json.RawMessage(`{}`)}
	}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	msg, acked, _ := ackNackMessage(payload, "group-1")
	require.NoError(t, r.Handle(context.Background(), msg))
	require.True(t, *acked)

	require.Len(t, pub.sent, 5)
	for i, p := range pub.sent {
		var out cdl.BorrowedInsertMessage
		require.NoError(t, json.Unmarshal(p.payload, &out))
		require.Equal(t, ids[i], out.ObjectID, "batch entries must publish in array order")
		require.Equal(t, "group-1", p.key)
	}
}

func TestRouterMalformedPayloadAcksWithoutPublishing(t *testing.T) {
	schemaID := uuid.New()
	pub := &recordingPublisher{}
	r := newRouter(t, schemaID, "documents.widgets", pub)

	msg, acked, nacked := ackNackMessage([]byte(`not json`), "")
	err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, *acked, "parse failures are fatal for the message and must still be acked")
	require.False(t, *nacked)
	require.Empty(t, pub.sent)
}

func TestRouterPublishFailureNacksWholeMessage(t *testing.T) {
	schemaID := uuid.New()
	pub := &recordingPublisher{fail: true}
	r := newRouter(t, schemaID, "documents.widgets", pub)

	ins := cdl.DataRouterInsert{ObjectID: uuid.New(), SchemaID: schemaID, Data: json.RawMessage(`{}`)}
	payload, err := json.Marshal(ins)
	require.NoError(t, err)

	msg, acked, nacked := ackNackMessage(payload, "")
	err = r.Handle(context.Background(), msg)
	require.Error(t, err)
	require.False(t, *acked)
	require.True(t, *nacked)
}

package objectbuilder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/commondatalayer/cdl/internal/cdl"
)

type fakeViewStore map[uuid.UUID]cdl.ViewDefinition

func (s fakeViewStore) Get(viewID uuid.UUID) (cdl.ViewDefinition, bool) {
	v, ok := s[viewID]
	return v, ok
}

type fakeSchemaResolver map[uuid.UUID]cdl.SchemaMetadata

func (s fakeSchemaResolver) Get(_ context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error) {
	return s[schemaID], nil
}

type fakeEdgeResolver struct {
	resp cdl.TreeResponse
}

func (f fakeEdgeResolver) ResolveTree(_ context.Context, _ []cdl.TreeQuery, _ []uuid.UUID) (cdl.TreeResponse, error) {
	return f.resp, nil
}

type fakeObjectFetcher map[uuid.UUID][]byte

func (f fakeObjectFetcher) QueryMultiple(_ context.Context, objectIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	out := make(map[uuid.UUID][]byte)
	for _, id := range objectIDs {
		if raw, ok := f[id]; ok {
			out[id] = raw
		}
	}
	return out, nil
}

type fakeQueryResolver map[string]ObjectFetcher

func (f fakeQueryResolver) Get(addr string) (ObjectFetcher, error) {
	return f[addr], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamViewNoRelationsSingleChunk(t *testing.T) {
	viewID := uuid.New()
	baseSchemaID := uuid.New()
	objectID := uuid.New()

	view := cdl.ViewDefinition{
		ID:           viewID,
		BaseSchemaID: baseSchemaID,
		Fields: map[string]cdl.FieldDef{
			"name": cdl.SimpleField{SourceFieldName: "name"},
		},
	}

	views := fakeViewStore{viewID: view}
	schemas := fakeSchemaResolver{baseSchemaID: cdl.SchemaMetadata{ID: baseSchemaID, QueryAddress: "query:base"}}
	edges := fakeEdgeResolver{}
	queries := fakeQueryResolver{
		"query:base": fakeObjectFetcher{
			objectID: json.RawMessage(`{"object_id":"` + objectID.String() + `","name":"widget"}`),
		},
	}

	b := New(views, schemas, edges, queries, 10, discardLogger())

	chunks := make(chan cdl.MaterializedView, 4)
	err := b.StreamView(context.Background(), viewID, []uuid.UUID{objectID}, chunks)
	require.NoError(t, err)
	close(chunks)

	var all []cdl.MaterializedView
	for c := range chunks {
		all = append(all, c)
	}
	require.Len(t, all, 1)
	require.Len(t, all[0].Rows, 1)
	require.JSONEq(t, `"widget"`, string(all[0].Rows[0].Fields["name"]))
}

func TestStreamViewUnknownViewErrors(t *testing.T) {
	b := New(fakeViewStore{}, fakeSchemaResolver{}, fakeEdgeResolver{}, fakeQueryResolver{}, 10, discardLogger())
	chunks := make(chan cdl.MaterializedView, 1)
	err := b.StreamView(context.Background(), uuid.New(), nil, chunks)
	require.Error(t, err)
}

func TestStreamViewChunksRespectSize(t *testing.T) {
	viewID := uuid.New()
	baseSchemaID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	view := cdl.ViewDefinition{
		ID:           viewID,
		BaseSchemaID: baseSchemaID,
		Fields: map[string]cdl.FieldDef{
			"name": cdl.SimpleField{SourceFieldName: "name"},
		},
	}

	fetcher := fakeObjectFetcher{}
	for _, id := range ids {
		fetcher[id] = json.RawMessage(`{"object_id":"` + id.String() + `","name":"x"}`)
	}

	views := fakeViewStore{viewID: view}
	schemas := fakeSchemaResolver{baseSchemaID: cdl.SchemaMetadata{ID: baseSchemaID, QueryAddress: "query:base"}}
	queries := fakeQueryResolver{"query:base": fetcher}

	b := New(views, schemas, fakeEdgeResolver{}, queries, 2, discardLogger())

	chunks := make(chan cdl.MaterializedView, 4)
	err := b.StreamView(context.Background(), viewID, ids, chunks)
	require.NoError(t, err)
	close(chunks)

	totalRows := 0
	chunkCount := 0
	for c := range chunks {
		chunkCount++
		totalRows += len(c.Rows)
		require.LessOrEqual(t, len(c.Rows), 2)
	}
	require.Equal(t, 3, totalRows)
	require.Equal(t, 2, chunkCount)
}

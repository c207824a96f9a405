package objectbuilder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/commondatalayer/cdl/internal/cdl"
	"github.com/commondatalayer/cdl/internal/materialize/objectbuffer"
	"github.com/commondatalayer/cdl/internal/materialize/rowbuilder"
	"github.com/commondatalayer/cdl/internal/materialize/viewplan"
)

// SchemaResolver resolves a schema_id to its registry metadata —
// satisfied directly by *registrycache.Cache.
type SchemaResolver interface {
	Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error)
}

// EdgeResolver resolves a relation tree against the object graph —
// satisfied directly by *rpc.EdgeRegistryClient.
type EdgeResolver interface {
	ResolveTree(ctx context.Context, relations []cdl.TreeQuery, filterIDs []uuid.UUID) (cdl.TreeResponse, error)
}

// ObjectFetcher looks up a batch of objects by id against one schema's
// QueryAddress — satisfied directly by *rpc.QueryServiceClient.
type ObjectFetcher interface {
	QueryMultiple(ctx context.Context, objectIDs []uuid.UUID) (map[uuid.UUID][]byte, error)
}

// QueryResolver dials (or reuses) the ObjectFetcher behind a schema's
// QueryAddress — satisfied directly by *QueryPool.
type QueryResolver interface {
	Get(addr string) (ObjectFetcher, error)
}

// Builder runs the Object Builder's materialization pipeline: view plan
// builder, object buffer, row builder, chunked into MaterializedView
// batches for the Materializer RPC's StreamView to forward. Implements
// rpc.MaterializerServer.
type Builder struct {
	views     ViewStore
	schemas   SchemaResolver
	edges     EdgeResolver
	queries   QueryResolver
	chunkSize int
	log       *slog.Logger
}

// New creates a Builder. chunkSize bounds how many rows accumulate into
// one MaterializedView before it is sent to the caller.
func New(views ViewStore, schemas SchemaResolver, edges EdgeResolver, queries QueryResolver, chunkSize int, log *slog.Logger) *Builder {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Builder{views: views, schemas: schemas, edges: edges, queries: queries, chunkSize: chunkSize, log: log}
}

// Heartbeat reports liveness; the pipeline has no external dependency to
// probe beyond the process itself being up.
func (b *Builder) Heartbeat(ctx context.Context) error { return nil }

// StreamView runs one view's full materialization pipeline and writes
// every resulting chunk onto chunks, closing neither chunks (the
// rpc handler owns it) nor returning until the view is fully drained or
// ctx is cancelled.
func (b *Builder) StreamView(ctx context.Context, viewID uuid.UUID, filterIDs []uuid.UUID, chunks chan<- cdl.MaterializedView) error {
	view, ok := b.views.Get(viewID)
	if !ok {
		return fmt.Errorf("objectbuilder: unknown view %s", viewID)
	}

	resp, err := b.edges.ResolveTree(ctx, relationsToTreeQueries(view.Relations), filterIDs)
	if err != nil {
		return fmt.Errorf("objectbuilder: resolve tree: %w", err)
	}
	edges := flattenEdges(view.Relations, resp)

	plan, err := viewplan.Build(view, filterIDs, edges)
	if err != nil {
		return fmt.Errorf("objectbuilder: build plan: %w", err)
	}

	buffer := objectbuffer.NewBuffer(plan, b.log)
	fetchErrs := make(chan error, 1)
	go func() {
		defer buffer.Close()
		fetchErrs <- b.fetchAll(ctx, plan, buffer)
	}()

	if err := b.drain(ctx, view, viewID, buffer, chunks); err != nil {
		return err
	}
	if err := <-fetchErrs; err != nil {
		return fmt.Errorf("objectbuilder: fetch objects: %w", err)
	}
	return nil
}

func (b *Builder) drain(ctx context.Context, view cdl.ViewDefinition, viewID uuid.UUID, buffer *objectbuffer.Buffer, chunks chan<- cdl.MaterializedView) error {
	batch := make([]cdl.RowDefinition, 0, b.chunkSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		select {
		case chunks <- cdl.MaterializedView{ViewID: viewID, Options: view.MaterializerOptions, Rows: batch}:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([]cdl.RowDefinition, 0, b.chunkSize)
		return nil
	}

	for row := range buffer.Rows() {
		built, err := rowbuilder.Build(row, view)
		if err != nil {
			return fmt.Errorf("objectbuilder: build row: %w", err)
		}
		batch = append(batch, built)
		if len(batch) >= b.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// fetchAll queries every object the plan is still missing, grouped by
// schema so each schema's QueryAddress is hit with one batched
// QueryMultiple call, and feeds each result into buffer as it arrives.
func (b *Builder) fetchAll(ctx context.Context, plan *viewplan.Plan, buffer *objectbuffer.Buffer) error {
	bySchema := make(map[uuid.UUID][]uuid.UUID)
	for key := range plan.Missing {
		bySchema[key.SchemaID] = append(bySchema[key.SchemaID], key.ObjectID)
	}

	for schemaID, objectIDs := range bySchema {
		meta, err := b.schemas.Get(ctx, schemaID)
		if err != nil {
			return fmt.Errorf("resolve schema %s: %w", schemaID, err)
		}
		fetcher, err := b.queries.Get(meta.QueryAddress)
		if err != nil {
			return err
		}
		data, err := fetcher.QueryMultiple(ctx, objectIDs)
		if err != nil {
			return fmt.Errorf("query schema %s: %w", schemaID, err)
		}

		for _, objectID := range objectIDs {
			raw, ok := data[objectID]
			if !ok {
				b.log.Warn("objectbuilder: object not found, dependent rows stay unfinished", "schema_id", schemaID, "object_id", objectID)
				continue
			}
			if err := buffer.Feed(ctx, cdl.ObjectKey{SchemaID: schemaID, ObjectID: objectID}, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func relationsToTreeQueries(relations []cdl.Relation) []cdl.TreeQuery {
	out := make([]cdl.TreeQuery, len(relations))
	for i, r := range relations {
		out[i] = cdl.TreeQuery{RelationID: r.GlobalID, SearchFor: r.SearchFor, Relations: relationsToTreeQueries(r.Relations)}
	}
	return out
}

func globalToLocalIDs(relations []cdl.Relation) map[uuid.UUID]cdl.LocalID {
	out := make(map[uuid.UUID]cdl.LocalID)
	var walk func([]cdl.Relation)
	walk = func(rs []cdl.Relation) {
		for _, r := range rs {
			out[r.GlobalID] = r.LocalID
			walk(r.Relations)
		}
	}
	walk(relations)
	return out
}

// flattenEdges turns the edge registry's recursively nested TreeResponse
// into the flat map[LocalID]TreeResponse viewplan.Build requires,
// matching each TreeObject back to its view-scoped relation by its
// RelationID (a registry-wide GlobalID).
func flattenEdges(relations []cdl.Relation, resp cdl.TreeResponse) map[cdl.LocalID]cdl.TreeResponse {
	byGlobal := globalToLocalIDs(relations)
	out := make(map[cdl.LocalID]cdl.TreeResponse)

	var walk func(cdl.TreeResponse)
	walk = func(tr cdl.TreeResponse) {
		for _, obj := range tr {
			if localID, ok := byGlobal[obj.RelationID]; ok {
				out[localID] = append(out[localID], obj)
			}
			for _, sub := range obj.Subtrees {
				walk(sub)
			}
		}
	}
	walk(resp)
	return out
}

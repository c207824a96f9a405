package rpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// schemaRegistryServiceDesc hand-wires the Schema Registry's two
// out-of-scope-collaborator RPCs: a unary Get and a server-streaming
// Subscribe (the push invalidation stream the registry cache consumes).
var schemaRegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: "cdl.registry.SchemaRegistry",
	HandlerType: (*SchemaRegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler("/cdl.registry.SchemaRegistry/Get", schemaRegistryGetHandler)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: serverStreamHandler(schemaRegistrySubscribeHandler), ServerStreams: true},
	},
	Metadata: "cdl/registry.proto",
}

// SchemaRegistryServer is implemented by whatever backs the schema
// registry in a given deployment; CDL itself only ever plays the client
// role against it.
type SchemaRegistryServer interface {
	Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error)
	Subscribe(ctx context.Context) (<-chan cdl.SchemaMetadata, <-chan error)
}

func schemaRegistryGetHandler(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	schemaID, err := uuid.Parse(getString(req, "schema_id"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid schema_id: %w", err)
	}
	meta, err := srv.(SchemaRegistryServer).Get(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	return schemaMetadataToStruct(meta)
}

func schemaRegistrySubscribeHandler(srv any, _ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	updates, errs := srv.(SchemaRegistryServer).Subscribe(stream.Context())
	for {
		select {
		case meta, ok := <-updates:
			if !ok {
				return nil
			}
			msg, err := schemaMetadataToStruct(meta)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case err := <-errs:
			return err
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// RegisterSchemaRegistryServer registers srv against s.
func RegisterSchemaRegistryServer(s grpc.ServiceRegistrar, srv SchemaRegistryServer) {
	s.RegisterService(&schemaRegistryServiceDesc, srv)
}

func schemaMetadataToStruct(meta cdl.SchemaMetadata) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"id":                 meta.ID.String(),
		"name":               meta.Name,
		"insert_destination": meta.InsertDestination,
		"query_address":      meta.QueryAddress,
		"schema_type":        string(meta.SchemaType),
	})
}

func structToSchemaMetadata(s *structpb.Struct) (cdl.SchemaMetadata, error) {
	id, err := uuid.Parse(getString(s, "id"))
	if err != nil {
		return cdl.SchemaMetadata{}, fmt.Errorf("rpc: invalid schema id: %w", err)
	}
	return cdl.SchemaMetadata{
		ID:                id,
		Name:              getString(s, "name"),
		InsertDestination: getString(s, "insert_destination"),
		QueryAddress:      getString(s, "query_address"),
		SchemaType:        cdl.SchemaType(getString(s, "schema_type")),
	}, nil
}

// SchemaRegistryClient is the Registry Cache's Fetcher/Invalidations
// implementation backed by a live gRPC connection.
type SchemaRegistryClient struct {
	conn *grpc.ClientConn
}

// NewSchemaRegistryClient wraps an established connection.
func NewSchemaRegistryClient(conn *grpc.ClientConn) *SchemaRegistryClient {
	return &SchemaRegistryClient{conn: conn}
}

// Get implements registrycache.Fetcher.
func (c *SchemaRegistryClient) Get(ctx context.Context, schemaID uuid.UUID) (cdl.SchemaMetadata, error) {
	req, err := newStruct(map[string]any{"schema_id": schemaID.String()})
	if err != nil {
		return cdl.SchemaMetadata{}, err
	}
	resp, err := unaryInvoke(ctx, c.conn, "/cdl.registry.SchemaRegistry/Get", req)
	if err != nil {
		return cdl.SchemaMetadata{}, fmt.Errorf("rpc: schema registry get: %w", err)
	}
	return structToSchemaMetadata(resp)
}

// Subscribe implements registrycache.Invalidations.
func (c *SchemaRegistryClient) Subscribe(ctx context.Context) (<-chan cdl.SchemaMetadata, <-chan error) {
	updates := make(chan cdl.SchemaMetadata)
	errs := make(chan error, 1)

	go func() {
		defer close(updates)
		stream, err := grpc.NewClientStream(ctx, &schemaRegistryServiceDesc.Streams[0], c.conn, "/cdl.registry.SchemaRegistry/Subscribe")
		if err != nil {
			errs <- fmt.Errorf("rpc: open subscribe stream: %w", err)
			return
		}
		typed := grpc.NewGenericClientStream[structpb.Struct, structpb.Struct](stream)
		if err := typed.Send(&structpb.Struct{}); err != nil {
			errs <- fmt.Errorf("rpc: send subscribe request: %w", err)
			return
		}
		if err := typed.CloseSend(); err != nil {
			errs <- fmt.Errorf("rpc: close subscribe send: %w", err)
			return
		}
		for {
			msg, err := typed.Recv()
			if err != nil {
				errs <- fmt.Errorf("rpc: subscribe recv: %w", err)
				return
			}
			meta, err := structToSchemaMetadata(msg)
			if err != nil {
				errs <- err
				return
			}
			select {
			case updates <- meta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, errs
}

package rpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// queryServiceServiceDesc hand-wires the three unary RPCs a schema's
// QueryAddress exposes: point lookups by id, a full schema scan, and a
// Timeseries range scan.
var queryServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: "cdl.query.QueryService",
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QueryMultiple", Handler: unaryHandler("/cdl.query.QueryService/QueryMultiple", queryServiceQueryMultipleHandler)},
		{MethodName: "QueryBySchema", Handler: unaryHandler("/cdl.query.QueryService/QueryBySchema", queryServiceQueryBySchemaHandler)},
		{MethodName: "QueryByRange", Handler: unaryHandler("/cdl.query.QueryService/QueryByRange", queryServiceQueryByRangeHandler)},
	},
	Metadata: "cdl/query.proto",
}

// QueryServiceServer is implemented by whatever sits behind a schema's
// QueryAddress. CDL only ever plays the client role against a third-party
// deployment, except in tests where cassandrasink backs QueryByRange
// directly.
type QueryServiceServer interface {
	QueryMultiple(ctx context.Context, objectIDs []uuid.UUID) (map[uuid.UUID][]byte, error)
	QueryBySchema(ctx context.Context, schemaID uuid.UUID) (map[uuid.UUID][]byte, error)
	QueryByRange(ctx context.Context, schemaID, objectID uuid.UUID, from, to, step int64) ([]cdl.TimeseriesPoint, error)
}

func queryServiceQueryMultipleHandler(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids, err := structToUUIDs(getList(req, "object_ids"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid object_ids: %w", err)
	}
	results, err := srv.(QueryServiceServer).QueryMultiple(ctx, ids)
	if err != nil {
		return nil, err
	}
	return objectMapToStruct(results)
}

func queryServiceQueryBySchemaHandler(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	schemaID, err := uuid.Parse(getString(req, "schema_id"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid schema_id: %w", err)
	}
	results, err := srv.(QueryServiceServer).QueryBySchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	return objectMapToStruct(results)
}

func queryServiceQueryByRangeHandler(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	schemaID, err := uuid.Parse(getString(req, "schema_id"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid schema_id: %w", err)
	}
	objectID, err := uuid.Parse(getString(req, "object_id"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid object_id: %w", err)
	}
	points, err := srv.(QueryServiceServer).QueryByRange(ctx, schemaID, objectID,
		int64(getNumber(req, "from")), int64(getNumber(req, "to")), int64(getNumber(req, "step")))
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{"points": timeseriesPointsToValue(points)})
}

// RegisterQueryServiceServer registers srv against s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&queryServiceServiceDesc, srv)
}

func objectMapToStruct(m map[uuid.UUID][]byte) (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value, len(m))
	for id, data := range m {
		fields[id.String()] = bytesToValue(data)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func structToObjectMap(s *structpb.Struct) (map[uuid.UUID][]byte, error) {
	out := make(map[uuid.UUID][]byte, len(s.GetFields()))
	for k, v := range s.GetFields() {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid object id key %q: %w", k, err)
		}
		data, err := valueToBytes(v)
		if err != nil {
			return nil, err
		}
		out[id] = data
	}
	return out, nil
}

func timeseriesPointsToValue(points []cdl.TimeseriesPoint) []any {
	out := make([]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{
			"timestamp": float64(p.Timestamp),
			"data":      bytesToValue(p.Data).GetStringValue(),
		}
	}
	return out
}

func structToTimeseriesPoints(vs []*structpb.Value) ([]cdl.TimeseriesPoint, error) {
	out := make([]cdl.TimeseriesPoint, 0, len(vs))
	for _, v := range vs {
		s := v.GetStructValue()
		data, err := base64.StdEncoding.DecodeString(getString(s, "data"))
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid timeseries point data: %w", err)
		}
		out = append(out, cdl.TimeseriesPoint{
			Timestamp: int64(getNumber(s, "timestamp")),
			Data:      data,
		})
	}
	return out, nil
}

// QueryServiceClient is the Materializer's collaborator for resolving
// object data by id, backed by a live gRPC connection to whatever a
// schema's QueryAddress points at.
type QueryServiceClient struct {
	conn *grpc.ClientConn
}

// NewQueryServiceClient wraps an established connection.
func NewQueryServiceClient(conn *grpc.ClientConn) *QueryServiceClient {
	return &QueryServiceClient{conn: conn}
}

// QueryMultiple looks up a batch of objects by id.
func (c *QueryServiceClient) QueryMultiple(ctx context.Context, objectIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	ids := make([]any, len(objectIDs))
	for i, id := range objectIDs {
		ids[i] = id.String()
	}
	req, err := structpb.NewStruct(map[string]any{"object_ids": ids})
	if err != nil {
		return nil, err
	}
	resp, err := unaryInvoke(ctx, c.conn, "/cdl.query.QueryService/QueryMultiple", req)
	if err != nil {
		return nil, fmt.Errorf("rpc: query multiple: %w", err)
	}
	return structToObjectMap(resp)
}

// QueryBySchema returns every object currently stored under schemaID.
func (c *QueryServiceClient) QueryBySchema(ctx context.Context, schemaID uuid.UUID) (map[uuid.UUID][]byte, error) {
	req, err := structpb.NewStruct(map[string]any{"schema_id": schemaID.String()})
	if err != nil {
		return nil, err
	}
	resp, err := unaryInvoke(ctx, c.conn, "/cdl.query.QueryService/QueryBySchema", req)
	if err != nil {
		return nil, fmt.Errorf("rpc: query by schema: %w", err)
	}
	return structToObjectMap(resp)
}

// QueryByRange asks a Timeseries schema's query service for the samples
// between from and to, stepped by step milliseconds.
func (c *QueryServiceClient) QueryByRange(ctx context.Context, schemaID, objectID uuid.UUID, from, to, step int64) ([]cdl.TimeseriesPoint, error) {
	req, err := structpb.NewStruct(map[string]any{
		"schema_id": schemaID.String(),
		"object_id": objectID.String(),
		"from":      float64(from),
		"to":        float64(to),
		"step":      float64(step),
	})
	if err != nil {
		return nil, err
	}
	resp, err := unaryInvoke(ctx, c.conn, "/cdl.query.QueryService/QueryByRange", req)
	if err != nil {
		return nil, fmt.Errorf("rpc: query by range: %w", err)
	}
	return structToTimeseriesPoints(getList(resp, "points"))
}

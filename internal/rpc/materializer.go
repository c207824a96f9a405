package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// materializerServiceDesc hand-wires the Materializer sink's two RPCs: a
// server-streaming feed of materialized view chunks, and a unary
// liveness check the Object Builder polls before opening a stream.
var materializerServiceDesc = grpc.ServiceDesc{
	ServiceName: "cdl.materializer.Materializer",
	HandlerType: (*MaterializerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: unaryHandler("/cdl.materializer.Materializer/Heartbeat", materializerHeartbeatHandler)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamView", Handler: serverStreamHandler(materializerStreamViewHandler), ServerStreams: true},
	},
	Metadata: "cdl/materializer.proto",
}

// MaterializerServer runs one view's materialization pipeline, writing
// every resulting chunk onto chunks for the handler to forward to the
// caller. The handler owns chunks and closes it once StreamView returns.
type MaterializerServer interface {
	Heartbeat(ctx context.Context) error
	StreamView(ctx context.Context, viewID uuid.UUID, filterIDs []uuid.UUID, chunks chan<- cdl.MaterializedView) error
}

func materializerHeartbeatHandler(srv any, ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := srv.(MaterializerServer).Heartbeat(ctx); err != nil {
		return nil, err
	}
	return newStruct(map[string]any{"ok": true})
}

func materializerStreamViewHandler(srv any, req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	viewID, err := uuid.Parse(getString(req, "view_id"))
	if err != nil {
		return fmt.Errorf("rpc: invalid view_id: %w", err)
	}
	filterIDs, err := structToUUIDs(getList(req, "filter_ids"))
	if err != nil {
		return fmt.Errorf("rpc: invalid filter_ids: %w", err)
	}

	chunks := make(chan cdl.MaterializedView)
	errs := make(chan error, 1)

	go func() {
		errs <- srv.(MaterializerServer).StreamView(stream.Context(), viewID, filterIDs, chunks)
	}()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return <-errs
			}
			msg, err := materializedViewToStruct(chunk)
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

// RegisterMaterializerServer registers srv against s.
func RegisterMaterializerServer(s grpc.ServiceRegistrar, srv MaterializerServer) {
	s.RegisterService(&materializerServiceDesc, srv)
}

func materializedViewToStruct(view cdl.MaterializedView) (*structpb.Struct, error) {
	payload, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode materialized view: %w", err)
	}
	return newStruct(map[string]any{"payload": bytesToValue(payload).GetStringValue()})
}

func structToMaterializedView(s *structpb.Struct) (cdl.MaterializedView, error) {
	payload, err := base64.StdEncoding.DecodeString(getString(s, "payload"))
	if err != nil {
		return cdl.MaterializedView{}, fmt.Errorf("rpc: invalid materialized view payload: %w", err)
	}
	var view cdl.MaterializedView
	if err := json.Unmarshal(payload, &view); err != nil {
		return cdl.MaterializedView{}, fmt.Errorf("rpc: decode materialized view: %w", err)
	}
	return view, nil
}

// MaterializerClient is the Object Builder's handle onto a view's
// MaterializerAddress, backed by a live gRPC connection.
type MaterializerClient struct {
	conn *grpc.ClientConn
}

// NewMaterializerClient wraps an established connection.
func NewMaterializerClient(conn *grpc.ClientConn) *MaterializerClient {
	return &MaterializerClient{conn: conn}
}

// Heartbeat confirms the materializer sink is reachable.
func (c *MaterializerClient) Heartbeat(ctx context.Context) error {
	req, err := newStruct(nil)
	if err != nil {
		return err
	}
	_, err = unaryInvoke(ctx, c.conn, "/cdl.materializer.Materializer/Heartbeat", req)
	if err != nil {
		return fmt.Errorf("rpc: materializer heartbeat: %w", err)
	}
	return nil
}

// StreamView opens a server-streaming call and delivers every chunk onto
// the returned channel until the stream ends or ctx is cancelled.
// filterIDs scopes the request to a specific base object set; an empty
// slice asks the materializer to walk every object of the view's base
// schema.
func (c *MaterializerClient) StreamView(ctx context.Context, viewID uuid.UUID, filterIDs []uuid.UUID) (<-chan cdl.MaterializedView, <-chan error) {
	out := make(chan cdl.MaterializedView)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		req, err := newStruct(map[string]any{
			"view_id":    viewID.String(),
			"filter_ids": uuidsToValue(filterIDs),
		})
		if err != nil {
			errs <- err
			return
		}

		stream, err := grpc.NewClientStream(ctx, &materializerServiceDesc.Streams[0], c.conn, "/cdl.materializer.Materializer/StreamView")
		if err != nil {
			errs <- fmt.Errorf("rpc: open stream view: %w", err)
			return
		}
		typed := grpc.NewGenericClientStream[structpb.Struct, structpb.Struct](stream)
		if err := typed.Send(req); err != nil {
			errs <- fmt.Errorf("rpc: send stream view request: %w", err)
			return
		}
		if err := typed.CloseSend(); err != nil {
			errs <- fmt.Errorf("rpc: close stream view send: %w", err)
			return
		}

		for {
			msg, err := typed.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			view, err := structToMaterializedView(msg)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- view:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// transportServiceDesc is the hand-wired grpc.ServiceDesc for the bidi
// streaming Transport service: one stream carries {destination, key,
// payload} frames client→server for publish, and {key, payload} frames
// server→client for consume, with ack frames flowing back client→server.
// No protoc-generated code exists anywhere in the example corpus this
// module is grounded on, so the descriptor below is built directly
// against grpc.ServiceDesc/grpc.StreamDesc the way protoc-gen-go-grpc
// would have generated it, carrying structpb.Struct as the wire message.
var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "cdl.transport.Transport",
	HandlerType: (*transportServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       transportStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cdl/transport.proto",
}

type transportServer interface {
	Stream(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

func transportStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(transportServer).Stream(grpc.NewGenericServerStream[structpb.Struct, structpb.Struct](stream))
}

// RegisterTransportServer registers a transportServer implementation
// against s, the way protoc-gen-go-grpc's RegisterXServer would.
func RegisterTransportServer(s grpc.ServiceRegistrar, srv transportServer) {
	s.RegisterService(&transportServiceDesc, srv)
}

func frameToStruct(destination, key string, payload []byte) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"destination": destination,
		"key":         key,
		"payload":     base64.StdEncoding.EncodeToString(payload),
	})
}

func structToFrame(s *structpb.Struct) (destination, key string, payload []byte, err error) {
	destination = s.GetFields()["destination"].GetStringValue()
	key = s.GetFields()["key"].GetStringValue()
	encoded, ok := s.GetFields()["payload"]
	if !ok {
		return destination, key, nil, fmt.Errorf("grpctransport: frame missing payload")
	}
	payload, err = base64.StdEncoding.DecodeString(encoded.GetStringValue())
	if err != nil {
		return destination, key, nil, fmt.Errorf("grpctransport: decode payload: %w", err)
	}
	return destination, key, payload, nil
}

// GRPCPublisher publishes frames over a single bidi stream opened against
// a Transport server, used when spec.md's transport selector is "grpc".
type GRPCPublisher struct {
	mu     sync.Mutex
	stream grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
}

// NewGRPCPublisher opens a client-side stream against an established
// connection.
func NewGRPCPublisher(ctx context.Context, conn *grpc.ClientConn) (*GRPCPublisher, error) {
	stream, err := grpc.NewClientStream(ctx, &transportServiceDesc.Streams[0], conn, "/cdl.transport.Transport/Stream")
	if err != nil {
		return nil, fmt.Errorf("grpctransport: open stream: %w", err)
	}
	return &GRPCPublisher{
		stream: grpc.NewGenericClientStream[structpb.Struct, structpb.Struct](stream),
	}, nil
}

func (p *GRPCPublisher) Publish(ctx context.Context, destination, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame, err := frameToStruct(destination, key, payload)
	if err != nil {
		return err
	}
	return p.stream.Send(frame)
}

func (p *GRPCPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream.CloseSend()
}

// transportServerStream is the subset of the generated bidi-stream
// interface the consumer side needs.
type transportServerStream interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
}

// GRPCConsumer reads frames from the server side of a Transport stream.
// Because the stream itself carries no partition offsets, acks are
// delivered back to the publisher over the same stream as an ack frame;
// unacked frames are redelivered when the stream reconnects.
type GRPCConsumer struct {
	stream transportServerStream
	msgs   chan Message
	errs   chan error
	cancel context.CancelFunc
}

// NewGRPCConsumer adapts an in-progress server-side Stream call into the
// shared Consumer contract.
func NewGRPCConsumer(ctx context.Context, stream transportServerStream) *GRPCConsumer {
	cctx, cancel := context.WithCancel(ctx)
	c := &GRPCConsumer{
		stream: stream,
		msgs:   make(chan Message, 64),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go c.pump(cctx)
	return c
}

func (c *GRPCConsumer) pump(ctx context.Context) {
	defer close(c.msgs)
	for {
		frame, err := c.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case c.errs <- fmt.Errorf("grpctransport: recv: %w", err):
			default:
			}
			return
		}
		_, key, payload, err := structToFrame(frame)
		if err != nil {
			continue
		}
		msg := NewMessage(key, payload, timeNow(),
			func(context.Context) error {
				ack, aerr := structpb.NewStruct(map[string]any{"ack": key})
				if aerr != nil {
					return aerr
				}
				return c.stream.Send(ack)
			},
			func(context.Context) error { return nil },
		)
		select {
		case c.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *GRPCConsumer) Messages() <-chan Message { return c.msgs }
func (c *GRPCConsumer) Errs() <-chan error        { return c.errs }
func (c *GRPCConsumer) Close() error {
	c.cancel()
	return nil
}

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// unaryHandlerFunc is the shape every hand-wired unary RPC method
// implements: decode request fields out of req against the bound server
// implementation, do the work, encode the response into a fresh
// *structpb.Struct.
type unaryHandlerFunc func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a unaryHandlerFunc into the grpc.MethodDesc.Handler
// shape protoc-gen-go-grpc would otherwise generate, threading the bound
// server and the interceptor chain through exactly as generated unary
// handlers do.
func unaryHandler(fullMethod string, fn unaryHandlerFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// unaryInvoke performs a client-side unary call carrying structpb.Struct
// request/response messages, the same wire shape unaryHandler decodes.
func unaryInvoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, fullMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// serverStreamHandlerFunc is the shape a hand-wired server-streaming RPC
// implements: decode the single request against the bound server
// implementation, then push zero or more responses onto the stream
// until done.
type serverStreamHandlerFunc func(srv any, req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error

func serverStreamHandler(fn serverStreamHandlerFunc) func(srv any, stream grpc.ServerStream) error {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return fn(srv, in, grpc.NewGenericServerStream[structpb.Struct, structpb.Struct](stream))
	}
}

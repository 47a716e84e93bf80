package ugrpc

import (
	"context"

	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/segmentio/ksuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	RequestIDHeader = "x-request-id"
	requestIDTag    = "grpc.request_id"
)

// requestID returns the caller supplied request id, or a new ksuid.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(RequestIDHeader) {
			if v != "" {
				return v
			}
		}
	}
	return ksuid.New().String()
}

func tagRequestID(ctx context.Context) {
	id := requestID(ctx)
	grpc_ctxtags.Extract(ctx).Set(requestIDTag, id)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
}

// RequestIDUnaryServerInterceptor tags the call with a request id and echoes
// it back in the response headers. It must run after the ctxtags interceptor.
func RequestIDUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		tagRequestID(ctx)
		return handler(ctx, req)
	}
}

func RequestIDStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		tagRequestID(stream.Context())
		return handler(srv, stream)
	}
}

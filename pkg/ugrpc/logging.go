package ugrpc

import (
	"context"
	"path"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/logging"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/conductorone/baton-session-auth/pkg/auth"
)

// LoggingUnaryServerInterceptor puts a per-call child of l into the context
// and logs how the call finished.
func LoggingUnaryServerInterceptor(l *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		startTime := time.Now()
		newCtx := newLoggerForCall(ctx, l, info.FullMethod, startTime)

		resp, err := handler(newCtx, req)

		logFinished(newCtx, "unary", err, time.Since(startTime))
		return resp, err
	}
}

func LoggingStreamServerInterceptor(l *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		startTime := time.Now()
		newCtx := newLoggerForCall(stream.Context(), l, info.FullMethod, startTime)
		wrapped := grpc_middleware.WrapServerStream(stream)
		wrapped.WrappedContext = newCtx

		err := handler(srv, wrapped)

		logFinished(newCtx, "stream", err, time.Since(startTime))
		return err
	}
}

func logFinished(ctx context.Context, kind string, err error, elapsed time.Duration) {
	code := grpc_logging.DefaultErrorToCode(err)
	level := grpc_zap.DefaultCodeToLevel(code)

	fields := []zapcore.Field{
		zap.String("grpc.code", code.String()),
		grpc_zap.DefaultDurationToField(elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		if reason := ReasonFromError(err); reason != auth.ReasonUnknown {
			fields = append(fields, zap.String("auth.reason", reason))
		}
	}

	ctxzap.Extract(ctx).Check(level, "finished "+kind+" call with code "+code.String()).Write(fields...)
}

func newLoggerForCall(ctx context.Context, l *zap.Logger, fullMethodString string, start time.Time) context.Context {
	if l == nil {
		l = ctxzap.Extract(ctx)
	}
	f := []zapcore.Field{
		zap.String("grpc.start_time", start.Format(time.RFC3339)),
	}
	if d, ok := ctx.Deadline(); ok {
		f = append(f, zap.String("grpc.request.deadline", d.Format(time.RFC3339)))
	}
	callLog := l.With(append(f, serverCallFields(fullMethodString)...)...)
	return ctxzap.ToContext(ctx, callLog)
}

func serverCallFields(fullMethodString string) []zapcore.Field {
	service := path.Dir(fullMethodString)[1:]
	method := path.Base(fullMethodString)
	return []zapcore.Field{
		zap.String("grpc.service", service),
		zap.String("grpc.method", method),
	}
}

package ugrpc

import (
	"context"
	"fmt"
	"time"

	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/auth"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/conductorone/baton-session-auth/pkg/auth"
	"github.com/conductorone/baton-session-auth/pkg/metrics"
)

const ErrorDomain = "sessionauth.conductorone.com"

type fullMethodKey struct{}

type AuthOption func(*Authenticator)

// WithExemptMethods lets calls to the given full method names through
// without a session token.
func WithExemptMethods(methods ...string) AuthOption {
	return func(a *Authenticator) {
		for _, m := range methods {
			a.exempt[m] = struct{}{}
		}
	}
}

func WithMetrics(m *metrics.M) AuthOption {
	return func(a *Authenticator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Authenticator rejects calls that do not carry a valid session token.
type Authenticator struct {
	extractor *auth.Extractor
	metrics   *metrics.M
	exempt    map[string]struct{}
	now       func() time.Time
}

func NewAuthenticator(extractor *auth.Extractor, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		extractor: extractor,
		metrics:   metrics.New(nil),
		exempt:    make(map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) isExempt(fullMethod string) bool {
	_, ok := a.exempt[fullMethod]
	return ok
}

func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	inner := grpc_auth.UnaryServerInterceptor(a.Authenticate)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if a.isExempt(info.FullMethod) {
			return handler(ctx, req)
		}
		return inner(context.WithValue(ctx, fullMethodKey{}, info.FullMethod), req, info, handler)
	}
}

func (a *Authenticator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	inner := grpc_auth.StreamServerInterceptor(a.Authenticate)
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if a.isExempt(info.FullMethod) {
			return handler(srv, stream)
		}
		return inner(srv, &methodStream{ServerStream: stream, fullMethod: info.FullMethod}, info, handler)
	}
}

type methodStream struct {
	grpc.ServerStream
	fullMethod string
}

func (s *methodStream) Context() context.Context {
	return context.WithValue(s.ServerStream.Context(), fullMethodKey{}, s.fullMethod)
}

// Authenticate is a grpc_auth.AuthFunc. On success the returned context
// carries the user id, readable with auth.UserFromContext.
func (a *Authenticator) Authenticate(ctx context.Context) (context.Context, error) {
	start := a.now()
	method := methodFromContext(ctx)
	l := ctxzap.Extract(ctx)

	user, err := a.extractor.UserFromIncomingContext(ctx)
	if err != nil {
		reason := auth.Reason(err)
		a.metrics.RecordAuthFailure(ctx, method, a.now().Sub(start), err)
		l.Debug("session authentication failed",
			zap.String("grpc.full_method", method),
			zap.String("auth.reason", reason),
			zap.Error(err),
		)
		return nil, unauthenticated(reason)
	}

	a.metrics.RecordAuthSuccess(ctx, method, a.now().Sub(start))
	grpc_ctxtags.Extract(ctx).Set("auth.user_id", user.String())

	return auth.ContextWithUser(ctx, user), nil
}

func methodFromContext(ctx context.Context) string {
	if m, ok := ctx.Value(fullMethodKey{}).(string); ok {
		return m
	}
	if m, ok := grpc.Method(ctx); ok {
		return m
	}
	return "unknown"
}

func unauthenticated(reason string) error {
	st := status.New(codes.Unauthenticated, fmt.Sprintf("session authentication failed: %s", reason))
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: reason,
		Domain: ErrorDomain,
	})
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

// ReasonFromError returns the failure reason attached to an Unauthenticated
// status, or auth.ReasonUnknown.
func ReasonFromError(err error) string {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		return auth.ReasonUnknown
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return auth.ReasonUnknown
}

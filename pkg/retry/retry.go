package retry

import (
	"context"
	"math"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("baton-session-auth/retry")

// Retryer waits between attempts of a gRPC call that failed with a transient
// code. Unauthenticated and every other code are final.
type Retryer struct {
	attempts     uint
	maxAttempts  uint
	initialDelay time.Duration
	maxDelay     time.Duration
}

type RetryConfig struct {
	MaxAttempts  uint          // 0 means no limit.
	InitialDelay time.Duration // Default is 1 second.
	MaxDelay     time.Duration // Default is 60 seconds.
}

func NewRetryer(ctx context.Context, config RetryConfig) *Retryer {
	r := &Retryer{
		maxAttempts:  config.MaxAttempts,
		initialDelay: config.InitialDelay,
		maxDelay:     config.MaxDelay,
	}
	if r.initialDelay == 0 {
		r.initialDelay = time.Second
	}
	if r.maxDelay == 0 {
		r.maxDelay = 60 * time.Second
	}
	return r
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// ShouldWaitAndRetry sleeps and returns true when err is worth another
// attempt. A nil error resets the attempt count.
func (r *Retryer) ShouldWaitAndRetry(ctx context.Context, err error) bool {
	ctx, span := tracer.Start(ctx, "retry.ShouldWaitAndRetry")
	defer span.End()

	if err == nil {
		r.attempts = 0
		return true
	}
	if !retryable(err) {
		return false
	}

	r.attempts++
	l := ctxzap.Extract(ctx)

	if r.maxAttempts > 0 && r.attempts > r.maxAttempts {
		l.Warn("max attempts reached", zap.Error(err), zap.Uint("max_attempts", r.maxAttempts))
		return false
	}

	// linear backoff unless the server asked for a specific delay
	var wait time.Duration
	if r.attempts > math.MaxInt64 {
		wait = r.maxDelay
	} else {
		wait = time.Duration(int64(r.attempts)) * r.initialDelay
	}
	if d, ok := serverDelay(err); ok {
		wait = d
	}

	if wait > r.maxDelay {
		wait = r.maxDelay
	}

	l.Warn("retrying operation", zap.Error(err), zap.Duration("wait", wait))

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// serverDelay reads a google.rpc.RetryInfo detail from err.
func serverDelay(err error) (time.Duration, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.RetryInfo)
		if !ok || info.GetRetryDelay() == nil {
			continue
		}
		if d := info.GetRetryDelay().AsDuration(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

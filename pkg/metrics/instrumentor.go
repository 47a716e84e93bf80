package metrics

import (
	"context"
	"time"

	"github.com/conductorone/baton-session-auth/pkg/auth"
)

const (
	authSuccessCounterName = "session_auth.success"
	authFailureCounterName = "session_auth.failure"
	authLatencyHistoName   = "session_auth.latency"
	authSuccessCounterDesc = "number of requests whose session token was accepted, by grpc method"
	authFailureCounterDesc = "number of requests rejected by the session token check, by grpc method and reason"
	authLatencyHistoDesc   = "time spent extracting and verifying the session token"

	resultSuccess = "success"
	resultFailure = "failure"
)

// M records the outcome of authentication checks.
type M struct {
	underlying Handler
}

func (m *M) RecordAuthSuccess(ctx context.Context, method string, dur time.Duration) {
	c := m.underlying.Int64Counter(authSuccessCounterName, authSuccessCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(authLatencyHistoName, authLatencyHistoDesc, Microseconds)
	c.Add(ctx, 1, map[string]string{"grpc_method": method})
	h.Record(ctx, dur.Microseconds(), map[string]string{"grpc_method": method, "result": resultSuccess})
}

// RecordAuthFailure records a rejected request, tagged with auth.Reason(err).
func (m *M) RecordAuthFailure(ctx context.Context, method string, dur time.Duration, err error) {
	reason := auth.Reason(err)

	c := m.underlying.Int64Counter(authFailureCounterName, authFailureCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(authLatencyHistoName, authLatencyHistoDesc, Microseconds)

	c.Add(ctx, 1, map[string]string{
		"grpc_method": method,
		"reason":      reason,
	})
	h.Record(ctx, dur.Microseconds(), map[string]string{
		"grpc_method": method,
		"result":      resultFailure,
	})
}

func New(handler Handler) *M {
	if handler == nil {
		handler = &noopHandler{}
	}
	return &M{underlying: handler}
}

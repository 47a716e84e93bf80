package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestBasicRetry(t *testing.T) {
	ctx := context.Background()
	retryer := NewRetryer(ctx, RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
	})

	require.False(t, retryer.ShouldWaitAndRetry(ctx, errors.New("generic unrecoverable error")))
	require.True(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unavailable, "recoverable error")))
	require.False(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unauthenticated, "expired")))

	// nil resets the attempt count
	require.True(t, retryer.ShouldWaitAndRetry(ctx, nil))
	require.True(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unavailable, "first attempt")))

	startTime := time.Now()
	require.True(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.DeadlineExceeded, "second attempt")))
	elapsed := time.Since(startTime)
	require.Greater(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, 300*time.Millisecond)

	require.True(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unavailable, "third attempt")))
	require.False(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unavailable, "fourth attempt")))
}

func TestRetryInfoDelay(t *testing.T) {
	ctx := context.Background()
	retryer := NewRetryer(ctx, RetryConfig{
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
	})

	st, err := status.New(codes.Unavailable, "starting").WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(10 * time.Millisecond),
	})
	require.NoError(t, err)

	startTime := time.Now()
	require.True(t, retryer.ShouldWaitAndRetry(ctx, st.Err()))
	require.Less(t, time.Since(startTime), time.Second)
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retryer := NewRetryer(ctx, RetryConfig{InitialDelay: time.Hour})
	require.False(t, retryer.ShouldWaitAndRetry(ctx, status.Error(codes.Unavailable, "down")))
}

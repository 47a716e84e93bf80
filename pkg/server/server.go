package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/conductorone/baton-session-auth/pkg/auth"
	"github.com/conductorone/baton-session-auth/pkg/config"
	"github.com/conductorone/baton-session-auth/pkg/healthcheck"
	"github.com/conductorone/baton-session-auth/pkg/identity"
	"github.com/conductorone/baton-session-auth/pkg/metrics"
	"github.com/conductorone/baton-session-auth/pkg/ugrpc"
)

const (
	meterName       = "github.com/conductorone/baton-session-auth"
	gracefulTimeout = 10 * time.Second
)

// unauthenticatedMethods can be called without a session token.
var unauthenticatedMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
}

type Option func(*Server)

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

func WithMeterProvider(mp otelmetric.MeterProvider) Option {
	return func(s *Server) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// Server serves the identity service behind session token authentication.
type Server struct {
	cfg           *config.Config
	verifier      auth.TokenVerifier
	extractor     *auth.Extractor
	meterProvider otelmetric.MeterProvider
	listener      net.Listener

	grpcServer *grpc.Server
	health     *health.Server
	httpHealth *healthcheck.Server
}

// New validates cfg and assembles the gRPC server. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		meterProvider: noop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	v, err := auth.NewVerifier(string(cfg.PublicKey), auth.WithLeeway(cfg.Leeway))
	if err != nil {
		return nil, err
	}
	s.verifier = v
	if cfg.CacheSize > 0 {
		s.verifier, err = auth.NewCachingVerifier(v, cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create verification cache: %w", err)
		}
	}

	var extractorOpts []auth.ExtractorOption
	if cfg.RequiredScheme != "" {
		extractorOpts = append(extractorOpts, auth.WithRequiredScheme(cfg.RequiredScheme))
	}
	s.extractor = auth.NewExtractor(s.verifier, extractorOpts...)

	m := metrics.New(metrics.NewOtelHandler(ctx, s.meterProvider, meterName))
	authenticator := ugrpc.NewAuthenticator(s.extractor,
		ugrpc.WithMetrics(m),
		ugrpc.WithExemptMethods(unauthenticatedMethods...),
	)

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithMeterProvider(s.meterProvider))),
		grpc.ChainUnaryInterceptor(ugrpc.UnaryServerInterceptors(ctx, authenticator.UnaryServerInterceptor())...),
		grpc.ChainStreamInterceptor(ugrpc.StreamServerInterceptors(ctx, authenticator.StreamServerInterceptor())...),
	)

	identity.RegisterIdentityServiceServer(s.grpcServer, identity.NewServer())

	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(identity.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	reflection.Register(s.grpcServer)

	s.httpHealth = healthcheck.NewServer(healthcheck.Config{
		Enabled: cfg.HealthEnabled,
		Address: cfg.HealthAddress,
	}, s.Check)

	return s, nil
}

// Extractor returns the extractor used by the authentication interceptor.
func (s *Server) Extractor() *auth.Extractor {
	return s.extractor
}

// Check reports an error unless the identity service is SERVING.
func (s *Server) Check(ctx context.Context) error {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: identity.ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("identity service is %s", resp.GetStatus())
	}
	return nil
}

// Run serves until ctx is cancelled or the listener fails, then stops gracefully.
func (s *Server) Run(ctx context.Context) error {
	l := ctxzap.Extract(ctx)

	lis := s.listener
	if lis == nil {
		lc := &net.ListenConfig{}
		var err error
		lis, err = lc.Listen(ctx, "tcp", s.cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
		}
	}

	if err := s.httpHealth.Start(ctx); err != nil {
		_ = lis.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info("session auth server listening", zap.String("address", lis.Addr().String()))
		err := s.grpcServer.Serve(lis)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(identity.ServiceName, healthpb.HealthCheckResponse_SERVING)

	g.Go(func() error {
		<-gctx.Done()
		s.stop(context.WithoutCancel(ctx))
		return nil
	})

	return g.Wait()
}

func (s *Server) stop(ctx context.Context) {
	l := ctxzap.Extract(ctx)
	l.Info("stopping session auth server")

	s.health.Shutdown()

	if err := s.httpHealth.Stop(ctx); err != nil {
		l.Error("failed to stop health check server", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracefulTimeout):
		l.Warn("graceful stop timed out, closing open connections")
		s.grpcServer.Stop()
	}
}

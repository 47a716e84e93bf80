package uotel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const DefaultServiceName = "baton-session-auth"

var ErrCertConflict = errors.New("otel: tls cert path and tls cert are mutually exclusive")

type otelConfig struct {
	serviceName      string
	serviceVersion   string
	initialLogFields map[string]interface{}

	// collector endpoint shared by log and trace export
	endpoint    string
	tlsCert     string
	tlsCertPath string
	tlsInsecure bool

	tracingDisabled bool
	loggingDisabled bool

	metricsWriter   io.Writer
	metricsInterval time.Duration

	mtx           sync.Mutex
	resource      *resource.Resource
	conn          *grpc.ClientConn
	meterProvider otelmetric.MeterProvider
	shutdown      []func(context.Context) error
}

type Option func(*otelConfig)

func WithServiceName(serviceName string) Option {
	return func(c *otelConfig) {
		if serviceName != "" {
			c.serviceName = serviceName
		}
	}
}

func WithServiceVersion(version string) Option {
	return func(c *otelConfig) {
		c.serviceVersion = version
	}
}

// WithInitialLogFields sets fields added to every exported log record.
func WithInitialLogFields(ilf map[string]interface{}) Option {
	return func(c *otelConfig) {
		c.initialLogFields = ilf
	}
}

// WithOtelEndpoint exports logs and traces to a collector over TLS. The CA
// comes from tlsCertPath, or from tlsCert (base64url PEM), or the system pool.
func WithOtelEndpoint(endpoint string, tlsCertPath string, tlsCert string) Option {
	return func(c *otelConfig) {
		c.endpoint = endpoint
		c.tlsCert = tlsCert
		c.tlsCertPath = tlsCertPath
		c.tlsInsecure = false
	}
}

func WithInsecureOtelEndpoint(endpoint string) Option {
	return func(c *otelConfig) {
		c.endpoint = endpoint
		c.tlsCert = ""
		c.tlsCertPath = ""
		c.tlsInsecure = true
	}
}

func WithTracingDisabled() Option {
	return func(c *otelConfig) {
		c.tracingDisabled = true
	}
}

func WithLoggingDisabled() Option {
	return func(c *otelConfig) {
		c.loggingDisabled = true
	}
}

// WithStdoutMetrics exports metrics as JSON to w every interval. A nil
// writer means os.Stdout.
func WithStdoutMetrics(w io.Writer, interval time.Duration) Option {
	return func(c *otelConfig) {
		if w == nil {
			w = os.Stdout
		}
		c.metricsWriter = w
		c.metricsInterval = interval
	}
}

func newConfig(opts ...Option) *otelConfig {
	cfg := &otelConfig{
		serviceName:   DefaultServiceName,
		meterProvider: noop.NewMeterProvider(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func (c *otelConfig) init(ctx context.Context) (context.Context, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.metricsWriter != nil {
		if err := c.initMetrics(ctx); err != nil {
			return nil, fmt.Errorf("otel: failed to initialize metrics: %w", err)
		}
	}

	if c.endpoint == "" || (c.loggingDisabled && c.tracingDisabled) {
		zap.L().Debug("otel: no collector endpoint, skipping log and trace export")
		return ctx, nil
	}

	cc, err := c.connection()
	if err != nil {
		return nil, fmt.Errorf("otel: failed to create gRPC connection: %w", err)
	}

	if !c.loggingDisabled {
		ctx, err = c.initLogging(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("otel: failed to initialize logging: %w", err)
		}
	}

	if !c.tracingDisabled {
		if err := c.initTracing(ctx, cc); err != nil {
			return nil, fmt.Errorf("otel: failed to initialize tracing: %w", err)
		}
	}

	return ctx, nil
}

// connection dials the collector once.
// precondition: c.mtx is locked
func (c *otelConfig) connection() (*grpc.ClientConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	var creds credentials.TransportCredentials
	if c.tlsInsecure {
		zap.L().Warn("otel: using INSECURE connection to collector", zap.String("endpoint", c.endpoint))
		creds = insecure.NewCredentials()
	} else {
		zap.L().Debug("otel: using collector", zap.String("endpoint", c.endpoint))
		tlsConfig, err := getTLSConfig(c.tlsCertPath, c.tlsCert)
		if err != nil {
			return nil, fmt.Errorf("otel: failed to create TLS config: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	conn, err := grpc.NewClient(c.endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("otel: failed to create gRPC connection to collector: %w", err)
	}
	c.conn = conn

	return conn, nil
}

func (c *otelConfig) getResource(ctx context.Context) (*resource.Resource, error) {
	if c.resource != nil {
		return c.resource, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(c.serviceName),
			semconv.ServiceVersionKey.String(c.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: failed to create otel resource: %w", err)
	}
	c.resource = res
	return res, nil
}

// initMetrics installs a meter provider that periodically writes to metricsWriter.
func (c *otelConfig) initMetrics(ctx context.Context) error {
	res, err := c.getResource(ctx)
	if err != nil {
		return err
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(c.metricsWriter)))
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if c.metricsInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(c.metricsInterval))
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
	)
	otel.SetMeterProvider(provider)
	c.meterProvider = provider

	zap.L().Debug("OpenTelemetry stdout metrics enabled", zap.Duration("interval", c.metricsInterval))

	c.shutdown = append(c.shutdown, provider.Shutdown)
	return nil
}

func (c *otelConfig) initTracing(ctx context.Context, cc *grpc.ClientConn) error {
	res, err := c.getResource(ctx)
	if err != nil {
		return err
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(cc))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zap.L().Debug("OpenTelemetry tracing enabled")

	c.shutdown = append(c.shutdown, tracerProvider.Shutdown)
	return nil
}

// initLogging tees the global zap logger into an OTLP log exporter. The base
// logger must already exist (logging.Init) when this runs.
func (c *otelConfig) initLogging(ctx context.Context, cc *grpc.ClientConn) (context.Context, error) {
	res, err := c.getResource(ctx)
	if err != nil {
		return nil, err
	}

	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(cc))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize otlp exporter: %w", err)
	}
	processor := log.NewBatchProcessor(exp, log.WithExportInterval(5*time.Second))
	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(processor),
	)

	otelCore := otelzap.NewCore(c.serviceName, otelzap.WithVersion(c.serviceVersion), otelzap.WithLoggerProvider(provider))
	addOtel := zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, otelCore)
	})

	l := zap.L().WithOptions(addOtel).With(initialFields(c.initialLogFields)...)
	zap.ReplaceGlobals(l)

	l.Debug("OpenTelemetry logging enabled")

	c.shutdown = append(c.shutdown, processor.Shutdown)
	return ctxzap.ToContext(ctx, l), nil
}

func initialFields(m map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string:
			fields = append(fields, zap.String(k, v))
		case int:
			fields = append(fields, zap.Int(k, v))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}
	return fields
}

// Close shuts down every provider and the collector connection.
func (c *otelConfig) Close(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var errs []error
	for _, shutdown := range c.shutdown {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.shutdown = nil

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.conn = nil
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("otel: failed to shut down: %w", err)
	}
	return nil
}

// getTLSConfig builds the collector TLS config. tlsCert is a base64url
// encoded PEM bundle; with neither set the system pool is used.
func getTLSConfig(tlsCertPath, tlsCert string) (*tls.Config, error) {
	if tlsCertPath != "" && tlsCert != "" {
		return nil, ErrCertConflict
	}

	if tlsCertPath == "" && tlsCert == "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system certificate pool: %w", err)
		}
		return &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    systemPool,
		}, nil
	}

	var certData []byte
	var err error
	if tlsCertPath != "" {
		certData, err = os.ReadFile(tlsCertPath)
		if err != nil {
			return nil, fmt.Errorf("otel: failed to read TLS certificate file: %w", err)
		}
	} else {
		certData, err = base64.RawURLEncoding.DecodeString(tlsCert)
		if err != nil {
			return nil, fmt.Errorf("otel: failed to decode base64 TLS certificate: %w", err)
		}
	}

	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM(certData); !ok {
		return nil, fmt.Errorf("otel: failed to parse TLS certificate")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    certPool,
	}, nil
}

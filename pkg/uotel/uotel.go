package uotel

import (
	"context"

	otelmetric "go.opentelemetry.io/otel/metric"
)

// Telemetry owns the providers installed by Init.
type Telemetry struct {
	cfg *otelConfig
}

// Init sets up OTLP log and trace export when an endpoint is configured and
// stdout metric export when requested. The returned context carries the
// logger, which tees into the OTLP exporter when logging is enabled.
func Init(ctx context.Context, opts ...Option) (context.Context, *Telemetry, error) {
	cfg := newConfig(opts...)

	ctx, err := cfg.init(ctx)
	if err != nil {
		return nil, nil, err
	}

	return ctx, &Telemetry{cfg: cfg}, nil
}

// MeterProvider is a no-op provider unless stdout metrics were enabled.
func (t *Telemetry) MeterProvider() otelmetric.MeterProvider {
	t.cfg.mtx.Lock()
	defer t.cfg.mtx.Unlock()
	return t.cfg.meterProvider
}

// Close flushes exporters and closes collector connections.
func (t *Telemetry) Close(ctx context.Context) error {
	return t.cfg.Close(ctx)
}

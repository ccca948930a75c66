// Package telemetry provides OpenTelemetry metrics for the source agent.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// DefaultServiceName is the service name reported on every metric
	DefaultServiceName = "source-agent"

	// MetricsPath is where the Prometheus handler is mounted
	MetricsPath = "/metrics"
)

// Telemetry owns the meter provider and the optional scrape endpoint
type Telemetry struct {
	meterProvider metric.MeterProvider
	registry      *prometheus.Registry
}

// Option configures telemetry setup
type Option func(*options)

type options struct {
	enabled        bool
	serviceVersion string
}

// WithMetricsEnabled turns the Prometheus-backed provider on
func WithMetricsEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithServiceVersion sets the version attribute reported with metrics
func WithServiceVersion(version string) Option {
	return func(o *options) {
		o.serviceVersion = version
	}
}

// New creates the telemetry providers. When metrics are disabled every
// instrument is a no-op and MetricsHandler returns nil.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	o := &options{serviceVersion: "unknown"}
	for _, opt := range opts {
		opt(o)
	}

	mp, registry, err := NewMeterProvider(ctx, o.enabled, o.serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	return &Telemetry{meterProvider: mp, registry: registry}, nil
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics are disabled
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the SDK provider. Safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	mp, ok := t.meterProvider.(*sdkmetric.MeterProvider)
	if !ok {
		return nil
	}
	if err := mp.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	slog.Debug("Meter provider shutdown complete")
	return nil
}

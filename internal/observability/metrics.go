package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider exposes the arbitrage core's internal metric emission:
// dispatch latency, opportunity/execution counters and connector health.
// It never serves an HTTP surface itself (that belongs to the excluded
// observability plumbing); callers scrape the Prometheus Registry
// themselves.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	Registry      *prometheus.Registry

	EventBusDispatchDuration metric.Float64Histogram
	EventBusDropped          metric.Int64Counter
	OpportunitiesDetected    metric.Int64Counter
	OpportunitiesExecuted    metric.Int64Counter
	ExecutionLatency         metric.Float64Histogram
	ConnectorLatency         metric.Float64Histogram
	RiskThrottle             metric.Float64Gauge
}

// MetricsConfig mirrors ObservabilityConfig's metrics-relevant fields.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Enabled        bool
}

// NewMetricsProvider wires a Prometheus registry behind an OTel meter
// provider, following the teacher's metrics.go wiring.
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("merge resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{meterProvider: meterProvider, meter: meter, Registry: registry}
	if err := mp.initialize(); err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}
	return mp, nil
}

func (mp *MetricsProvider) initialize() error {
	var err error

	if mp.EventBusDispatchDuration, err = mp.meter.Float64Histogram(
		"event_bus_dispatch_duration_seconds",
		metric.WithDescription("Time to fan an envelope out to all subscribers"),
	); err != nil {
		return err
	}
	if mp.EventBusDropped, err = mp.meter.Int64Counter(
		"event_bus_dropped_total",
		metric.WithDescription("Envelopes dropped due to subscriber backpressure"),
	); err != nil {
		return err
	}
	if mp.OpportunitiesDetected, err = mp.meter.Int64Counter(
		"arbitrage_opportunities_detected_total",
		metric.WithDescription("Opportunities surfaced by the detector"),
	); err != nil {
		return err
	}
	if mp.OpportunitiesExecuted, err = mp.meter.Int64Counter(
		"arbitrage_opportunities_executed_total",
		metric.WithDescription("Opportunities that completed execution"),
	); err != nil {
		return err
	}
	if mp.ExecutionLatency, err = mp.meter.Float64Histogram(
		"arbitrage_execution_latency_seconds",
		metric.WithDescription("Time from claim to reconciliation for an opportunity"),
	); err != nil {
		return err
	}
	if mp.ConnectorLatency, err = mp.meter.Float64Histogram(
		"exchange_connector_latency_seconds",
		metric.WithDescription("Observed round-trip latency per venue call"),
	); err != nil {
		return err
	}
	if mp.RiskThrottle, err = mp.meter.Float64Gauge(
		"risk_throttle_ratio",
		metric.WithDescription("Current orchestrator risk throttle, 0..1"),
	); err != nil {
		return err
	}
	return nil
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// InitMetrics initializes an OpenTelemetry meter provider exporting to the
// default Prometheus registry, served by promhttp.Handler().
func InitMetrics(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, error) {
	if serviceName == "" {
		serviceName = "pipekit"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// MetricsHooks records stage counts, failures, latency and artifact sizes.
type MetricsHooks struct {
	runs          metric.Int64Counter
	errors        metric.Int64Counter
	latency       metric.Float64Histogram
	artifactBytes metric.Int64Histogram
}

// Verify that MetricsHooks implements Hooks interface.
var _ pipeline.Hooks = (*MetricsHooks)(nil)

// NewMetricsHooks creates metrics hooks. A nil provider uses the global one.
func NewMetricsHooks(mp metric.MeterProvider) (*MetricsHooks, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	runs, err := meter.Int64Counter(
		"pipekit.stage.runs",
		metric.WithDescription("Total number of stage executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}
	errs, err := meter.Int64Counter(
		"pipekit.stage.errors",
		metric.WithDescription("Total number of failed stage executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	latency, err := meter.Float64Histogram(
		"pipekit.stage.latency",
		metric.WithDescription("Stage execution latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	artifactBytes, err := meter.Int64Histogram(
		"pipekit.artifact.size",
		metric.WithDescription("Size of persisted artifacts"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact size histogram: %w", err)
	}

	return &MetricsHooks{
		runs:          runs,
		errors:        errs,
		latency:       latency,
		artifactBytes: artifactBytes,
	}, nil
}

// StageStart implements pipeline.Hooks.
func (m *MetricsHooks) StageStart(ctx context.Context, info pipeline.StageInfo) context.Context {
	return ctx
}

// StageEnd implements pipeline.Hooks.
func (m *MetricsHooks) StageEnd(ctx context.Context, info pipeline.StageInfo, out pipeline.Outcome) {
	status := "success"
	if out.Err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("pipeline", info.Pipeline),
		attribute.String("stage", info.Name),
		attribute.String("kind", string(info.Kind)),
		attribute.String("status", status),
	)

	m.runs.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(out.Duration.Microseconds())/1000.0, attrs)
	if out.Err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
	if out.Artifact != nil {
		m.artifactBytes.Record(ctx, out.Artifact.Size, attrs)
	}
}

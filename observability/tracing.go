// Package observability provides OpenTelemetry integration for pipeline runs.
//
// Includes distributed tracing, metrics export and logging, each exposed
// as pipeline.Hooks so they attach to a pipeline without touching workers.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/scttfrdmn/pipekit/pipeline"
)

const instrumentationName = "github.com/scttfrdmn/pipekit"

// TracingConfig configures InitTracing.
type TracingConfig struct {
	ServiceName string
	// OTLPEndpoint enables the OTLP gRPC exporter, e.g. "localhost:4317".
	OTLPEndpoint string
	// Console pretty-prints spans to stdout.
	Console bool
}

// InitTracing initializes an OpenTelemetry tracer provider and installs it
// globally together with the W3C trace context propagator. Callers shut the
// provider down when done.
func InitTracing(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pipekit"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	if cfg.Console {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// ExtractHTTP returns ctx carrying the trace context of an incoming request.
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// TracingHooks opens one span per stage. Spans nest the way stages do, so a
// run renders as a tree: pipeline root, stages, steps.
type TracingHooks struct {
	tracer trace.Tracer
}

// Verify that TracingHooks implements Hooks interface.
var _ pipeline.Hooks = (*TracingHooks)(nil)

// NewTracingHooks creates tracing hooks. A nil provider uses the global one.
func NewTracingHooks(tp trace.TracerProvider) *TracingHooks {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingHooks{tracer: tp.Tracer(instrumentationName)}
}

// StageStart implements pipeline.Hooks.
func (h *TracingHooks) StageStart(ctx context.Context, info pipeline.StageInfo) context.Context {
	ctx, _ = h.tracer.Start(ctx, fmt.Sprintf("%s %s", info.Kind, info.Name),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", info.Pipeline),
			attribute.String("pipeline.run_id", info.RunID),
			attribute.String("stage.name", info.Name),
			attribute.String("stage.kind", string(info.Kind)),
			attribute.String("stage.path", info.Path),
			attribute.Int("stage.index", info.Index),
		),
	)
	return ctx
}

// StageEnd implements pipeline.Hooks.
func (h *TracingHooks) StageEnd(ctx context.Context, info pipeline.StageInfo, out pipeline.Outcome) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		return
	}
	if out.Key != "" {
		span.SetAttributes(attribute.String("step.output_key", out.Key))
	}
	if out.Artifact != nil {
		span.SetAttributes(
			attribute.String("artifact.uri", out.Artifact.URI),
			attribute.Int64("artifact.size", out.Artifact.Size),
		)
	}
	span.SetStatus(codes.Ok, "")
}

package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// buildPipeline returns a two-step pipeline where the second step fails when fail is set.
func buildPipeline(t *testing.T, fail bool, hooks ...pipeline.Hooks) *pipeline.Pipeline {
	t.Helper()
	first, err := pipeline.NewStep("first", "a", pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
		return "alpha", nil
	}), pipeline.Reads("request"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := pipeline.NewStep("second", "b", pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return in.Text("a") + "-beta", nil
	}), pipeline.Reads("a"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.New("obs", pipeline.NewSequential("root", first, second),
		pipeline.WithInitialKeys("request"),
		pipeline.WithHooks(hooks...),
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigureLoggingJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, err := ConfigureLogging(LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("ConfigureLogging failed: %v", err)
	}
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	if _, err := ConfigureLogging(LoggingConfig{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTraceContextHandlerAddsIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	var buf bytes.Buffer
	logger := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	if !strings.Contains(buf.String(), span.SpanContext().TraceID().String()) {
		t.Errorf("expected trace_id in %q", buf.String())
	}

	buf.Reset()
	logger.Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id in %q", buf.String())
	}
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := buildPipeline(t, true, NewLoggingHooks(logger))

	if _, err := p.Run(context.Background(), map[string]any{"request": "r"}); err == nil {
		t.Fatal("expected run to fail")
	}
	out := buf.String()
	for _, want := range []string{"stage started", "stage=first", "key=a", "stage failed", "stage=second", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestTracingHooksSpanTree(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	p := buildPipeline(t, false, NewTracingHooks(tp))
	res, err := p.Run(context.Background(), map[string]any{"request": "r"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans (root + 2 steps), got %d", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	root, ok := byName["sequential root"]
	if !ok {
		t.Fatalf("root span missing: %v", byName)
	}
	for _, name := range []string{"step first", "step second"} {
		s, ok := byName[name]
		if !ok {
			t.Fatalf("span %q missing", name)
		}
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("span %q is not a child of the root span", name)
		}
		var runID string
		for _, a := range s.Attributes {
			if a.Key == "pipeline.run_id" {
				runID = a.Value.AsString()
			}
		}
		if runID != res.RunID {
			t.Errorf("span %q run_id = %q, want %q", name, runID, res.RunID)
		}
	}
}

func TestTracingHooksRecordError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	p := buildPipeline(t, true, NewTracingHooks(tp))
	if _, err := p.Run(context.Background(), map[string]any{"request": "r"}); err == nil {
		t.Fatal("expected run to fail")
	}

	var failed int
	for _, s := range exporter.GetSpans() {
		if s.Status.Code == codes.Error {
			failed++
			if len(s.Events) == 0 {
				t.Errorf("span %q has no recorded error event", s.Name)
			}
		}
	}
	// The failing step and its enclosing sequence.
	if failed != 2 {
		t.Errorf("expected 2 error spans, got %d", failed)
	}
}

func TestMetricsHooks(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	hooks, err := NewMetricsHooks(provider)
	if err != nil {
		t.Fatalf("NewMetricsHooks failed: %v", err)
	}
	p := buildPipeline(t, true, hooks)
	_, _ = p.Run(context.Background(), map[string]any{"request": "r"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	sums := map[string]int64{}
	var sawLatency bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name == "pipekit.stage.latency" {
					sawLatency = true
				}
			}
		}
	}
	// root, first, second
	if sums["pipekit.stage.runs"] != 3 {
		t.Errorf("expected 3 stage runs, got %d", sums["pipekit.stage.runs"])
	}
	// second and root
	if sums["pipekit.stage.errors"] != 2 {
		t.Errorf("expected 2 stage errors, got %d", sums["pipekit.stage.errors"])
	}
	if !sawLatency {
		t.Error("latency histogram not recorded")
	}
}

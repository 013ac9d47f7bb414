package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// TraceContextHandler is a slog.Handler that adds trace context to log records.
type TraceContextHandler struct {
	handler slog.Handler
}

// NewTraceContextHandler creates a new handler that adds trace context.
func NewTraceContextHandler(handler slog.Handler) *TraceContextHandler {
	return &TraceContextHandler{
		handler: handler,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TraceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds trace context and passes to underlying handler.
func (h *TraceContextHandler) Handle(ctx context.Context, record slog.Record) error {
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanContext.TraceID().String()),
			slog.String("span_id", spanContext.SpanID().String()),
		)
	}
	return h.handler.Handle(ctx, record)
}

// WithAttrs returns a new handler with additional attributes.
func (h *TraceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group.
func (h *TraceContextHandler) WithGroup(name string) slog.Handler {
	return &TraceContextHandler{handler: h.handler.WithGroup(name)}
}

// LoggingConfig configures ConfigureLogging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// Format is "text" or "json". Default: text.
	Format string
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// TraceContext adds trace_id and span_id to records logged with a span context.
	TraceContext bool
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// ConfigureLogging builds a logger from cfg and installs it as the slog default.
func ConfigureLogging(cfg LoggingConfig) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if cfg.TraceContext {
		handler = NewTraceContextHandler(handler)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// LoggingHooks logs stage execution.
type LoggingHooks struct {
	logger *slog.Logger
}

// Verify that LoggingHooks implements Hooks interface.
var _ pipeline.Hooks = (*LoggingHooks)(nil)

// NewLoggingHooks creates hooks that log through logger. Steps log at info,
// containers at debug.
func NewLoggingHooks(logger *slog.Logger) *LoggingHooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHooks{logger: logger.With("component", "stage")}
}

// StageStart implements pipeline.Hooks.
func (h *LoggingHooks) StageStart(ctx context.Context, info pipeline.StageInfo) context.Context {
	h.logger.Log(ctx, h.level(info), "stage started",
		"run_id", info.RunID,
		"stage", info.Name,
		"kind", string(info.Kind),
		"path", info.Path)
	return ctx
}

// StageEnd implements pipeline.Hooks.
func (h *LoggingHooks) StageEnd(ctx context.Context, info pipeline.StageInfo, out pipeline.Outcome) {
	attrs := []any{
		"run_id", info.RunID,
		"stage", info.Name,
		"kind", string(info.Kind),
		"path", info.Path,
		"duration", out.Duration,
	}
	if out.Err != nil {
		h.logger.Log(ctx, slog.LevelError, "stage failed", append(attrs, "error", out.Err)...)
		return
	}
	if out.Key != "" {
		attrs = append(attrs, "key", out.Key)
	}
	if out.Artifact != nil {
		attrs = append(attrs, "artifact", out.Artifact.URI)
	}
	h.logger.Log(ctx, h.level(info), "stage completed", attrs...)
}

func (h *LoggingHooks) level(info pipeline.StageInfo) slog.Level {
	if info.Kind == pipeline.StageStep {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

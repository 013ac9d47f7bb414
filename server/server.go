// Package server exposes the registered pipelines over HTTP.
//
// Routes:
//   - GET  /healthz          liveness and the list of pipelines
//   - GET  /pipelines        pipeline descriptions
//   - POST /runs/{pipeline}  run a pipeline on a JSON initial context
//   - GET  /events           websocket stream of stage events
//   - GET  /metrics          Prometheus metrics, when configured
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/scttfrdmn/pipekit/events"
	"github.com/scttfrdmn/pipekit/observability"
	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/pipelines"
	"github.com/scttfrdmn/pipekit/safety"
)

// Version is reported by /healthz.
const Version = "0.1.0"

const maxBodyBytes = 1 << 20

// Config configures a Server.
type Config struct {
	Addr string
	// Deps build every pipeline. The server's bus is added to Deps.Hooks.
	Deps pipelines.Deps
	// Bus carries stage events to /events. Defaults to a new bus.
	Bus *events.Bus
	// Metrics serves /metrics when set, e.g. promhttp.Handler().
	Metrics http.Handler
	// Validator screens the initial context of every run. Optional.
	Validator *safety.Validator
	Logger    *slog.Logger
}

// Server is an HTTP front end for pipeline runs.
type Server struct {
	deps      pipelines.Deps
	bus       *events.Bus
	validator *safety.Validator
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	started   time.Time
	mu        sync.Mutex
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(0, logger)
	}
	deps := cfg.Deps
	deps.Hooks = append(append([]pipeline.Hooks(nil), deps.Hooks...), bus)
	if deps.Logger == nil {
		deps.Logger = logger
	}

	mux := http.NewServeMux()
	s := &Server{
		deps:      deps,
		bus:       bus,
		validator: cfg.Validator,
		mux:       mux,
		logger:    logger.With("component", "server"),
		started:   time.Now(),
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /pipelines", s.handlePipelines)
	mux.HandleFunc("POST /runs/{pipeline}", s.handleRun)
	mux.Handle("GET /events", events.NewHub(bus, logger))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Bus returns the event bus runs publish to.
func (s *Server) Bus() *events.Bus { return s.bus }

// Start listens in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("server listening", "addr", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to five seconds for runs in flight.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   Version,
		"uptime":    time.Since(s.started).Seconds(),
		"pipelines": pipelines.Names(),
	})
}

// PipelineInfo describes a registered pipeline.
type PipelineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InitialKey  string `json:"initial_key"`
	FinalKey    string `json:"final_key"`
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	infos := make([]PipelineInfo, 0)
	for _, name := range pipelines.Names() {
		def, _ := pipelines.Lookup(name)
		infos = append(infos, PipelineInfo{
			Name:        def.Name,
			Description: def.Description,
			InitialKey:  def.InitialKey,
			FinalKey:    def.FinalKey,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// RunRequest is the body of POST /runs/{pipeline}. Either Input, which is
// stored under the pipeline's initial key, or Context must be set.
type RunRequest struct {
	Input   string         `json:"input,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// RunResponse is the body of a successful run.
type RunResponse struct {
	RunID      string                 `json:"run_id"`
	Pipeline   string                 `json:"pipeline"`
	DurationMS int64                  `json:"duration_ms"`
	FinalKey   string                 `json:"final_key"`
	Output     string                 `json:"output"`
	Context    map[string]string      `json:"context"`
	Artifacts  []pipeline.ArtifactRef `json:"artifacts"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	FailedSteps []string `json:"failed_steps,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pipeline")
	def, ok := pipelines.Lookup(name)
	if !ok {
		s.sendError(w, http.StatusNotFound, "PIPELINE_NOT_FOUND", fmt.Sprintf("unknown pipeline %q", name), nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body", nil)
		return
	}
	defer r.Body.Close()

	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON: "+err.Error(), nil)
		return
	}
	initial := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		initial[k] = v
	}
	if req.Input != "" {
		initial[def.InitialKey] = req.Input
	}

	if s.validator != nil {
		if err := s.validator.Check(initial); err != nil {
			s.sendError(w, http.StatusBadRequest, "REJECTED_INPUT", err.Error(), nil)
			return
		}
	}

	p, err := pipelines.Build(name, s.deps)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "BUILD_FAILED", err.Error(), nil)
		return
	}

	var opts []pipeline.RunOption
	if id := r.URL.Query().Get("run_id"); id != "" {
		opts = append(opts, pipeline.WithRunID(id))
	}
	// Continue the caller's trace when it sent a traceparent header.
	ctx := observability.ExtractHTTP(r.Context(), r.Header)
	res, err := p.Run(ctx, initial, opts...)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrMissingInput), errors.Is(err, pipeline.ErrKeyExists):
			s.sendError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		case errors.Is(err, context.Canceled):
			s.sendError(w, 499, "CANCELLED", "request cancelled", nil)
		default:
			s.sendError(w, http.StatusInternalServerError, "RUN_FAILED", err.Error(), pipeline.FailedSteps(err))
		}
		return
	}

	ctxText := make(map[string]string, res.Context.Len())
	for _, k := range res.Context.Keys() {
		ctxText[k] = res.Context.Text(k)
	}
	writeJSON(w, http.StatusOK, RunResponse{
		RunID:      res.RunID,
		Pipeline:   res.Pipeline,
		DurationMS: res.Duration.Milliseconds(),
		FinalKey:   def.FinalKey,
		Output:     res.Text(def.FinalKey),
		Context:    ctxText,
		Artifacts:  res.Artifacts,
	})
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string, failed []string) {
	s.logger.Warn("request failed", "code", code, "error", message)
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, FailedSteps: failed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

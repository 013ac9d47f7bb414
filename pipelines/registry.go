// Package pipelines defines the pipelines pipekit ships: query-to-insight,
// db-builder and competitor-analysis.
package pipelines

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/artifact"
	"github.com/scttfrdmn/pipekit/middleware"
	"github.com/scttfrdmn/pipekit/pipeline"
	"github.com/scttfrdmn/pipekit/worker"
)

//go:embed prompts/*.txt
var prompts embed.FS

// Deps are the collaborators a pipeline is built with.
type Deps struct {
	// Model answers every LLM step.
	Model llm.LLM
	// Options are passed on every model call.
	Options []llm.CallOption
	// Artifacts persists step outputs. Defaults to an in-memory store.
	Artifacts artifact.Store
	// DatabasePath is the SQLite database query-to-insight reads.
	DatabasePath string

	// Retry wraps every LLM worker when set.
	Retry *middleware.RetryConfig
	// StepTimeout bounds each LLM call attempt. Zero means none.
	StepTimeout time.Duration
	// StageTimeout bounds parallel stages. Zero means none.
	StageTimeout time.Duration
	// MaxConcurrency caps parallel stages. Zero means unbounded.
	MaxConcurrency int

	Hooks  []pipeline.Hooks
	Logger *slog.Logger
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Model == nil {
		return d, fmt.Errorf("a model is required")
	}
	if d.Artifacts == nil {
		d.Artifacts = artifact.NewMemoryStore()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d, nil
}

func (d Deps) options(initialKey, description string) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithInitialKeys(initialKey),
		pipeline.WithDescription(description),
		pipeline.WithHooks(d.Hooks...),
		pipeline.WithLogger(d.Logger),
	}
}

// Definition describes a registered pipeline.
type Definition struct {
	Name        string
	Description string
	// InitialKey receives the user's input.
	InitialKey string
	// FinalKey holds the answer shown to the user.
	FinalKey string

	build func(Deps) (*pipeline.Pipeline, error)
}

var registry = map[string]Definition{}

func register(def Definition) {
	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("pipeline %q is already registered", def.Name))
	}
	registry[def.Name] = def
}

// Names returns the registered pipeline names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the definition of a pipeline.
func Lookup(name string) (Definition, bool) {
	def, ok := registry[name]
	return def, ok
}

// Build constructs and validates the named pipeline.
func Build(name string, deps Deps) (*pipeline.Pipeline, error) {
	def, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (available: %v)", name, Names())
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}
	return def.build(deps)
}

// llmWorker builds an LLM worker from an embedded instruction file and wraps
// it with the configured timeout and retry policy.
func (d Deps) llmWorker(name, instructionFile, prompt string, opts ...llm.CallOption) (pipeline.Worker, error) {
	instruction, err := worker.LoadInstructions(prompts, "prompts/"+instructionFile)
	if err != nil {
		return nil, err
	}
	w, err := worker.NewLLMWorker(&worker.LLMWorkerConfig{
		Name:        name,
		Model:       d.Model,
		Instruction: instruction,
		Prompt:      prompt,
		Options:     append(append([]llm.CallOption(nil), d.Options...), opts...),
		Artifacts:   d.Artifacts,
		Logger:      d.Logger,
	})
	if err != nil {
		return nil, err
	}
	return d.resilient(w), nil
}

func (d Deps) resilient(w pipeline.Worker) pipeline.Worker {
	if d.StepTimeout > 0 {
		w = middleware.Timeout(w, d.StepTimeout)
	}
	if d.Retry != nil {
		cfg := *d.Retry
		if cfg.Logger == nil {
			cfg.Logger = d.Logger
		}
		w = middleware.Retry(w, cfg)
	}
	return w
}

// then post-processes the output of w.
func then(w pipeline.Worker, fn func(any) (any, error)) pipeline.Worker {
	return pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
		out, err := w.Invoke(ctx, in)
		if err != nil {
			return nil, err
		}
		return fn(out)
	})
}

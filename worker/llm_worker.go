// Package worker provides the pipeline.Worker implementations steps are
// built from: LLMWorker prompts a model with the step's inputs, ToolWorker
// runs a deterministic Go function.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/pipeline"
)

// LLMWorkerConfig configures an LLMWorker.
type LLMWorkerConfig struct {
	// Name identifies the worker in logs and errors.
	Name string
	// Model answers the prompt.
	Model llm.LLM
	// Instruction is sent as the system message.
	Instruction string
	// Prompt is a text/template rendered over the step's view, e.g.
	// "Company: {{.company}}". Empty sends every input as "key:\nvalue".
	Prompt string
	// Options are passed on every call.
	Options []llm.CallOption
	// Artifacts resolves inputs holding an ArtifactRef to their content
	// before the prompt is rendered. Nil leaves references as their URI.
	Artifacts Loader
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Loader reads persisted artifacts.
type Loader interface {
	Load(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error)
}

// LLMWorker renders a prompt from the step inputs and returns the model's
// trimmed answer.
type LLMWorker struct {
	name        string
	model       llm.LLM
	instruction string
	prompt      *template.Template
	options     []llm.CallOption
	artifacts   Loader
	logger      *slog.Logger

	decode func(string) (any, error)
}

// Verify that LLMWorker implements Worker interface.
var _ pipeline.Worker = (*LLMWorker)(nil)

// NewLLMWorker creates a new LLM worker.
func NewLLMWorker(config *LLMWorkerConfig) (*LLMWorker, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	name := config.Name
	if name == "" {
		name = "llm"
	}

	var tmpl *template.Template
	if config.Prompt != "" {
		var err error
		tmpl, err = template.New(name).Option("missingkey=error").Parse(config.Prompt)
		if err != nil {
			return nil, fmt.Errorf("worker %q: invalid prompt template: %w", name, err)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LLMWorker{
		name:        name,
		model:       config.Model,
		instruction: strings.TrimSpace(config.Instruction),
		prompt:      tmpl,
		options:     config.Options,
		artifacts:   config.Artifacts,
		logger:      logger.With("component", "worker", "worker", name),
	}, nil
}

// Name returns the worker name.
func (w *LLMWorker) Name() string { return w.name }

// Invoke implements pipeline.Worker.
func (w *LLMWorker) Invoke(ctx context.Context, input pipeline.View) (any, error) {
	input, err := Resolve(ctx, w.artifacts, input)
	if err != nil {
		return nil, err
	}
	prompt, err := w.render(input)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, 2)
	if w.instruction != "" {
		messages = append(messages, llm.System(w.instruction))
	}
	messages = append(messages, llm.User(prompt))

	resp, err := w.model.Complete(ctx, messages, w.options...)
	if err != nil {
		return nil, fmt.Errorf("%s: model call failed: %w", w.name, err)
	}
	w.logger.DebugContext(ctx, "model answered",
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens)

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("%s: model returned an empty answer", w.name)
	}
	if w.decode != nil {
		return w.decode(text)
	}
	return text, nil
}

func (w *LLMWorker) render(input pipeline.View) (string, error) {
	if w.prompt == nil {
		return DefaultPrompt(input), nil
	}
	data := make(map[string]any, len(input))
	for k, v := range input {
		data[k] = pipeline.TextOf(v)
	}
	var sb strings.Builder
	if err := w.prompt.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%s: render prompt: %w", w.name, err)
	}
	return sb.String(), nil
}

// DefaultPrompt lists every input as "key:\nvalue", keys sorted.
func DefaultPrompt(input pipeline.View) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s:\n%s", k, input.Text(k))
	}
	return sb.String()
}

// Resolve returns a copy of input where every ArtifactRef is replaced by the
// artifact's content. A nil loader returns input unchanged.
func Resolve(ctx context.Context, loader Loader, input pipeline.View) (pipeline.View, error) {
	if loader == nil {
		return input, nil
	}
	out := input
	for k := range input {
		ref, ok := input.Artifact(k)
		if !ok {
			continue
		}
		data, err := loader.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", k, err)
		}
		out = out.With(k, string(data))
	}
	return out, nil
}

// LoadInstructions reads an instruction file, trimming surrounding space.
func LoadInstructions(fsys fs.FS, path string) (string, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", fmt.Errorf("load instructions: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

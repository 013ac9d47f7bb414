package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline is a validated stage tree ready to run.
//
// A Pipeline holds no per-run state; concurrent runs of the same pipeline
// are independent.
type Pipeline struct {
	name        string
	description string
	root        *Sequential
	initialKeys []string
	hooks       []Hooks
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithInitialKeys declares the keys callers must supply to Run.
func WithInitialKeys(keys ...string) Option {
	return func(p *Pipeline) {
		p.initialKeys = append(p.initialKeys, keys...)
	}
}

// WithHooks registers hooks invoked on every run.
func WithHooks(hooks ...Hooks) Option {
	return func(p *Pipeline) {
		p.hooks = append(p.hooks, hooks...)
	}
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithDescription sets a human readable description.
func WithDescription(desc string) Option {
	return func(p *Pipeline) {
		p.description = desc
	}
}

// New builds and validates a pipeline. A pipeline that fails validation is
// never returned.
func New(name string, root *Sequential, opts ...Option) (*Pipeline, error) {
	if root == nil {
		return nil, &InvalidPipelineError{Kind: KindEmpty, Stage: name, Msg: "pipeline has no root stage"}
	}
	p := &Pipeline{
		name: name,
		root: root,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline", "pipeline", name)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	// Later edits to the caller's stages must not reach a validated tree.
	p.root = freeze(root).(*Sequential)
	return p, nil
}

// freeze copies the composite stages of a tree. Steps are immutable and
// are shared.
func freeze(s Stage) Stage {
	switch st := s.(type) {
	case *Sequential:
		c := *st
		c.children = freezeAll(st.children)
		return &c
	case *Parallel:
		c := *st
		c.children = freezeAll(st.children)
		return &c
	default:
		return s
	}
}

func freezeAll(children []Stage) []Stage {
	out := make([]Stage, len(children))
	for i, child := range children {
		out[i] = freeze(child)
	}
	return out
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Description returns the pipeline description.
func (p *Pipeline) Description() string { return p.description }

// Root returns the root stage.
func (p *Pipeline) Root() *Sequential { return p.root }

// InitialKeys returns the keys required by Run.
func (p *Pipeline) InitialKeys() []string {
	return append([]string(nil), p.initialKeys...)
}

// Outputs returns every key the pipeline writes, in declaration order.
func (p *Pipeline) Outputs() []string { return p.root.Outputs() }

// Result is the outcome of a successful run.
type Result struct {
	RunID     string
	Pipeline  string
	Context   *Context
	Artifacts []ArtifactRef
	Duration  time.Duration
}

// Text returns the value of key rendered as text.
func (r *Result) Text(key string) string {
	return r.Context.Text(key)
}

// Final returns the key written last by the pipeline.
func (r *Result) Final() string {
	keys := r.Context.Keys()
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	id    string
	hooks []Hooks
}

// WithRunHooks adds hooks for one run only, e.g. an event bus scoped to a
// single REPL turn.
func WithRunHooks(hooks ...Hooks) RunOption {
	return func(c *runConfig) {
		c.hooks = append(c.hooks, hooks...)
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.id = id
	}
}

// Run executes the pipeline on the initial values.
//
// On success the returned context holds exactly the initial keys followed by
// every declared output. On failure no context is returned; the error
// identifies the failing stage.
func (p *Pipeline) Run(ctx context.Context, initial map[string]any, opts ...RunOption) (*Result, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}

	for _, key := range p.initialKeys {
		if _, ok := initial[key]; !ok {
			return nil, &MissingInputError{Key: key}
		}
	}
	outputs := make(map[string]bool)
	for _, key := range p.root.Outputs() {
		outputs[key] = true
	}
	for key := range initial {
		if outputs[key] {
			return nil, fmt.Errorf("initial value %q is an output of pipeline %q: %w", key, p.name, ErrKeyExists)
		}
	}

	rs := &runState{
		id:       cfg.id,
		pipeline: p.name,
		hooks:    MultiHooks(append(append([]Hooks(nil), p.hooks...), cfg.hooks...)...),
		logger:   p.logger.With("run_id", cfg.id),
	}

	rs.logger.Info("pipeline run started", "initial_keys", len(initial))
	start := time.Now()
	pctx := NewContext(initial)

	if err := p.root.run(ctx, rs, "", 0, pctx); err != nil {
		rs.logger.Error("pipeline run failed",
			"duration", time.Since(start),
			"failed_steps", FailedSteps(err),
			"error", err)
		return nil, err
	}

	res := &Result{
		RunID:     cfg.id,
		Pipeline:  p.name,
		Context:   pctx,
		Artifacts: rs.collected(),
		Duration:  time.Since(start),
	}
	rs.logger.Info("pipeline run completed",
		"duration", res.Duration,
		"keys", pctx.Len(),
		"artifacts", len(res.Artifacts))
	return res, nil
}

// Describe renders the stage tree.
func (p *Pipeline) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s", p.name)
	if p.description != "" {
		fmt.Fprintf(&sb, " - %s", p.description)
	}
	sb.WriteString("\n")
	if len(p.initialKeys) > 0 {
		keys := append([]string(nil), p.initialKeys...)
		sort.Strings(keys)
		fmt.Fprintf(&sb, "  inputs: %s\n", strings.Join(keys, ", "))
	}
	describeStage(&sb, p.root, 1)
	return sb.String()
}

func describeStage(sb *strings.Builder, s Stage, depth int) {
	indent := strings.Repeat("  ", depth)
	switch st := s.(type) {
	case *Step:
		fmt.Fprintf(sb, "%s- %s [step] -> %s", indent, st.Name(), st.Output())
		if len(st.inputs) > 0 {
			fmt.Fprintf(sb, " (reads %s)", strings.Join(st.inputs, ", "))
		}
		if st.sink != nil {
			fmt.Fprintf(sb, " persisted as %s", st.artifactName)
		}
		sb.WriteString("\n")
	case *Sequential:
		fmt.Fprintf(sb, "%s- %s [sequential]", indent, st.Name())
		if st.timeout > 0 {
			fmt.Fprintf(sb, " timeout=%v", st.timeout)
		}
		sb.WriteString("\n")
		for _, c := range st.children {
			describeStage(sb, c, depth+1)
		}
	case *Parallel:
		fmt.Fprintf(sb, "%s- %s [parallel]", indent, st.Name())
		if st.timeout > 0 {
			fmt.Fprintf(sb, " timeout=%v", st.timeout)
		}
		if st.maxConcurrency > 0 {
			fmt.Fprintf(sb, " max_concurrency=%d", st.maxConcurrency)
		}
		sb.WriteString("\n")
		for _, c := range st.children {
			describeStage(sb, c, depth+1)
		}
	}
}

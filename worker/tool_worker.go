package worker

import (
	"context"
	"fmt"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// ToolFunc is a deterministic step body.
type ToolFunc func(ctx context.Context, input pipeline.View) (any, error)

// ToolWorker runs a Go function as a step worker. Inputs holding an
// ArtifactRef are resolved first when an artifact loader is set.
type ToolWorker struct {
	name      string
	fn        ToolFunc
	artifacts Loader
}

// Verify that ToolWorker implements Worker interface.
var _ pipeline.Worker = (*ToolWorker)(nil)

// NewToolWorker wraps fn. artifacts may be nil.
func NewToolWorker(name string, fn ToolFunc, artifacts Loader) (*ToolWorker, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: function cannot be nil", name)
	}
	return &ToolWorker{name: name, fn: fn, artifacts: artifacts}, nil
}

// Name returns the tool name.
func (t *ToolWorker) Name() string { return t.name }

// Invoke implements pipeline.Worker.
func (t *ToolWorker) Invoke(ctx context.Context, input pipeline.View) (any, error) {
	input, err := Resolve(ctx, t.artifacts, input)
	if err != nil {
		return nil, err
	}
	out, err := t.fn(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return out, nil
}

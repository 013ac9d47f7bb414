package pipeline

import (
	"context"
	"time"
)

// StageKind identifies the variant of a stage.
type StageKind string

const (
	StageStep       StageKind = "step"
	StageSequential StageKind = "sequential"
	StageParallel   StageKind = "parallel"
)

// StageInfo describes a stage execution within a run.
type StageInfo struct {
	RunID    string
	Pipeline string
	Name     string
	Kind     StageKind
	// Path is the slash-separated position of the stage in the tree,
	// e.g. "root/parallel_analysis/analyzer_2".
	Path string
	// Index is the position of the stage among its siblings.
	Index int
}

// Outcome is reported when a stage finishes.
// Key, Value and Artifact are only set for successful steps.
type Outcome struct {
	Err      error
	Key      string
	Value    any
	Artifact *ArtifactRef
	Duration time.Duration
}

// Hooks observes stage execution.
//
// StageStart may return a derived context (for example one carrying a
// tracing span); the stage runs with that context and StageEnd receives it.
// Hooks of parallel children are invoked concurrently, so implementations
// must be safe for concurrent use.
type Hooks interface {
	StageStart(ctx context.Context, info StageInfo) context.Context
	StageEnd(ctx context.Context, info StageInfo, outcome Outcome)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are skipped.
type HookFuncs struct {
	Start func(ctx context.Context, info StageInfo) context.Context
	End   func(ctx context.Context, info StageInfo, outcome Outcome)
}

// StageStart implements Hooks.
func (h HookFuncs) StageStart(ctx context.Context, info StageInfo) context.Context {
	if h.Start == nil {
		return ctx
	}
	return h.Start(ctx, info)
}

// StageEnd implements Hooks.
func (h HookFuncs) StageEnd(ctx context.Context, info StageInfo, outcome Outcome) {
	if h.End != nil {
		h.End(ctx, info, outcome)
	}
}

type multiHooks []Hooks

// MultiHooks combines hooks. Start hooks run in order, end hooks in reverse
// order so that spans opened first are closed last.
func MultiHooks(hooks ...Hooks) Hooks {
	flat := make(multiHooks, 0, len(hooks))
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if m, ok := h.(multiHooks); ok {
			flat = append(flat, m...)
			continue
		}
		flat = append(flat, h)
	}
	return flat
}

func (m multiHooks) StageStart(ctx context.Context, info StageInfo) context.Context {
	for _, h := range m {
		ctx = h.StageStart(ctx, info)
	}
	return ctx
}

func (m multiHooks) StageEnd(ctx context.Context, info StageInfo, outcome Outcome) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].StageEnd(ctx, info, outcome)
	}
}

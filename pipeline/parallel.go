package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Parallel runs its children concurrently against a frozen snapshot of the
// context.
//
// Every child sees the context as it was when the stage started, never a
// sibling's output. The join waits for all children. Outputs are merged in
// declaration order, and only when every child succeeded; otherwise the
// stage fails with a CompositeError and the context is left untouched.
type Parallel struct {
	name           string
	children       []Stage
	timeout        time.Duration
	maxConcurrency int
}

// Verify that Parallel implements Stage.
var _ Stage = (*Parallel)(nil)

// NewParallel creates a parallel stage. Children must declare pairwise
// disjoint output keys.
func NewParallel(name string, children ...Stage) (*Parallel, error) {
	owners := make(map[string]string)
	for _, child := range children {
		for _, key := range child.Outputs() {
			if first, ok := owners[key]; ok {
				return nil, &DuplicateOutputKeyError{Stage: name, Key: key, First: first, Second: child.Name()}
			}
			owners[key] = child.Name()
		}
	}
	return &Parallel{
		name:     name,
		children: append([]Stage(nil), children...),
	}, nil
}

// WithTimeout bounds the whole stage. On expiry outstanding children are
// cancelled and nothing is merged.
func (p *Parallel) WithTimeout(d time.Duration) *Parallel {
	p.timeout = d
	return p
}

// WithMaxConcurrency limits how many children run at once. Zero means no limit.
func (p *Parallel) WithMaxConcurrency(n int) *Parallel {
	p.maxConcurrency = n
	return p
}

// Name returns the stage name.
func (p *Parallel) Name() string { return p.name }

// Kind returns StageParallel.
func (p *Parallel) Kind() StageKind { return StageParallel }

// Outputs returns the outputs of all children in declaration order.
func (p *Parallel) Outputs() []string { return outputsOf(p.children) }

// Children returns the child stages.
func (p *Parallel) Children() []Stage {
	return append([]Stage(nil), p.children...)
}

// Timeout returns the configured stage timeout, zero when unbounded.
func (p *Parallel) Timeout() time.Duration { return p.timeout }

// MaxConcurrency returns the concurrency limit, zero when unbounded.
func (p *Parallel) MaxConcurrency() int { return p.maxConcurrency }

func (p *Parallel) run(ctx context.Context, rs *runState, parent string, index int, pctx *Context) error {
	info := rs.info(p, parent, index)
	ctx = rs.hooks.StageStart(ctx, info)
	start := time.Now()

	err := p.runChildren(ctx, rs, info.Path, pctx)

	rs.hooks.StageEnd(ctx, info, Outcome{Err: err, Duration: time.Since(start)})
	return err
}

func (p *Parallel) runChildren(ctx context.Context, rs *runState, path string, pctx *Context) error {
	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	snapshot := pctx.Snapshot()
	results := make([]*Context, len(p.children))
	errs := make([]error, len(p.children))

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, child := range p.children {
		g.Go(func() error {
			local := snapshot.Snapshot()
			if err := child.run(runCtx, rs, path, i, local); err != nil {
				errs[i] = err
				return nil
			}
			results[i] = local
			return nil
		})
	}
	// Children never return errors to the group; failures are collected per
	// slot so that every child is accounted for.
	_ = g.Wait()

	var failures []ChildFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, ChildFailure{Name: p.children[i].Name(), Err: err})
		}
	}
	if len(failures) > 0 {
		if p.timeout > 0 && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			rs.logger.Debug("parallel stage timed out", "stage", p.name, "timeout", p.timeout)
			return &TimeoutError{Stage: p.name, Timeout: p.timeout}
		}
		return &CompositeError{Stage: p.name, Failures: failures}
	}

	for i, child := range p.children {
		for _, key := range child.Outputs() {
			v, _ := results[i].Get(key)
			if err := pctx.Set(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

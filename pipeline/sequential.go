package pipeline

import (
	"context"
	"errors"
	"time"
)

// Sequential runs its children one after another.
//
// Each child's output is merged into the context before the next child
// starts, so later children can read earlier outputs. The first failure
// stops the stage; remaining children never run.
type Sequential struct {
	name     string
	children []Stage
	timeout  time.Duration
}

// Verify that Sequential implements Stage.
var _ Stage = (*Sequential)(nil)

// NewSequential creates a sequential stage.
func NewSequential(name string, children ...Stage) *Sequential {
	return &Sequential{
		name:     name,
		children: append([]Stage(nil), children...),
	}
}

// Append adds children to the end of the stage. Pipelines already built
// from the stage keep the children they were validated with.
func (s *Sequential) Append(children ...Stage) *Sequential {
	s.children = append(s.children, children...)
	return s
}

// WithTimeout bounds the whole stage.
func (s *Sequential) WithTimeout(d time.Duration) *Sequential {
	s.timeout = d
	return s
}

// Name returns the stage name.
func (s *Sequential) Name() string { return s.name }

// Kind returns StageSequential.
func (s *Sequential) Kind() StageKind { return StageSequential }

// Outputs returns the outputs of all children in order.
func (s *Sequential) Outputs() []string { return outputsOf(s.children) }

// Children returns the child stages.
func (s *Sequential) Children() []Stage {
	return append([]Stage(nil), s.children...)
}

// Timeout returns the configured stage timeout, zero when unbounded.
func (s *Sequential) Timeout() time.Duration { return s.timeout }

func (s *Sequential) run(ctx context.Context, rs *runState, parent string, index int, pctx *Context) error {
	info := rs.info(s, parent, index)
	ctx = rs.hooks.StageStart(ctx, info)
	start := time.Now()

	err := s.runChildren(ctx, rs, info.Path, pctx)

	rs.hooks.StageEnd(ctx, info, Outcome{Err: err, Duration: time.Since(start)})
	return err
}

func (s *Sequential) runChildren(ctx context.Context, rs *runState, path string, pctx *Context) error {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for i, child := range s.children {
		rs.logger.Debug("sequential stage running", "stage", s.name, "index", i, "child", child.Name())

		err := runCtx.Err()
		if err == nil {
			err = child.run(runCtx, rs, path, i, pctx)
		}
		if err != nil {
			if s.timedOut(ctx, runCtx) {
				err = &TimeoutError{Stage: s.name, Timeout: s.timeout}
			}
			rs.logger.Debug("sequential stage failed", "stage", s.name, "index", i, "child", child.Name())
			return &StageError{Stage: s.name, Index: i, Child: child.Name(), Err: err}
		}
	}

	rs.logger.Debug("sequential stage done", "stage", s.name)
	return nil
}

// timedOut reports whether runCtx expired because of this stage's own
// deadline rather than cancellation of the parent.
func (s *Sequential) timedOut(parent, runCtx context.Context) bool {
	return s.timeout > 0 && parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Worker performs the unit of work behind one step.
//
// Invoke receives a view holding exactly the step's declared inputs and
// returns the value for the step's output key. Workers may be slow and
// non-deterministic (remote model calls); the engine applies no retry
// policy of its own.
type Worker interface {
	Invoke(ctx context.Context, input View) (any, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, input View) (any, error)

// Invoke calls f.
func (f WorkerFunc) Invoke(ctx context.Context, input View) (any, error) {
	return f(ctx, input)
}

// ArtifactSink persists step outputs.
type ArtifactSink interface {
	Store(ctx context.Context, name string, content []byte) (ArtifactRef, error)
}

// Step is a leaf stage: one worker producing one output key.
type Step struct {
	name         string
	inputs       []string
	output       string
	worker       Worker
	sink         ArtifactSink
	artifactName string
	asReference  bool
}

// Verify that Step implements Stage.
var _ Stage = (*Step)(nil)

// StepOption configures a Step.
type StepOption func(*Step)

// Reads declares the context keys the step consumes.
func Reads(keys ...string) StepOption {
	return func(s *Step) {
		s.inputs = append(s.inputs, keys...)
	}
}

// Persist stores every output of the step through sink under artifactName.
func Persist(sink ArtifactSink, artifactName string) StepOption {
	return func(s *Step) {
		s.sink = sink
		s.artifactName = artifactName
	}
}

// AsReference makes the step write the ArtifactRef of its persisted output
// into the context instead of the in-memory value. Requires Persist.
func AsReference() StepOption {
	return func(s *Step) {
		s.asReference = true
	}
}

// NewStep creates a step named name that writes output using worker.
func NewStep(name, output string, worker Worker, opts ...StepOption) (*Step, error) {
	if name == "" {
		return nil, fmt.Errorf("step name cannot be empty")
	}
	if output == "" {
		return nil, fmt.Errorf("step %q requires an output key", name)
	}
	if worker == nil {
		return nil, fmt.Errorf("step %q requires a worker", name)
	}

	s := &Step{
		name:   name,
		output: output,
		worker: worker,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.asReference && s.sink == nil {
		return nil, fmt.Errorf("step %q: AsReference requires Persist", name)
	}
	if s.sink != nil && s.artifactName == "" {
		s.artifactName = s.output
	}
	return s, nil
}

// Name returns the step name.
func (s *Step) Name() string { return s.name }

// Kind returns StageStep.
func (s *Step) Kind() StageKind { return StageStep }

// Inputs returns the declared input keys.
func (s *Step) Inputs() []string {
	out := make([]string, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// Output returns the declared output key.
func (s *Step) Output() string { return s.output }

// Outputs returns the single output key.
func (s *Step) Outputs() []string { return []string{s.output} }

// Children returns nil; steps are leaves.
func (s *Step) Children() []Stage { return nil }

func (s *Step) run(ctx context.Context, rs *runState, parent string, index int, pctx *Context) error {
	info := rs.info(s, parent, index)
	ctx = rs.hooks.StageStart(ctx, info)
	start := time.Now()

	value, ref, err := s.execute(ctx, pctx)
	if err == nil {
		err = pctx.Set(s.output, value)
	}

	outcome := Outcome{Err: err, Duration: time.Since(start)}
	if err == nil {
		outcome.Key = s.output
		outcome.Value = value
		outcome.Artifact = ref
	}
	if ref != nil {
		rs.addArtifact(*ref)
	}
	rs.hooks.StageEnd(ctx, info, outcome)
	return err
}

// execute runs the worker against a view of pctx and persists the result.
//
// The worker runs on its own goroutine so that a worker ignoring
// cancellation cannot hold the stage past its deadline. In that case the
// worker's result is discarded when it eventually returns.
func (s *Step) execute(ctx context.Context, pctx *Context) (any, *ArtifactRef, error) {
	view, err := pctx.View(s.inputs...)
	if err != nil {
		var missing *MissingInputError
		if errors.As(err, &missing) {
			missing.Step = s.name
		}
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("worker panicked: %v", r)}
			}
		}()
		v, err := s.worker.Invoke(ctx, view)
		done <- result{value: v, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &StepError{Step: s.name, Reason: res.err.Error(), Err: res.err}
	}
	if res.value == nil {
		return nil, nil, &StepError{Step: s.name, Reason: "worker returned no output"}
	}
	if s.sink == nil {
		return res.value, nil, nil
	}

	content, err := encodeArtifact(res.value)
	if err != nil {
		return nil, nil, &StepError{Step: s.name, Reason: "encode artifact: " + err.Error(), Err: err}
	}
	ref, err := s.sink.Store(ctx, s.artifactName, content)
	if err != nil {
		return nil, nil, &StepError{Step: s.name, Reason: "store artifact: " + err.Error(), Err: err}
	}
	if s.asReference {
		return ref, &ref, nil
	}
	return res.value, &ref, nil
}

func encodeArtifact(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}

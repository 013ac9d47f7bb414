package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrKeyExists is returned when a context key would be written twice.
	ErrKeyExists = errors.New("context key already written")

	// ErrMissingInput is matched by MissingInputError.
	ErrMissingInput = errors.New("missing input")

	// ErrStepFailed is matched by StepError.
	ErrStepFailed = errors.New("step failed")

	// ErrDuplicateOutputKey is matched by DuplicateOutputKeyError.
	ErrDuplicateOutputKey = errors.New("duplicate output key")

	// ErrInvalidPipeline is matched by InvalidPipelineError.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrStageTimeout is matched by TimeoutError.
	ErrStageTimeout = errors.New("stage timeout")
)

// MissingInputError is returned when a declared input key is absent.
type MissingInputError struct {
	Step string
	Key  string
}

func (e *MissingInputError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("missing input %q", e.Key)
	}
	return fmt.Sprintf("step %q: missing input %q", e.Step, e.Key)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// StepError is a failure reported by a step's worker or artifact sink.
type StepError struct {
	Step   string
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %s", e.Step, e.Reason)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStepFailed}
	}
	return []error{ErrStepFailed, e.Err}
}

// DuplicateOutputKeyError is returned when two parallel children declare the same output key.
type DuplicateOutputKeyError struct {
	Stage  string
	Key    string
	First  string
	Second string
}

func (e *DuplicateOutputKeyError) Error() string {
	return fmt.Sprintf("stage %q: output key %q declared by both %q and %q", e.Stage, e.Key, e.First, e.Second)
}

func (e *DuplicateOutputKeyError) Unwrap() error { return ErrDuplicateOutputKey }

// InvalidKind classifies pipeline validation failures.
type InvalidKind string

const (
	KindCycle            InvalidKind = "cycle"
	KindForwardReference InvalidKind = "forward-reference"
	KindDuplicateOutput  InvalidKind = "duplicate-output"
	KindUnresolvedInput  InvalidKind = "unresolved-input"
	KindEmpty            InvalidKind = "empty"
)

// InvalidPipelineError is returned by New when the stage tree is malformed.
type InvalidPipelineError struct {
	Kind  InvalidKind
	Stage string
	Key   string
	Msg   string
	Err   error
}

func (e *InvalidPipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid pipeline (")
	sb.WriteString(string(e.Kind))
	sb.WriteString(")")
	if e.Stage != "" {
		sb.WriteString(fmt.Sprintf(" at %q", e.Stage))
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *InvalidPipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidPipeline}
	}
	return []error{ErrInvalidPipeline, e.Err}
}

// TimeoutError is returned when a stage exceeds its configured timeout.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %q timed out after %v", e.Stage, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrStageTimeout }

// ChildFailure is one failed child of a parallel stage.
type ChildFailure struct {
	Name string
	Err  error
}

// CompositeError aggregates the failures of a parallel stage.
type CompositeError struct {
	Stage    string
	Failures []ChildFailure
}

func (e *CompositeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	return fmt.Sprintf("parallel stage %q had %d failed children: %s", e.Stage, len(e.Failures), strings.Join(parts, "; "))
}

func (e *CompositeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Reasons maps each failed child name to its error message.
func (e *CompositeError) Reasons() map[string]string {
	out := make(map[string]string, len(e.Failures))
	for _, f := range e.Failures {
		out[f.Name] = f.Err.Error()
	}
	return out
}

// StageError anchors a child failure inside a sequential stage.
type StageError struct {
	Stage string
	Index int
	Child string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: step %d (%s) failed: %v", e.Stage, e.Index+1, e.Child, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedSteps returns the sorted names of every step that failed inside err.
func FailedSteps(err error) []string {
	seen := make(map[string]bool)
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		switch e := err.(type) {
		case *StepError:
			seen[e.Step] = true
			return
		case *MissingInputError:
			if e.Step != "" {
				seen[e.Step] = true
			}
			return
		case *CompositeError:
			for _, f := range e.Failures {
				before := len(seen)
				walk(f.Err)
				if len(seen) == before {
					seen[f.Name] = true
				}
			}
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

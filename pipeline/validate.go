package pipeline

import (
	"fmt"
)

// Validate checks the stage tree:
//   - no stage instance appears twice or contains itself
//   - no step reads its own output
//   - every output key is declared once and does not shadow an initial key
//   - every input is an initial key or produced by a stage that completes
//     before the reading step starts
//
// Validate is called by New; it is exported for tooling.
func (p *Pipeline) Validate() error {
	v := &validator{
		initial:   make(map[string]bool, len(p.initialKeys)),
		producers: make(map[string]string),
		visiting:  make(map[Stage]bool),
		seen:      make(map[Stage]bool),
	}
	for _, k := range p.initialKeys {
		v.initial[k] = true
	}

	if err := v.collect(p.root); err != nil {
		return err
	}

	available := make(map[string]bool, len(v.initial))
	for k := range v.initial {
		available[k] = true
	}
	_, err := v.check(p.root, available)
	return err
}

type validator struct {
	initial   map[string]bool
	producers map[string]string
	visiting  map[Stage]bool
	seen      map[Stage]bool
}

// collect walks the tree once, recording producers and rejecting reused
// instances, empty containers and duplicate output keys.
func (v *validator) collect(s Stage) error {
	if v.visiting[s] {
		return &InvalidPipelineError{Kind: KindCycle, Stage: s.Name(), Msg: "stage contains itself"}
	}
	if v.seen[s] {
		return &InvalidPipelineError{Kind: KindCycle, Stage: s.Name(), Msg: "stage instance appears more than once"}
	}
	v.seen[s] = true
	v.visiting[s] = true
	defer delete(v.visiting, s)

	switch st := s.(type) {
	case *Step:
		for _, in := range st.inputs {
			if in == st.output {
				return &InvalidPipelineError{
					Kind:  KindCycle,
					Stage: st.name,
					Key:   in,
					Msg:   fmt.Sprintf("step reads its own output %q", in),
				}
			}
		}
		if v.initial[st.output] {
			return &InvalidPipelineError{
				Kind:  KindDuplicateOutput,
				Stage: st.name,
				Key:   st.output,
				Msg:   fmt.Sprintf("output %q shadows an initial key", st.output),
			}
		}
		if first, ok := v.producers[st.output]; ok {
			return &InvalidPipelineError{
				Kind:  KindDuplicateOutput,
				Stage: st.name,
				Key:   st.output,
				Msg:   fmt.Sprintf("output %q already produced by %q", st.output, first),
				Err:   &DuplicateOutputKeyError{Key: st.output, First: first, Second: st.name},
			}
		}
		v.producers[st.output] = st.name
		return nil
	case *Sequential:
		if len(st.children) == 0 {
			return &InvalidPipelineError{Kind: KindEmpty, Stage: st.name, Msg: "sequential stage has no children"}
		}
		for _, c := range st.children {
			if err := v.collect(c); err != nil {
				return err
			}
		}
		return nil
	case *Parallel:
		if len(st.children) == 0 {
			return &InvalidPipelineError{Kind: KindEmpty, Stage: st.name, Msg: "parallel stage has no children"}
		}
		for _, c := range st.children {
			if err := v.collect(c); err != nil {
				return err
			}
		}
		return nil
	default:
		return &InvalidPipelineError{Kind: KindEmpty, Stage: s.Name(), Msg: fmt.Sprintf("unknown stage type %T", s)}
	}
}

// check verifies data flow. It returns the keys available after s completes.
func (v *validator) check(s Stage, available map[string]bool) (map[string]bool, error) {
	switch st := s.(type) {
	case *Step:
		for _, in := range st.inputs {
			if available[in] {
				continue
			}
			if producer, ok := v.producers[in]; ok {
				return nil, &InvalidPipelineError{
					Kind:  KindForwardReference,
					Stage: st.name,
					Key:   in,
					Msg:   fmt.Sprintf("reads %q, which %q produces only later or concurrently", in, producer),
				}
			}
			return nil, &InvalidPipelineError{
				Kind:  KindUnresolvedInput,
				Stage: st.name,
				Key:   in,
				Msg:   fmt.Sprintf("reads %q, which is neither an initial key nor produced by any step", in),
			}
		}
		available[st.output] = true
		return available, nil
	case *Sequential:
		var err error
		for _, c := range st.children {
			if available, err = v.check(c, available); err != nil {
				return nil, err
			}
		}
		return available, nil
	case *Parallel:
		for _, c := range st.children {
			// Siblings never see each other's outputs.
			snapshot := make(map[string]bool, len(available))
			for k := range available {
				snapshot[k] = true
			}
			if _, err := v.check(c, snapshot); err != nil {
				return nil, err
			}
		}
		for _, key := range st.Outputs() {
			available[key] = true
		}
		return available, nil
	}
	return available, nil
}

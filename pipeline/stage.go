package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// Stage is a node of the pipeline tree: a Step, a Sequential or a Parallel.
//
// The set of stage kinds is closed; run is unexported so that only this
// package can provide implementations.
type Stage interface {
	Name() string
	Kind() StageKind
	// Outputs returns every key the stage writes, in declaration order.
	Outputs() []string
	Children() []Stage

	run(ctx context.Context, rs *runState, parent string, index int, pctx *Context) error
}

// runState is the per-run scope shared by every stage of one run.
type runState struct {
	id       string
	pipeline string
	hooks    Hooks
	logger   *slog.Logger

	mu        sync.Mutex
	artifacts []ArtifactRef
}

func (rs *runState) info(s Stage, parent string, index int) StageInfo {
	path := s.Name()
	if parent != "" {
		path = parent + "/" + path
	}
	return StageInfo{
		RunID:    rs.id,
		Pipeline: rs.pipeline,
		Name:     s.Name(),
		Kind:     s.Kind(),
		Path:     path,
		Index:    index,
	}
}

func (rs *runState) addArtifact(ref ArtifactRef) {
	rs.mu.Lock()
	rs.artifacts = append(rs.artifacts, ref)
	rs.mu.Unlock()
}

func (rs *runState) collected() []ArtifactRef {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]ArtifactRef, len(rs.artifacts))
	copy(out, rs.artifacts)
	return out
}

func outputsOf(children []Stage) []string {
	var keys []string
	for _, c := range children {
		keys = append(keys, c.Outputs()...)
	}
	return keys
}

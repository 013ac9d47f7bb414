package checkpointing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// Recorder saves a checkpoint for every step that completes successfully.
//
// Steps of a parallel stage complete in any order; checkpoints are chained
// in completion order. Hooks cannot fail a run, so save errors are logged
// and the most recent one is kept for Err.
//
// Example:
//
//	rec := checkpointing.NewRecorder(storage, logger)
//	p, _ := pipeline.New("demo", root, pipeline.WithHooks(rec))
type Recorder struct {
	storage Storage
	logger  *slog.Logger

	mu      sync.Mutex
	runs    map[string]*runCursor
	lastErr error
}

type runCursor struct {
	steps  int
	lastID string
}

// Verify that Recorder implements Hooks interface.
var _ pipeline.Hooks = (*Recorder)(nil)

// NewRecorder creates a recorder writing to storage.
func NewRecorder(storage Storage, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		storage: storage,
		logger:  logger.With("component", "checkpointing"),
		runs:    make(map[string]*runCursor),
	}
}

// StageStart implements pipeline.Hooks.
func (r *Recorder) StageStart(ctx context.Context, info pipeline.StageInfo) context.Context {
	return ctx
}

// StageEnd implements pipeline.Hooks.
func (r *Recorder) StageEnd(ctx context.Context, info pipeline.StageInfo, out pipeline.Outcome) {
	if info.Kind != pipeline.StageStep || out.Err != nil {
		return
	}

	r.mu.Lock()
	cur, ok := r.runs[info.RunID]
	if !ok {
		cur = &runCursor{}
		r.runs[info.RunID] = cur
	}
	cur.steps++
	checkpoint := &Checkpoint{
		ID:         uuid.New().String(),
		RunID:      info.RunID,
		Pipeline:   info.Pipeline,
		Step:       info.Path,
		StepNumber: cur.steps,
		Key:        out.Key,
		Value:      pipeline.TextOf(out.Value),
		Artifact:   out.Artifact,
		Timestamp:  time.Now(),
		ParentID:   cur.lastID,
	}
	cur.lastID = checkpoint.ID
	r.mu.Unlock()

	// Save under a context that survives cancellation of the step.
	if err := r.storage.Save(context.WithoutCancel(ctx), checkpoint); err != nil {
		r.logger.Error("failed to save checkpoint",
			"run_id", info.RunID,
			"step", info.Path,
			"error", err)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return
	}
	r.logger.Debug("checkpoint saved",
		"run_id", info.RunID,
		"step", info.Path,
		"checkpoint_id", checkpoint.ID,
		"step_number", checkpoint.StepNumber)
}

// Err returns the most recent save error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// History returns the checkpoints of a run, oldest first.
func (r *Recorder) History(ctx context.Context, runID string) ([]*Checkpoint, error) {
	latest, err := r.storage.Latest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	if latest == nil {
		return []*Checkpoint{}, nil
	}

	chain, err := Chain(ctx, r.storage, latest.ID, latest.StepNumber)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// State rebuilds the key/value pairs a run has written, as text.
func (r *Recorder) State(ctx context.Context, runID string) (map[string]string, error) {
	history, err := r.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	state := make(map[string]string, len(history))
	for _, c := range history {
		state[c.Key] = c.Value
	}
	return state, nil
}

// Forget drops the in-memory cursor of a finished run. Stored checkpoints
// are left in place.
func (r *Recorder) Forget(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}

// Package checkpointing records the progress of pipeline runs.
//
// A Recorder attached to a pipeline as hooks saves one checkpoint per
// successful step. Checkpoints of a run are chained through ParentID so a
// run can be inspected after the fact:
//   - History lists what each step produced, in completion order
//   - State rebuilds the key/value pairs written so far
//
// Components:
//   - Checkpoint: one completed step
//   - Storage: interface for storage backends
//   - InMemoryStorage: in-memory storage implementation
//   - FileStorage: file-based persistent storage
//   - Recorder: pipeline.Hooks that writes checkpoints
package checkpointing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// Checkpoint captures one completed step of a run.
type Checkpoint struct {
	ID       string `json:"checkpoint_id"`
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	// Step is the step path within the stage tree.
	Step string `json:"step"`
	// StepNumber counts completed steps within the run, starting at 1.
	StepNumber int    `json:"step_number"`
	Key        string `json:"key"`
	// Value is the text rendering of what the step wrote under Key.
	Value     string                `json:"value,omitempty"`
	Artifact  *pipeline.ArtifactRef `json:"artifact,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	ParentID  string                `json:"parent_checkpoint_id,omitempty"`
}

// ToJSON serializes checkpoint to JSON.
func (c *Checkpoint) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON deserializes checkpoint from JSON.
func FromJSON(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if c.ID == "" || c.RunID == "" {
		return nil, fmt.Errorf("checkpoint is missing its id or run id")
	}
	return &c, nil
}

// Storage is the interface for checkpoint storage backends.
//
// Implementations:
//   - InMemoryStorage: For tests and single process use
//   - FileStorage: For persistence to disk
type Storage interface {
	// Save saves checkpoint to storage.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load loads checkpoint by ID. Returns nil if not found.
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List lists checkpoints for a run, most recent first.
	// A limit of 0 means no limit.
	List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error)

	// Latest gets the latest checkpoint for a run. Returns nil if none.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)

	// Delete deletes checkpoint. Returns false if not found.
	Delete(ctx context.Context, checkpointID string) (bool, error)

	// DeleteRun deletes all checkpoints of a run and returns how many were deleted.
	DeleteRun(ctx context.Context, runID string) (int, error)
}

// Chain follows parent links from checkpointID, newest first, visiting at
// most maxDepth checkpoints.
func Chain(ctx context.Context, s Storage, checkpointID string, maxDepth int) ([]*Checkpoint, error) {
	history := make([]*Checkpoint, 0)
	currentID := checkpointID

	for i := 0; i < maxDepth && currentID != ""; i++ {
		checkpoint, err := s.Load(ctx, currentID)
		if err != nil {
			return nil, err
		}
		if checkpoint == nil {
			break
		}
		history = append(history, checkpoint)
		currentID = checkpoint.ParentID
	}

	return history, nil
}

package checkpointing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// InMemoryStorage provides in-memory checkpoint storage.
//
// Example:
//
//	storage := NewInMemoryStorage()
//	err := storage.Save(ctx, checkpoint)
type InMemoryStorage struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint // checkpoint_id -> Checkpoint
	runs        map[string][]string    // run_id -> checkpoint_ids, most recent first
}

// Verify that InMemoryStorage implements Storage interface.
var _ Storage = (*InMemoryStorage)(nil)

// NewInMemoryStorage creates a new in-memory checkpoint storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		checkpoints: make(map[string]*Checkpoint),
		runs:        make(map[string][]string),
	}
}

// Save saves checkpoint to memory.
func (s *InMemoryStorage) Save(ctx context.Context, checkpoint *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.checkpoints[checkpoint.ID]
	s.checkpoints[checkpoint.ID] = checkpoint
	if exists {
		return nil
	}

	ids := append(s.runs[checkpoint.RunID], checkpoint.ID)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.checkpoints[ids[i]].StepNumber > s.checkpoints[ids[j]].StepNumber
	})
	s.runs[checkpoint.RunID] = ids
	return nil
}

// Load loads checkpoint from memory.
func (s *InMemoryStorage) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[checkpointID], nil
}

// List lists checkpoints for a run.
func (s *InMemoryStorage) List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.runs[runID]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	checkpoints := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		checkpoints = append(checkpoints, s.checkpoints[id])
	}
	return checkpoints, nil
}

// Latest gets latest checkpoint for a run.
func (s *InMemoryStorage) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	return latest(ctx, s, runID)
}

// Delete deletes checkpoint.
func (s *InMemoryStorage) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoint, ok := s.checkpoints[checkpointID]
	if !ok {
		return false, nil
	}
	delete(s.checkpoints, checkpointID)

	ids := s.runs[checkpoint.RunID]
	for i, id := range ids {
		if id == checkpointID {
			s.runs[checkpoint.RunID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// DeleteRun deletes all checkpoints for a run.
func (s *InMemoryStorage) DeleteRun(ctx context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.runs[runID]
	for _, id := range ids {
		delete(s.checkpoints, id)
	}
	delete(s.runs, runID)
	return len(ids), nil
}

// FileStorage provides file-based checkpoint storage.
//
// Directory structure:
//
//	checkpoint_dir/
//	  {run_id}/
//	    {checkpoint_id}.json
//	    ...
type FileStorage struct {
	checkpointDir string
}

// Verify that FileStorage implements Storage interface.
var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a new file-based checkpoint storage.
func NewFileStorage(checkpointDir string) (*FileStorage, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStorage{checkpointDir: checkpointDir}, nil
}

func (s *FileStorage) runDir(runID string) string {
	return filepath.Join(s.checkpointDir, runID)
}

// Save saves checkpoint to file.
func (s *FileStorage) Save(ctx context.Context, checkpoint *Checkpoint) error {
	dir := s.runDir(checkpoint.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := checkpoint.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	path := filepath.Join(dir, checkpoint.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// find returns the path of a checkpoint file, or "" if there is none.
func (s *FileStorage) find(checkpointID string) (string, error) {
	entries, err := os.ReadDir(s.checkpointDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.checkpointDir, entry.Name(), checkpointID+".json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// Load loads checkpoint from file.
func (s *FileStorage) Load(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	path, err := s.find(checkpointID)
	if err != nil || path == "" {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return FromJSON(data)
}

// List lists checkpoints for a run. Malformed files are skipped.
func (s *FileStorage) List(ctx context.Context, runID string, limit int) ([]*Checkpoint, error) {
	dir := s.runDir(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Checkpoint{}, nil
		}
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	checkpoints := make([]*Checkpoint, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		checkpoint, err := FromJSON(data)
		if err != nil {
			continue
		}
		checkpoints = append(checkpoints, checkpoint)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].StepNumber > checkpoints[j].StepNumber
	})
	if limit > 0 && len(checkpoints) > limit {
		checkpoints = checkpoints[:limit]
	}
	return checkpoints, nil
}

// Latest gets latest checkpoint for a run.
func (s *FileStorage) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	return latest(ctx, s, runID)
}

// Delete deletes checkpoint file.
func (s *FileStorage) Delete(ctx context.Context, checkpointID string) (bool, error) {
	path, err := s.find(checkpointID)
	if err != nil || path == "" {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return true, nil
}

// DeleteRun deletes all checkpoints for a run.
func (s *FileStorage) DeleteRun(ctx context.Context, runID string) (int, error) {
	dir := s.runDir(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read run directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			continue
		}
		count++
	}
	_ = os.Remove(dir) // fails when foreign files remain
	return count, nil
}

func latest(ctx context.Context, s Storage, runID string) (*Checkpoint, error) {
	checkpoints, err := s.List(ctx, runID, 1)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}
	return checkpoints[0], nil
}

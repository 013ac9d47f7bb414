package checkpointing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/pipekit/pipeline"
)

func testCheckpoint(runID, id string, step int, parent string) *Checkpoint {
	return &Checkpoint{
		ID:         id,
		RunID:      runID,
		Pipeline:   "demo",
		Step:       "root/s" + id,
		StepNumber: step,
		Key:        "k" + id,
		Value:      "v" + id,
		Timestamp:  time.Now(),
		ParentID:   parent,
	}
}

func storages(t *testing.T) map[string]Storage {
	fs, err := NewFileStorage(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	return map[string]Storage{
		"memory": NewInMemoryStorage(),
		"file":   fs,
	}
}

func TestStorageRoundTrip(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, testCheckpoint("run1", "a", 1, "")))
			require.NoError(t, s.Save(ctx, testCheckpoint("run1", "b", 2, "a")))
			require.NoError(t, s.Save(ctx, testCheckpoint("run1", "c", 3, "b")))
			require.NoError(t, s.Save(ctx, testCheckpoint("run2", "x", 1, "")))

			got, err := s.Load(ctx, "b")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "vb", got.Value)
			assert.Equal(t, "a", got.ParentID)

			missing, err := s.Load(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			list, err := s.List(ctx, "run1", 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "c", list[0].ID, "most recent first")

			limited, err := s.List(ctx, "run1", 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			latest, err := s.Latest(ctx, "run1")
			require.NoError(t, err)
			assert.Equal(t, "c", latest.ID)

			chain, err := Chain(ctx, s, "c", 10)
			require.NoError(t, err)
			ids := make([]string, len(chain))
			for i, c := range chain {
				ids[i] = c.ID
			}
			assert.Equal(t, []string{"c", "b", "a"}, ids)

			shallow, err := Chain(ctx, s, "c", 2)
			require.NoError(t, err)
			assert.Len(t, shallow, 2)

			ok, err := s.Delete(ctx, "b")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Delete(ctx, "b")
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := s.DeleteRun(ctx, "run1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			list, err = s.List(ctx, "run1", 0)
			require.NoError(t, err)
			assert.Empty(t, list)

			other, err := s.List(ctx, "run2", 0)
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestFileStorageSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testCheckpoint("run", "a", 1, "")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run", "junk.json"), []byte("{not json"), 0644))

	list, err := s.List(ctx, "run", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFromJSONRejectsIncomplete(t *testing.T) {
	_, err := FromJSON([]byte(`{"step":"x"}`))
	assert.Error(t, err)
}

func mustStep(t *testing.T, name, output string, w pipeline.Worker, opts ...pipeline.StepOption) *pipeline.Step {
	t.Helper()
	s, err := pipeline.NewStep(name, output, w, opts...)
	require.NoError(t, err)
	return s
}

func constWorker(v string) pipeline.Worker {
	return pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
		return v, nil
	})
}

func TestRecorderHistory(t *testing.T) {
	storage := NewInMemoryStorage()
	rec := NewRecorder(storage, nil)

	par, err := pipeline.NewParallel("fan",
		mustStep(t, "left", "l", constWorker("L"), pipeline.Reads("seed")),
		mustStep(t, "right", "r", constWorker("R"), pipeline.Reads("seed")),
	)
	require.NoError(t, err)
	root := pipeline.NewSequential("root",
		mustStep(t, "seed", "seed", constWorker("S"), pipeline.Reads("request")),
		par,
		mustStep(t, "join", "joined", constWorker("J"), pipeline.Reads("l", "r")),
	)
	p, err := pipeline.New("demo", root, pipeline.WithInitialKeys("request"), pipeline.WithHooks(rec))
	require.NoError(t, err)

	res, err := p.Run(context.Background(), map[string]any{"request": "go"})
	require.NoError(t, err)
	require.NoError(t, rec.Err())

	history, err := rec.History(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, "seed", history[0].Key)
	assert.Equal(t, "root/seed", history[0].Step)
	assert.Empty(t, history[0].ParentID)
	assert.Equal(t, "joined", history[3].Key)
	for i, c := range history {
		assert.Equal(t, i+1, c.StepNumber)
		assert.Equal(t, "demo", c.Pipeline)
		if i > 0 {
			assert.Equal(t, history[i-1].ID, c.ParentID)
		}
	}
	middle := []string{history[1].Key, history[2].Key}
	sort.Strings(middle)
	assert.Equal(t, []string{"l", "r"}, middle)

	state, err := rec.State(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"seed": "S", "l": "L", "r": "R", "joined": "J"}, state)
}

func TestRecorderSkipsFailedSteps(t *testing.T) {
	storage := NewInMemoryStorage()
	rec := NewRecorder(storage, nil)

	root := pipeline.NewSequential("root",
		mustStep(t, "ok", "a", constWorker("A"), pipeline.Reads("request")),
		mustStep(t, "bad", "b", pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
			return nil, errors.New("nope")
		}), pipeline.Reads("a")),
	)
	p, err := pipeline.New("demo", root, pipeline.WithInitialKeys("request"))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{"request": "go"},
		pipeline.WithRunHooks(rec), pipeline.WithRunID("fixed"))
	require.Error(t, err)

	history, err := rec.History(context.Background(), "fixed")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].Key)

	empty, err := rec.History(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type failingStorage struct{ *InMemoryStorage }

func (failingStorage) Save(ctx context.Context, c *Checkpoint) error {
	return errors.New("disk full")
}

func TestRecorderKeepsSaveError(t *testing.T) {
	rec := NewRecorder(failingStorage{NewInMemoryStorage()}, nil)
	p, err := pipeline.New("demo", pipeline.NewSequential("root",
		mustStep(t, "ok", "a", constWorker("A"), pipeline.Reads("request"))),
		pipeline.WithInitialKeys("request"), pipeline.WithHooks(rec))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{"request": "go"})
	require.NoError(t, err, "save failures never fail the run")
	assert.EqualError(t, rec.Err(), "disk full")
}

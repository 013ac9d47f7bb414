// Package events streams pipeline stage events to live subscribers.
//
// A Bus is attached to a pipeline as hooks and fans every stage start and
// end out to its subscribers. A Hub serves the same stream over websocket.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// Event types.
const (
	StageStarted   = "stage_started"
	StageCompleted = "stage_completed"
	StageFailed    = "stage_failed"
)

// Event is one stage transition of a run.
type Event struct {
	RunID      string             `json:"run_id"`
	Pipeline   string             `json:"pipeline"`
	Type       string             `json:"type"`
	Stage      string             `json:"stage"`
	Kind       pipeline.StageKind `json:"kind"`
	Path       string             `json:"path"`
	Index      int                `json:"index"`
	Key        string             `json:"key,omitempty"`
	Artifact   string             `json:"artifact,omitempty"`
	Error      string             `json:"error,omitempty"`
	DurationMS int64              `json:"duration_ms,omitempty"`
	Time       time.Time          `json:"time"`
}

// DefaultBuffer is the per-subscriber buffer used when none is given.
const DefaultBuffer = 256

// Bus publishes events to subscribers without blocking the pipeline.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int

	dropped atomic.Int64
}

type subscription struct {
	runID string
	ch    chan Event
}

// Verify that Bus implements Hooks interface.
var _ pipeline.Hooks = (*Bus)(nil)

// NewBus creates a bus. A buffer of 0 uses DefaultBuffer.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		buffer: buffer,
		logger: logger.With("component", "events"),
		subs:   make(map[int]*subscription),
	}
}

// Subscribe returns a channel receiving the events of runID, or of every
// run when runID is empty. cancel closes the channel.
func (b *Bus) Subscribe(runID string) (events <-chan Event, cancel func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{runID: runID, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.runID != "" && s.runID != e.RunID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber is full, event dropped",
				"run_id", e.RunID,
				"type", e.Type,
				"path", e.Path)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// StageStart implements pipeline.Hooks.
func (b *Bus) StageStart(ctx context.Context, info pipeline.StageInfo) context.Context {
	b.Publish(newEvent(StageStarted, info))
	return ctx
}

// StageEnd implements pipeline.Hooks.
func (b *Bus) StageEnd(ctx context.Context, info pipeline.StageInfo, out pipeline.Outcome) {
	e := newEvent(StageCompleted, info)
	e.DurationMS = out.Duration.Milliseconds()
	if out.Err != nil {
		e.Type = StageFailed
		e.Error = out.Err.Error()
	} else {
		e.Key = out.Key
		if out.Artifact != nil {
			e.Artifact = out.Artifact.URI
		}
	}
	b.Publish(e)
}

func newEvent(typ string, info pipeline.StageInfo) Event {
	return Event{
		RunID:    info.RunID,
		Pipeline: info.Pipeline,
		Type:     typ,
		Stage:    info.Name,
		Kind:     info.Kind,
		Path:     info.Path,
		Index:    info.Index,
		Time:     time.Now(),
	}
}

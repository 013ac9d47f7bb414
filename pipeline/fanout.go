package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// InstanceKey is added to the view of fan-out instances when no Select
// function is configured. Its value is the zero-based instance index.
const InstanceKey = "instance_index"

// FanOutConfig configures NewFanOut.
type FanOutConfig struct {
	// Name of the parallel stage. Instances are named <Name>_<i+1>.
	Name string
	// Count is the number of instances.
	Count int
	// OutputKey is the base output key. Instance i writes IndexedKey(OutputKey, i).
	OutputKey string
	// Reads are the context keys every instance consumes.
	Reads []string
	// Worker returns the worker for instance i.
	Worker func(i int) Worker
	// Select derives the view handed to instance i from the shared view,
	// e.g. picking the i-th item of a list. Optional.
	Select func(i int, view View) (View, error)

	Timeout        time.Duration
	MaxConcurrency int
}

// IndexedKey returns the output key of fan-out instance i.
func IndexedKey(key string, i int) string {
	return fmt.Sprintf("%s_%d", key, i+1)
}

// NewFanOut builds a parallel stage of Count structurally identical steps
// that differ only in their index and output key.
func NewFanOut(cfg FanOutConfig) (*Parallel, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("fan-out %q: count must be positive, got %d", cfg.Name, cfg.Count)
	}
	if cfg.OutputKey == "" {
		return nil, fmt.Errorf("fan-out %q requires an output key", cfg.Name)
	}
	if cfg.Worker == nil {
		return nil, fmt.Errorf("fan-out %q requires a worker factory", cfg.Name)
	}

	children := make([]Stage, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		w := cfg.Worker(i)
		if w == nil {
			return nil, fmt.Errorf("fan-out %q: no worker for instance %d", cfg.Name, i+1)
		}
		step, err := NewStep(
			fmt.Sprintf("%s_%d", cfg.Name, i+1),
			IndexedKey(cfg.OutputKey, i),
			selectWorker(i, cfg.Select, w),
			Reads(cfg.Reads...),
		)
		if err != nil {
			return nil, fmt.Errorf("fan-out %q: %w", cfg.Name, err)
		}
		children = append(children, step)
	}

	p, err := NewParallel(cfg.Name, children...)
	if err != nil {
		return nil, err
	}
	return p.WithTimeout(cfg.Timeout).WithMaxConcurrency(cfg.MaxConcurrency), nil
}

func selectWorker(i int, sel func(int, View) (View, error), w Worker) Worker {
	return WorkerFunc(func(ctx context.Context, input View) (any, error) {
		if sel == nil {
			return w.Invoke(ctx, input.With(InstanceKey, i))
		}
		view, err := sel(i, input)
		if err != nil {
			return nil, fmt.Errorf("select input for instance %d: %w", i+1, err)
		}
		return w.Invoke(ctx, view)
	})
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)]|\(\d+\))\s*`)

// SplitList parses a numbered or bulleted list, one item per line.
// Blank lines and markdown emphasis around items are dropped.
func SplitList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(line, "*_` ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// SelectItem returns a Select function that hands instance i the i-th item
// of the list stored under listKey, as itemKey. Missing items fail the instance.
func SelectItem(listKey, itemKey string) func(int, View) (View, error) {
	return func(i int, view View) (View, error) {
		var items []string
		switch v := view[listKey].(type) {
		case []string:
			items = v
		default:
			items = SplitList(view.Text(listKey))
		}
		if i >= len(items) {
			return nil, fmt.Errorf("%q has %d items, need item %d", listKey, len(items), i+1)
		}
		return view.With(itemKey, items[i]), nil
	}
}

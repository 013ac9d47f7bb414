package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// delayLLM sleeps before answering.
type delayLLM struct {
	delay time.Duration
	fail  bool
}

func (d *delayLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	time.Sleep(d.delay)
	if d.fail {
		return nil, errors.New("intentional failure")
	}
	return &llm.Response{Content: "response", Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}}, nil
}

func (d *delayLLM) Model() string      { return "delay" }
func (d *delayLLM) Unwrap() interface{} { return nil }

func TestMeteredCounts(t *testing.T) {
	ctx := context.Background()
	metered := Meter(&delayLLM{delay: time.Millisecond})

	if m := metered.Snapshot(); m.TotalCalls != 0 {
		t.Errorf("Expected 0 total calls, got %d", m.TotalCalls)
	}
	for i := 0; i < 5; i++ {
		if _, err := metered.Complete(ctx, []llm.Message{llm.User("q")}); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	m := metered.Snapshot()
	if m.TotalCalls != 5 || m.SuccessCalls != 5 || m.ErrorCalls != 0 {
		t.Errorf("unexpected counts %+v", m)
	}
	if m.PromptTokens != 50 || m.CompletionTokens != 20 {
		t.Errorf("Expected 50/20 tokens, got %d/%d", m.PromptTokens, m.CompletionTokens)
	}
	if m.MinLatency <= 0 || m.MaxLatency < m.MinLatency || m.AverageLatency() < m.MinLatency {
		t.Errorf("inconsistent latencies %+v", m)
	}
}

func TestMeteredErrors(t *testing.T) {
	metered := Meter(&delayLLM{fail: true})
	for i := 0; i < 4; i++ {
		if _, err := metered.Complete(context.Background(), nil); err == nil {
			t.Fatal("Expected error")
		}
	}
	m := metered.Snapshot()
	if m.ErrorCalls != 4 || m.ErrorRate() != 1.0 {
		t.Errorf("unexpected error metrics %+v", m)
	}
	if m.PromptTokens != 0 {
		t.Errorf("failed calls report no tokens, got %d", m.PromptTokens)
	}

	metered.Reset()
	if m := metered.Snapshot(); m.TotalCalls != 0 || m.ErrorRate() != 0 || m.AverageLatency() != 0 {
		t.Errorf("Expected zeroed metrics after Reset, got %+v", m)
	}
}

func TestMeteredConcurrent(t *testing.T) {
	metered := Meter(llm.NewMockLLM(llm.MockRule{Reply: "ok"}))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = metered.Complete(context.Background(), []llm.Message{llm.User("q")})
		}()
	}
	wg.Wait()

	m := metered.Snapshot()
	if m.TotalCalls != 50 || m.InFlightCalls != 0 {
		t.Errorf("Expected 50 calls and none in flight, got %+v", m)
	}
	if metered.Model() != "mock" {
		t.Errorf("Expected model passthrough, got %q", metered.Model())
	}
}

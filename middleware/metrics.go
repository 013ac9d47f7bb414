package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// Metrics holds call counters for a model.
type Metrics struct {
	// Call metrics
	TotalCalls   int64
	SuccessCalls int64
	ErrorCalls   int64

	// Latency metrics
	TotalLatency time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration

	// Token usage reported by the provider
	PromptTokens     int64
	CompletionTokens int64

	// Current state
	InFlightCalls int64
}

// AverageLatency returns the average call latency.
func (m Metrics) AverageLatency() time.Duration {
	if m.TotalCalls == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalCalls)
}

// ErrorRate returns the error rate as a fraction (0.0 to 1.0).
func (m Metrics) ErrorRate() float64 {
	if m.TotalCalls == 0 {
		return 0.0
	}
	return float64(m.ErrorCalls) / float64(m.TotalCalls)
}

// MeteredLLM wraps a model with in-process call metrics. Each retry of a
// step counts as a separate call.
type MeteredLLM struct {
	llm llm.LLM

	mu      sync.Mutex
	metrics Metrics
}

// Verify that MeteredLLM implements LLM interface.
var _ llm.LLM = (*MeteredLLM)(nil)

// Meter wraps model with call metrics.
func Meter(model llm.LLM) *MeteredLLM {
	return &MeteredLLM{llm: model}
}

// Model returns the wrapped model identifier.
func (m *MeteredLLM) Model() string {
	return m.llm.Model()
}

// Unwrap returns the wrapped LLM.
func (m *MeteredLLM) Unwrap() interface{} {
	return m.llm
}

// Snapshot returns a copy of the current metrics.
func (m *MeteredLLM) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Reset clears all metrics except calls in flight.
func (m *MeteredLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = Metrics{InFlightCalls: m.metrics.InFlightCalls}
}

// Complete calls the wrapped model and records the outcome.
func (m *MeteredLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	m.mu.Lock()
	m.metrics.InFlightCalls++
	m.mu.Unlock()

	start := time.Now()
	resp, err := m.llm.Complete(ctx, messages, opts...)
	latency := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.InFlightCalls--
	m.metrics.TotalCalls++
	m.metrics.TotalLatency += latency
	if m.metrics.MinLatency == 0 || latency < m.metrics.MinLatency {
		m.metrics.MinLatency = latency
	}
	if latency > m.metrics.MaxLatency {
		m.metrics.MaxLatency = latency
	}

	if err != nil {
		m.metrics.ErrorCalls++
		return resp, err
	}
	m.metrics.SuccessCalls++
	if resp != nil {
		m.metrics.PromptTokens += int64(resp.Usage.PromptTokens)
		m.metrics.CompletionTokens += int64(resp.Usage.CompletionTokens)
	}
	return resp, nil
}

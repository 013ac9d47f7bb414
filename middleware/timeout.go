package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// ErrWorkerTimeout is matched by TimeoutError.
var ErrWorkerTimeout = errors.New("worker timed out")

// TimeoutError is returned when a worker exceeds its timeout.
type TimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker timed out after %v", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrWorkerTimeout }

// TimeoutMetrics tracks timeout middleware metrics.
type TimeoutMetrics struct {
	mu                 sync.RWMutex
	TotalRequests      int64
	SuccessfulRequests int64
	TimedOutRequests   int64
	FailedRequests     int64 // Failed for reasons other than timeout
	TotalDuration      time.Duration
}

func (m *TimeoutMetrics) record(d time.Duration, counter *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
	*counter++
	m.TotalDuration += d
}

// Snapshot returns total, successful, timed out and failed counts.
func (m *TimeoutMetrics) Snapshot() (total, ok, timedOut, failed int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TotalRequests, m.SuccessfulRequests, m.TimedOutRequests, m.FailedRequests
}

// TimeoutWorker bounds a single worker invocation.
//
// Unlike a stage timeout, which fails the whole stage, a worker timeout
// surfaces as an ordinary step failure and composes with Retry:
//
//	w := middleware.Retry(middleware.Timeout(model, 30*time.Second), cfg)
type TimeoutWorker struct {
	worker  pipeline.Worker
	timeout time.Duration
	metrics *TimeoutMetrics
}

// Verify that TimeoutWorker implements Worker interface.
var _ pipeline.Worker = (*TimeoutWorker)(nil)

// Timeout wraps worker with a per-call deadline. Default: 30s.
func Timeout(worker pipeline.Worker, d time.Duration) *TimeoutWorker {
	if d <= 0 {
		d = 30 * time.Second
	}
	return &TimeoutWorker{
		worker:  worker,
		timeout: d,
		metrics: &TimeoutMetrics{},
	}
}

// Metrics returns the timeout metrics.
func (t *TimeoutWorker) Metrics() *TimeoutMetrics {
	return t.metrics
}

// Invoke implements the Worker interface with timeout protection.
//
// The worker runs in its own goroutine so that workers which ignore
// cancellation still return on time.
func (t *TimeoutWorker) Invoke(ctx context.Context, input pipeline.View) (any, error) {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := t.worker.Invoke(timeoutCtx, input)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				t.metrics.record(time.Since(start), &t.metrics.TimedOutRequests)
				return nil, &TimeoutError{Timeout: t.timeout}
			}
			t.metrics.record(time.Since(start), &t.metrics.FailedRequests)
			return nil, res.err
		}
		t.metrics.record(time.Since(start), &t.metrics.SuccessfulRequests)
		return res.out, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			t.metrics.record(time.Since(start), &t.metrics.FailedRequests)
			return nil, ctx.Err()
		}
		t.metrics.record(time.Since(start), &t.metrics.TimedOutRequests)
		return nil, &TimeoutError{Timeout: t.timeout}
	}
}

// Package middleware provides reusable decorators for pipeline workers and models.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors except context cancellation trigger retries.
	ShouldRetry func(error) bool

	// Logger receives one line per failed attempt. Optional.
	Logger *slog.Logger
}

// DefaultRetryConfig returns a retry config with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryWorker wraps a worker with exponential backoff retries.
//
// The pipeline engine never retries on its own; wrap the workers of steps
// that call flaky remote models instead.
type RetryWorker struct {
	worker pipeline.Worker
	config RetryConfig
}

// Verify that RetryWorker implements Worker interface.
var _ pipeline.Worker = (*RetryWorker)(nil)

// Retry wraps worker with retry logic.
func Retry(worker pipeline.Worker, config RetryConfig) *RetryWorker {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}

	return &RetryWorker{
		worker: worker,
		config: config,
	}
}

// Invoke implements the Worker interface with retry logic.
func (r *RetryWorker) Invoke(ctx context.Context, input pipeline.View) (any, error) {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		out, err := r.worker.Invoke(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if r.config.ShouldRetry != nil && !r.config.ShouldRetry(err) {
			return nil, fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, r.config.MaxAttempts, err)
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		if r.config.Logger != nil {
			r.config.Logger.Warn("worker attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", r.config.MaxAttempts,
				"backoff", backoff,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}
	}

	return nil, fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

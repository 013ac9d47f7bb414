package middleware

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// RateLimitedLLM wraps a model with a token bucket limiter.
//
// Fan-out stages issue many model calls at once; a shared limiter keeps them
// under the provider's requests-per-second quota. Calls wait for a token
// rather than failing.
type RateLimitedLLM struct {
	llm     llm.LLM
	limiter *rate.Limiter

	total    atomic.Int64
	waitedNS atomic.Int64
}

// Verify that RateLimitedLLM implements LLM interface.
var _ llm.LLM = (*RateLimitedLLM)(nil)

// RateLimit wraps model allowing rps calls per second with the given burst.
// Defaults: 10 rps, burst 10.
func RateLimit(model llm.LLM, rps float64, burst int) *RateLimitedLLM {
	if rps <= 0 {
		rps = 10
	}
	if burst < 1 {
		burst = 10
	}
	return &RateLimitedLLM{
		llm:     model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token then calls the wrapped model.
func (r *RateLimitedLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	r.total.Add(1)
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	r.waitedNS.Add(int64(time.Since(start)))
	return r.llm.Complete(ctx, messages, opts...)
}

// Model returns the wrapped model identifier.
func (r *RateLimitedLLM) Model() string {
	return r.llm.Model()
}

// Unwrap returns the wrapped LLM.
func (r *RateLimitedLLM) Unwrap() interface{} {
	return r.llm
}

// Stats returns the number of calls and the total time spent waiting.
func (r *RateLimitedLLM) Stats() (calls int64, waited time.Duration) {
	return r.total.Load(), time.Duration(r.waitedNS.Load())
}

package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed and calls pass through normally.
	StateClosed CircuitState = iota
	// StateOpen means the circuit is open and calls fail fast.
	StateOpen
	// StateHalfOpen means the circuit is testing if the provider has recovered.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen matches every CircuitBreakerError with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is the duration before attempting recovery from open state.
	// Default: 60s
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successful calls in half-open state to close the circuit.
	// Default: 2
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns a circuit breaker config with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreakerStats is a snapshot of circuit breaker counters.
type CircuitBreakerStats struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	// RejectedCalls were refused while the circuit was open.
	RejectedCalls   int64
	StateChanges    map[string]int64
	LastStateChange time.Time
	CurrentState    CircuitState
}

// CircuitBreakerError is returned when the circuit breaker is open.
type CircuitBreakerError struct {
	Model        string
	FailureCount int
}

// Error implements the error interface.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is OPEN (failed %d times)", e.Model, e.FailureCount)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitBreakerLLM wraps a model with circuit breaker protection. All
// steps sharing the model share one circuit.
//
// State transitions:
//   - CLOSED -> OPEN: After FailureThreshold consecutive failures
//   - OPEN -> HALF_OPEN: After RecoveryTimeout
//   - HALF_OPEN -> CLOSED: After SuccessThreshold consecutive successes
//   - HALF_OPEN -> OPEN: On any failure
//
// Cancellation of the caller's context is not counted as a failure.
type CircuitBreakerLLM struct {
	llm    llm.LLM
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	stats           CircuitBreakerStats
}

// Verify that CircuitBreakerLLM implements LLM interface.
var _ llm.LLM = (*CircuitBreakerLLM)(nil)

// CircuitBreaker wraps model with a circuit breaker. Zero config fields take
// their defaults.
func CircuitBreaker(model llm.LLM, config CircuitBreakerConfig) *CircuitBreakerLLM {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	return &CircuitBreakerLLM{
		llm:    model,
		config: config,
		state:  StateClosed,
		stats:  CircuitBreakerStats{StateChanges: make(map[string]int64)},
	}
}

// Model returns the wrapped model identifier.
func (c *CircuitBreakerLLM) Model() string {
	return c.llm.Model()
}

// Unwrap returns the wrapped LLM.
func (c *CircuitBreakerLLM) Unwrap() interface{} {
	return c.llm
}

// State returns the current circuit breaker state.
func (c *CircuitBreakerLLM) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the breaker counters.
func (c *CircuitBreakerLLM) Stats() CircuitBreakerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentState = c.state
	s.StateChanges = make(map[string]int64, len(c.stats.StateChanges))
	for k, v := range c.stats.StateChanges {
		s.StateChanges[k] = v
	}
	return s
}

// changeState transitions the circuit breaker to a new state. Callers hold mu.
func (c *CircuitBreakerLLM) changeState(newState CircuitState) {
	if c.state == newState {
		return
	}
	transition := fmt.Sprintf("%s->%s", c.state, newState)
	c.state = newState
	c.stats.StateChanges[transition]++
	c.stats.LastStateChange = time.Now()
}

func (c *CircuitBreakerLLM) onSuccess() {
	c.stats.SuccessfulCalls++
	switch c.state {
	case StateHalfOpen:
		c.successCount++
		if c.successCount >= c.config.SuccessThreshold {
			c.changeState(StateClosed)
			c.failureCount = 0
			c.successCount = 0
		}
	case StateClosed:
		c.failureCount = 0
	}
}

func (c *CircuitBreakerLLM) onFailure() {
	c.stats.FailedCalls++
	c.failureCount++
	c.lastFailureTime = time.Now()

	switch c.state {
	case StateHalfOpen:
		c.changeState(StateOpen)
		c.successCount = 0
	case StateClosed:
		if c.failureCount >= c.config.FailureThreshold {
			c.changeState(StateOpen)
		}
	}
}

// Complete calls the wrapped model unless the circuit is open.
func (c *CircuitBreakerLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	c.mu.Lock()
	c.stats.TotalCalls++
	if c.state == StateOpen {
		if time.Since(c.lastFailureTime) < c.config.RecoveryTimeout {
			c.stats.RejectedCalls++
			err := &CircuitBreakerError{Model: c.llm.Model(), FailureCount: c.failureCount}
			c.mu.Unlock()
			return nil, err
		}
		c.changeState(StateHalfOpen)
		c.successCount = 0
	}
	c.mu.Unlock()

	resp, err := c.llm.Complete(ctx, messages, opts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// caller gave up; says nothing about the provider
	default:
		c.onFailure()
	}
	return resp, err
}

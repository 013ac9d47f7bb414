package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// ErrBudgetExceeded matches every BudgetExceededError with errors.Is.
var ErrBudgetExceeded = errors.New("budget exceeded")

// BudgetExceededError is returned for calls made after the cap was reached.
type BudgetExceededError struct {
	Limit float64
	Spent float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget of $%.4f exceeded: spent $%.4f", e.Limit, e.Spent)
}

// Is reports whether target is ErrBudgetExceeded.
func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Config configures a LimitedLLM.
type Config struct {
	// Limit is the spending cap in dollars. Zero only tracks cost.
	Limit float64
	// WarnAt logs a warning once spending crosses this fraction of Limit.
	// Default: 0.8
	WarnAt  float64
	Pricing *Pricing
	Logger  *slog.Logger
}

// LimitedLLM records the cost of every call and refuses calls once the
// spending cap is reached.
//
// The call that crosses the cap completes; only later calls are refused.
// Costs use the model reported in the response, falling back to the
// wrapped model's identifier.
type LimitedLLM struct {
	llm    llm.LLM
	config Config

	mu     sync.Mutex
	spent  float64
	calls  int64
	warned bool
	byKey  map[string]float64
}

// Verify that LimitedLLM implements LLM interface.
var _ llm.LLM = (*LimitedLLM)(nil)

// Limit wraps model with cost tracking and an optional cap.
func Limit(model llm.LLM, config Config) (*LimitedLLM, error) {
	if config.Limit < 0 {
		return nil, fmt.Errorf("budget limit must not be negative, got %v", config.Limit)
	}
	if config.WarnAt <= 0 || config.WarnAt > 1 {
		config.WarnAt = 0.8
	}
	if config.Pricing == nil {
		config.Pricing = NewPricing()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if _, known := config.Pricing.Lookup(model.Model()); !known {
		config.Logger.Warn("no price for model, using fallback price", "model", model.Model())
	}
	return &LimitedLLM{llm: model, config: config, byKey: make(map[string]float64)}, nil
}

// Model returns the wrapped model identifier.
func (l *LimitedLLM) Model() string {
	return l.llm.Model()
}

// Unwrap returns the wrapped LLM.
func (l *LimitedLLM) Unwrap() interface{} {
	return l.llm
}

// Complete calls the wrapped model unless the budget is spent.
func (l *LimitedLLM) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	l.mu.Lock()
	if l.config.Limit > 0 && l.spent >= l.config.Limit {
		err := &BudgetExceededError{Limit: l.config.Limit, Spent: l.spent}
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	resp, err := l.llm.Complete(ctx, messages, opts...)
	if err != nil || resp == nil {
		return resp, err
	}

	model := resp.Model
	if model == "" {
		model = l.llm.Model()
	}
	cost := l.config.Pricing.Cost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	l.mu.Lock()
	l.spent += cost
	l.calls++
	l.byKey[model] += cost
	spent := l.spent
	warn := l.config.Limit > 0 && !l.warned && spent >= l.config.WarnAt*l.config.Limit
	if warn {
		l.warned = true
	}
	l.mu.Unlock()

	if warn {
		l.config.Logger.Warn("model budget nearly spent",
			"spent_usd", spent,
			"limit_usd", l.config.Limit)
	}
	return resp, nil
}

// Spent returns the dollars spent so far.
func (l *LimitedLLM) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Remaining returns the dollars left, or -1 when there is no cap.
func (l *LimitedLLM) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config.Limit == 0 {
		return -1
	}
	return max(l.config.Limit-l.spent, 0)
}

// Breakdown returns spending per model.
func (l *LimitedLLM) Breakdown() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.byKey))
	for k, v := range l.byKey {
		out[k] = v
	}
	return out
}

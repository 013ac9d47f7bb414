// Package budget tracks what model calls cost and stops calling once a
// spending cap is reached.
//
// Components:
//   - Pricing: per-model prices per million tokens
//   - LimitedLLM: llm.LLM wrapper that records cost and enforces the cap
package budget

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Price is a model's price in dollars per million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Pricing maps model identifiers to prices.
//
// Lookups match the longest known prefix, so dated releases such as
// "gpt-4o-mini-2024-07-18" use the "gpt-4o-mini" price. Unknown models use
// the fallback price.
//
// Example:
//
//	pricing := NewPricing()
//	cost := pricing.Cost("gemini-2.0-flash", 12000, 800)
type Pricing struct {
	mu       sync.RWMutex
	prices   map[string]Price
	fallback Price
}

// NewPricing creates a table with list prices of the supported providers.
func NewPricing() *Pricing {
	return &Pricing{
		prices: map[string]Price{
			// Google
			"gemini-2.0-flash":      {Input: 0.10, Output: 0.40},
			"gemini-2.0-flash-lite": {Input: 0.075, Output: 0.30},
			"gemini-1.5-pro":        {Input: 1.25, Output: 5.00},

			// OpenAI
			"gpt-4o":      {Input: 2.50, Output: 10.00},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
			"o3-mini":     {Input: 1.10, Output: 4.40},

			// Anthropic, direct and on Bedrock
			"claude-3-5-haiku":            {Input: 0.80, Output: 4.00},
			"claude-3-5-sonnet":           {Input: 3.00, Output: 15.00},
			"anthropic.claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
			"anthropic.claude-3-5-sonnet": {Input: 3.00, Output: 15.00},

			// Local and canned models cost nothing.
			"mock": {},
		},
		fallback: Price{Input: 1.00, Output: 3.00},
	}
}

// Set adds or replaces the price of a model.
func (p *Pricing) Set(model string, price Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[model] = price
}

// SetFallback sets the price used for unknown models.
func (p *Pricing) SetFallback(price Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = price
}

// Lookup returns the price of model and whether it is known.
func (p *Pricing) Lookup(model string) (Price, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if price, ok := p.prices[model]; ok {
		return price, true
	}
	best := ""
	for name := range p.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p.prices[best], true
	}
	return p.fallback, false
}

// Cost returns the dollar cost of a call.
func (p *Pricing) Cost(model string, inputTokens, outputTokens int) float64 {
	price, _ := p.Lookup(model)
	return (float64(inputTokens)*price.Input + float64(outputTokens)*price.Output) / 1_000_000
}

// Models returns the priced model identifiers, sorted.
func (p *Pricing) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	models := make([]string, 0, len(p.prices))
	for name := range p.prices {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

// String renders a price for logs.
func (pr Price) String() string {
	return fmt.Sprintf("$%.3f/M in, $%.3f/M out", pr.Input, pr.Output)
}

// Package llm provides the minimal model interface used by pipeline workers.
//
// This package defines the contract every model adapter implements. The
// interface is intentionally small: a step sends an instruction and a prompt
// and gets text back. Provider specifics stay behind CallOptions and Unwrap.
package llm

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Usage reports token counts for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a completion.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// LLM is the minimal interface for step-to-model interaction.
//
// Design principles:
//   - Minimal: one call, Complete
//   - Flexible: accepts CallOptions for provider-specific settings
//   - Swappable: change providers without changing pipeline code
//   - Escape hatch: Unwrap() for advanced provider features
//
// Example:
//
//	model, err := llm.NewGeminiLLM(ctx, "", "gemini-2.0-flash")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := model.Complete(ctx, []llm.Message{
//	    llm.System("You are a SQL expert."),
//	    llm.User("Top 5 courses by enrollment"),
//	}, llm.WithTemperature(0.2))
type LLM interface {
	// Complete generates a single completion.
	//
	// System messages carry the step instruction; the remaining messages
	// are sent in order. Adapters return provider errors wrapped with the
	// provider name.
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error)

	// Model returns the model identifier, e.g. "gemini-2.0-flash".
	Model() string

	// Unwrap returns the underlying provider client.
	//
	// Warning:
	//   Using Unwrap() breaks provider portability.
	Unwrap() interface{}
}

// CallOptions holds options for one LLM call.
type CallOptions struct {
	// Common options
	Temperature *float64
	MaxTokens   *int
	TopP        *float64

	// Schema requests JSON output matching a reflected Go type.
	Schema     *jsonschema.Schema
	SchemaName string

	// Provider-specific options
	Extra map[string]interface{}
}

// CallOption is a functional option for configuring LLM calls.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature (typically 0.0-2.0).
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) CallOption {
	return func(opts *CallOptions) {
		opts.TopP = &topP
	}
}

// WithExtra adds a provider-specific option.
func WithExtra(key string, value interface{}) CallOption {
	return func(opts *CallOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]interface{})
		}
		opts.Extra[key] = value
	}
}

// BuildCallOptions creates CallOptions from functional options.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{
		Extra: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// splitSystem separates system messages from the conversation.
func splitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

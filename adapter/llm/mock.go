package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockRule answers a call whose messages contain Match.
type MockRule struct {
	// Match is searched in the concatenated message contents. Empty matches anything.
	Match string
	Reply string
	Err   error
}

// MockLLM is a deterministic in-process model for tests and dry runs.
//
// Rules are checked in order; the first match wins. Calls are recorded.
type MockLLM struct {
	model string
	rules []MockRule

	mu    sync.Mutex
	calls [][]Message
}

// Verify that MockLLM implements LLM.
var _ LLM = (*MockLLM)(nil)

// NewMockLLM creates a mock answering with rules.
func NewMockLLM(rules ...MockRule) *MockLLM {
	return &MockLLM{model: "mock", rules: rules}
}

// Model returns "mock".
func (m *MockLLM) Model() string {
	return m.model
}

// Complete returns the reply of the first matching rule.
func (m *MockLLM) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	text := sb.String()

	for _, r := range m.rules {
		if r.Match != "" && !strings.Contains(text, r.Match) {
			continue
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return &Response{
			Content:      r.Reply,
			Model:        m.model,
			FinishReason: "stop",
			Usage:        Usage{PromptTokens: len(text) / 4, CompletionTokens: len(r.Reply) / 4, TotalTokens: (len(text) + len(r.Reply)) / 4},
		}, nil
	}
	return nil, fmt.Errorf("mock llm: no rule matches request")
}

// Calls returns the recorded message lists.
func (m *MockLLM) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// Unwrap returns nil.
func (m *MockLLM) Unwrap() interface{} {
	return nil
}

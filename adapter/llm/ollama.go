package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaLLM is an adapter for a local Ollama server.
//
// WithJSONSchema maps to Ollama's format field, which constrains decoding
// to the schema.
//
// Example:
//
//	model := NewOllamaLLM("llama3.1", "http://localhost:11434")
//	resp, err := model.Complete(ctx, msgs, WithTemperature(0))
type OllamaLLM struct {
	model   string
	baseURL string
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"` // max tokens
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// NewOllamaLLM creates a new Ollama adapter. Local models can be slow to
// load, so calls time out after two minutes unless the context says sooner.
func NewOllamaLLM(model, baseURL string) *OllamaLLM {
	if model == "" {
		model = "llama3.1"
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaLLM{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Model returns the model identifier.
func (o *OllamaLLM) Model() string {
	return o.model
}

// Complete generates a completion from the local model.
func (o *OllamaLLM) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error) {
	options := BuildCallOptions(opts...)

	req := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
	}
	if options.Schema != nil {
		req.Format = options.Schema
	}
	if options.Temperature != nil || options.TopP != nil || options.MaxTokens != nil {
		req.Options = &ollamaOptions{Temperature: options.Temperature, TopP: options.TopP}
		if options.MaxTokens != nil {
			req.Options.NumPredict = *options.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var out ollamaChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, out.Error)
	}

	return &Response{
		Content:      out.Message.Content,
		Model:        out.Model,
		FinishReason: out.DoneReason,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// Unwrap returns the underlying *http.Client.
func (o *OllamaLLM) Unwrap() interface{} {
	return o.client
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

const anthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicLLM is an adapter for Anthropic's Messages API.
//
// The Messages API has no response schema, so WithJSONSchema is rendered
// into the system prompt.
//
// Example:
//
//	model := NewAnthropicLLM("sk-ant-...", "claude-3-5-haiku-latest")
//	resp, err := model.Complete(ctx, msgs,
//	    WithMaxTokens(1024),
//	    WithExtra("stop_sequences", []string{"</html>"}),
//	)
type AnthropicLLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicLLM creates a new Anthropic adapter. An empty apiKey falls
// back to ANTHROPIC_API_KEY.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	return NewAnthropicLLMWithBaseURL(apiKey, "", model)
}

// NewAnthropicLLMWithBaseURL creates an adapter for a proxy of the
// Messages API.
func NewAnthropicLLMWithBaseURL(apiKey, baseURL, model string) *AnthropicLLM {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicLLM{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Model returns the model identifier.
func (a *AnthropicLLM) Model() string {
	return a.model
}

type anthropicRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	System        string    `json:"system,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete generates a completion from Claude.
func (a *AnthropicLLM) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error) {
	options := BuildCallOptions(opts...)
	system, conversation := splitSystem(messages)

	if options.Schema != nil {
		instr, err := schemaInstruction(options.Schema)
		if err != nil {
			return nil, err
		}
		system = strings.TrimSpace(system + "\n\n" + instr)
	}

	req := anthropicRequest{
		Model:       a.model,
		Messages:    conversation,
		MaxTokens:   4096,
		Temperature: options.Temperature,
		TopP:        options.TopP,
		System:      system,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if stop, ok := options.Extra["stop_sequences"].([]string); ok {
		req.StopSequences = stop
	}

	var resp anthropicResponse
	if err := a.post(ctx, "/messages", req, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Content:      text.String(),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicLLM) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic api error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr anthropicError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("anthropic api error (status %d, %s): %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Unwrap returns the underlying *http.Client.
func (a *AnthropicLLM) Unwrap() interface{} {
	return a.httpClient
}

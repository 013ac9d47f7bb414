package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiLLM is an adapter for Google's Gemini models.
//
// System messages become the model's system instruction. Structured output
// requests (WithJSONSchema) map to Gemini's response schema.
//
// Example:
//
//	model, err := NewGeminiLLM(ctx, "", "gemini-2.0-flash")
//	resp, err := model.Complete(ctx, []Message{User("Hello!")},
//	    WithTemperature(0.7),
//	    WithExtra("top_k", 40),
//	)
type GeminiLLM struct {
	client *genai.Client
	model  string
}

// NewGeminiLLM creates a new Gemini adapter.
//
// Parameters:
//   - apiKey: Google API key. If empty, GEMINI_API_KEY or GOOGLE_API_KEY is used
//   - model: Model identifier, DefaultGeminiModel when empty
func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini api key required: provide apiKey parameter or set GEMINI_API_KEY or GOOGLE_API_KEY environment variable")
		}
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiLLM{
		client: client,
		model:  model,
	}, nil
}

// Model returns the model identifier.
func (g *GeminiLLM) Model() string {
	return g.model
}

// Complete generates a completion from Gemini.
func (g *GeminiLLM) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error) {
	options := BuildCallOptions(opts...)

	system, conversation := splitSystem(messages)
	if len(conversation) == 0 {
		return nil, errors.New("gemini: at least one non-system message is required")
	}

	model := g.client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	g.configureModel(model, options)

	session := model.StartChat()
	for _, m := range conversation[:len(conversation)-1] {
		session.History = append(session.History, &genai.Content{
			Role:  g.mapRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	last := conversation[len(conversation)-1]

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	out := &Response{
		Content: g.extractContent(resp),
		Model:   g.model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != 0 {
		out.FinishReason = resp.Candidates[0].FinishReason.String()
	}
	return out, nil
}

// mapRole maps a message role to Gemini's "user" or "model".
func (g *GeminiLLM) mapRole(role string) string {
	if role == RoleUser {
		return "user"
	}
	return "model"
}

func (g *GeminiLLM) configureModel(model *genai.GenerativeModel, options *CallOptions) {
	if options.Temperature != nil {
		model.SetTemperature(float32(*options.Temperature))
	}
	if options.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*options.MaxTokens))
	}
	if options.TopP != nil {
		model.SetTopP(float32(*options.TopP))
	}
	if topK, ok := options.Extra["top_k"].(int); ok {
		model.SetTopK(int32(topK))
	}
	if stop, ok := options.Extra["stop_sequences"].([]string); ok {
		model.StopSequences = stop
	}
	if options.Schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = toGenaiSchema(options.Schema)
	}
}

func (g *GeminiLLM) extractContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Close closes the Gemini client.
func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Unwrap returns the underlying *genai.Client.
func (g *GeminiLLM) Unwrap() interface{} {
	return g.client
}

package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/invopop/jsonschema"
)

// Reflect builds a JSON schema for v. Nested types are inlined and
// additional properties are rejected, which is what structured output
// modes of the providers expect.
func Reflect(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// WithJSONSchema asks the model to answer with JSON matching the type of v.
//
// Example:
//
//	type Intent struct {
//	    Label string `json:"label" jsonschema:"enum=COURSE_SALES,enum=GENERAL_ANALYTICS"`
//	}
//	resp, err := model.Complete(ctx, msgs, llm.WithJSONSchema("intent", Intent{}))
func WithJSONSchema(name string, v any) CallOption {
	schema := Reflect(v)
	return func(opts *CallOptions) {
		opts.Schema = schema
		opts.SchemaName = name
	}
}

// schemaInstruction renders a schema as a prompt suffix for providers
// without a native structured output mode.
func schemaInstruction(s *jsonschema.Schema) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	return "Respond only with a JSON document matching this JSON schema:\n" + string(b), nil
}

// toGenaiSchema converts a reflected schema into Gemini's schema subset.
func toGenaiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
		for _, e := range s.Enum {
			out.Enum = append(out.Enum, fmt.Sprint(e))
		}
		if len(out.Enum) > 0 {
			out.Format = "enum"
		}
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		out.Items = toGenaiSchema(s.Items)
	default:
		out.Type = genai.TypeObject
		if s.Properties != nil {
			out.Properties = make(map[string]*genai.Schema, s.Properties.Len())
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				out.Properties[pair.Key] = toGenaiSchema(pair.Value)
			}
		}
	}
	return out
}

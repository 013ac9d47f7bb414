package worker

import (
	"encoding/json"
	"fmt"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/tools"
)

// NewStructuredWorker creates an LLM worker whose answer is decoded as JSON
// into a T. The model is asked for JSON matching T's schema, and the step
// output is the decoded T.
//
// Example:
//
//	type Competitors struct {
//	    Names []string `json:"names" jsonschema:"minItems=5,maxItems=5"`
//	}
//	w, err := worker.NewStructuredWorker[Competitors]("competitors", cfg)
func NewStructuredWorker[T any](schemaName string, config *LLMWorkerConfig) (*LLMWorker, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	var zero T
	cfg := *config
	cfg.Options = append(append([]llm.CallOption(nil), config.Options...), llm.WithJSONSchema(schemaName, zero))

	w, err := NewLLMWorker(&cfg)
	if err != nil {
		return nil, err
	}
	w.decode = func(text string) (any, error) {
		var v T
		// Models without a native JSON mode tend to fence their answer.
		if err := json.Unmarshal([]byte(tools.StripFence(text)), &v); err != nil {
			return nil, fmt.Errorf("%s: answer is not valid %s JSON: %w", w.name, schemaName, err)
		}
		return v, nil
	}
	return w, nil
}

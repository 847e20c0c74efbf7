// Package executors provides the built-in node bodies: input and output
// nodes, expr-based transform and condition nodes, JSONPath and jq queries,
// and an OpenAI chat completion node.
//
// Every executor receives params whose top-level strings have already been
// resolved against upstream outputs, so a param such as
//
//	data: "{{ http_0.body }}"
//
// arrives as the JSON text of that output.
package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/flowgraph/pkg/execution"
)

// Node types registered by RegisterBuiltins.
const (
	TypeInput     = "input"
	TypeOutput    = "output"
	TypeTransform = "transform"
	TypeCondition = "condition"
	TypeJSONPath  = "jsonpath"
	TypeJQ        = "jq"
	TypeOpenAI    = "openai"
)

// Option configures the built-in executors.
type Option func(*config)

type config struct {
	openAI []OpenAIOption
}

// WithOpenAI passes options to the openai executor.
func WithOpenAI(opts ...OpenAIOption) Option {
	return func(c *config) { c.openAI = append(c.openAI, opts...) }
}

// RegisterBuiltins registers every built-in executor on reg.
func RegisterBuiltins(reg *execution.Registry, opts ...Option) error {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	evaluator := NewExpressionEvaluator()
	builtins := []execution.Executor{
		Input(),
		Output(),
		Transform(evaluator),
		Condition(evaluator),
		JSONPath(),
		JQ(NewJQEngine()),
		OpenAI(cfg.openAI...),
	}
	for _, ex := range builtins {
		if err := reg.Register(ex); err != nil {
			return fmt.Errorf("register %s executor: %w", ex.Spec().Type, err)
		}
	}
	return nil
}

// Input emits its params so downstream nodes can reference them. "value"
// defaults to "text".
func Input() execution.Executor {
	spec := execution.NodeSpec{
		Type:        TypeInput,
		Description: "Provides a value to downstream nodes",
		Outputs:     []string{"text", "value"},
	}
	return execution.NewExecutor(spec, func(_ context.Context, params map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(params)+2)
		for k, v := range params {
			out[k] = v
		}
		if _, ok := out["text"]; !ok {
			out["text"] = ""
		}
		if _, ok := out["value"]; !ok {
			out["value"] = out["text"]
		}
		return out, nil
	})
}

// Output records the final value of a branch.
func Output() execution.Executor {
	spec := execution.NodeSpec{
		Type:           TypeOutput,
		Description:    "Collects a result",
		RequiredParams: []string{"value"},
		Outputs:        []string{"value"},
	}
	return execution.NewExecutor(spec, func(_ context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"value": params["value"]}, nil
	})
}

// decodeData turns a data param into a JSON value. Strings that look like a
// JSON object or array are decoded; anything else is round-tripped through
// JSON so numbers become float64.
func decodeData(v any) (any, error) {
	if s, ok := v.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var out any
			if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
				return nil, fmt.Errorf("data is not valid JSON: %w", err)
			}
			return out, nil
		}
		return s, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("data is not JSON-compatible: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return strings.TrimSpace(s)
}

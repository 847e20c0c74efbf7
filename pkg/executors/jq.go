package executors

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/dshills/flowgraph/pkg/execution"
)

// JQEngine evaluates jq queries. Compiled code is cached and safe to share.
type JQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQEngine returns an engine with an empty cache.
func NewJQEngine() *JQEngine {
	return &JQEngine{cache: make(map[string]*gojq.Code)}
}

// Evaluate runs query against data. A single output is returned as is, several
// are collected into a slice and none yields nil.
func (e *JQEngine) Evaluate(ctx context.Context, query string, data any) (any, error) {
	code, err := e.compile(query)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq %q: %w", query, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *JQEngine) compile(query string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[query]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("jq parse %q: %w", query, err)
	}
	// An empty environment keeps $ENV from exposing the process environment.
	code, err = gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile %q: %w", query, err)
	}
	e.cache[query] = code
	return code, nil
}

// JQ runs params["query"] over params["data"].
func JQ(engine *JQEngine) execution.Executor {
	spec := execution.NodeSpec{
		Type:           TypeJQ,
		Description:    "Reshapes JSON data with a jq query",
		RequiredParams: []string{"query", "data"},
		Outputs:        []string{"result"},
	}
	return execution.NewExecutor(spec, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		data, err := decodeData(params["data"])
		if err != nil {
			return nil, err
		}
		out, err := engine.Evaluate(ctx, stringParam(params, "query"), data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": out}, nil
	})
}

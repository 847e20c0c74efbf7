package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/dshills/flowgraph/pkg/execution"
)

// Expression errors.
var (
	ErrUnsafeOperation   = errors.New("unsafe operation attempted")
	ErrInvalidExpression = errors.New("invalid expression syntax")
	ErrNotBoolean        = errors.New("expression did not evaluate to a boolean")
)

// ExpressionEvaluator evaluates expr-lang expressions against a params map.
// Compiled programs are cached by source and shared between goroutines.
type ExpressionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExpressionEvaluator returns an evaluator with an empty program cache.
func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{cache: make(map[string]*vm.Program)}
}

var unsafePatterns = []string{
	"os.", "exec.", "http.", "net.", "syscall.", "unsafe.", "__proto__", "readfile", "writefile",
}

// Evaluate runs expression with env as its variables.
func (e *ExpressionEvaluator) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(expression)
	for _, p := range unsafePatterns {
		if strings.Contains(lower, p) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeOperation, p)
		}
	}

	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return out, nil
}

// EvaluateBool is Evaluate for expressions that must yield a boolean.
func (e *ExpressionEvaluator) EvaluateBool(ctx context.Context, expression string, env map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNotBoolean, out)
	}
	return b, nil
}

func (e *ExpressionEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	// Variables are typed at run time since param types differ between nodes.
	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}

// expressionEnv exposes every param except the expression itself. A string
// param named "input" holding JSON is decoded so fields can be addressed.
func expressionEnv(params map[string]any) (map[string]any, error) {
	env := make(map[string]any, len(params))
	for k, v := range params {
		if k == "expression" {
			continue
		}
		env[k] = v
	}
	if in, ok := env["input"]; ok {
		decoded, err := decodeData(in)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		env["input"] = decoded
	}
	return env, nil
}

// Transform evaluates params["expression"] and outputs its value as "result".
func Transform(ev *ExpressionEvaluator) execution.Executor {
	spec := execution.NodeSpec{
		Type:           TypeTransform,
		Description:    "Computes a value with an expression over the node's params",
		RequiredParams: []string{"expression"},
		Outputs:        []string{"result"},
	}
	return execution.NewExecutor(spec, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		env, err := expressionEnv(params)
		if err != nil {
			return nil, err
		}
		out, err := ev.Evaluate(ctx, stringParam(params, "expression"), env)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": out}, nil
	})
}

// Condition evaluates a boolean expression. Both outcomes complete the node;
// downstream nodes read "result".
func Condition(ev *ExpressionEvaluator) execution.Executor {
	spec := execution.NodeSpec{
		Type:           TypeCondition,
		Description:    "Evaluates a boolean expression",
		RequiredParams: []string{"expression"},
		Outputs:        []string{"result"},
	}
	return execution.NewExecutor(spec, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		env, err := expressionEnv(params)
		if err != nil {
			return nil, err
		}
		ok, err := ev.EvaluateBool(ctx, stringParam(params, "expression"), env)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": ok}, nil
	})
}

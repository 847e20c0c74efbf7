// Package execution runs a workflow graph in dependency order. Each node's
// string params are resolved against upstream outputs, its executor is looked
// up by node type, and a failure is confined to the failing node and the nodes
// downstream of it.
package execution

import (
	"context"
	"fmt"
	"sort"
)

// NodeSpec is the capability an executor declares for its node type.
type NodeSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	// RequiredParams must be present and non-empty after variable resolution.
	RequiredParams []string `json:"requiredParams,omitempty"`
	// Outputs lists the fields other nodes may reference as {{ name.field }}.
	Outputs []string `json:"outputs,omitempty"`
}

// Executor is the body of one node type.
type Executor interface {
	Spec() NodeSpec
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// ExecuteFunc adapts a function to an Executor body.
type ExecuteFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

type funcExecutor struct {
	spec NodeSpec
	fn   ExecuteFunc
}

// NewExecutor builds an Executor from a spec and a function.
func NewExecutor(spec NodeSpec, fn ExecuteFunc) Executor {
	return &funcExecutor{spec: spec, fn: fn}
}

func (f *funcExecutor) Spec() NodeSpec { return f.spec }

func (f *funcExecutor) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f.fn(ctx, params)
}

// Registry maps node types to executors.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds ex under its declared type. A type can be registered once.
func (r *Registry) Register(ex Executor) error {
	if ex == nil {
		return fmt.Errorf("executor cannot be nil")
	}
	spec := ex.Spec()
	if spec.Type == "" {
		return fmt.Errorf("executor spec has no type")
	}
	if _, exists := r.executors[spec.Type]; exists {
		return fmt.Errorf("executor for node type %q already registered", spec.Type)
	}
	r.executors[spec.Type] = ex
	return nil
}

// MustRegister is Register that panics on error. Use it for built-in executors.
func (r *Registry) MustRegister(executors ...Executor) {
	for _, ex := range executors {
		if err := r.Register(ex); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the executor for nodeType.
func (r *Registry) Lookup(nodeType string) (Executor, bool) {
	ex, ok := r.executors[nodeType]
	return ex, ok
}

// Specs returns every registered spec sorted by type.
func (r *Registry) Specs() []NodeSpec {
	specs := make([]NodeSpec, 0, len(r.executors))
	for _, ex := range r.executors {
		specs = append(specs, ex.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// Outputs returns the declared output fields of nodeType.
func (r *Registry) Outputs(nodeType string) ([]string, bool) {
	ex, ok := r.executors[nodeType]
	if !ok {
		return nil, false
	}
	return ex.Spec().Outputs, true
}

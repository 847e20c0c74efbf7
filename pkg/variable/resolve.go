package variable

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// Outputs maps a node ID to the output it produced.
type Outputs map[types.NodeID]map[string]any

// Result is the outcome of resolving one template.
type Result struct {
	Text     string
	Warnings []*flowerrors.UnresolvedVariableError
}

// Resolver resolves templates against one workflow. Building it indexes the
// node names once, so the orchestrator can reuse it for every node of a run.
type Resolver struct {
	byName map[string]types.NodeID
}

// NewResolver indexes the node names of w. A nil workflow knows no names.
func NewResolver(w *workflow.Workflow) *Resolver {
	r := &Resolver{byName: make(map[string]types.NodeID)}
	if w == nil {
		return r
	}
	for _, n := range w.Nodes {
		if _, dup := r.byName[n.Name()]; !dup {
			r.byName[n.Name()] = n.ID
		}
	}
	return r
}

// Resolve is a shorthand for NewResolver(graph).Resolve(text, outputs).
func Resolve(text string, graph *workflow.Workflow, outputs Outputs) Result {
	return NewResolver(graph).Resolve(text, outputs)
}

// Resolve substitutes every reference in text.
func (r *Resolver) Resolve(text string, outputs Outputs) Result {
	if !strings.Contains(text, "{{") {
		return Result{Text: text}
	}
	return r.Render(Parse(text), outputs)
}

// Render substitutes the references of an already parsed template.
func (r *Resolver) Render(t Template, outputs Outputs) Result {
	var (
		b        strings.Builder
		warnings []*flowerrors.UnresolvedVariableError
	)
	for _, seg := range t.Segments {
		if seg.Ref == nil {
			b.WriteString(seg.Literal)
			continue
		}
		ref := seg.Ref

		id, ok := r.byName[ref.NodeName]
		if !ok {
			b.WriteString(ref.Raw)
			warnings = append(warnings, &flowerrors.UnresolvedVariableError{
				Token:    ref.Raw,
				NodeName: ref.NodeName,
				Field:    ref.Field,
				Reason:   flowerrors.ReasonUnknownNode,
			})
			continue
		}

		value, ok := lookupField(outputs[id], ref.Field)
		if !ok {
			warnings = append(warnings, &flowerrors.UnresolvedVariableError{
				Token:    ref.Raw,
				NodeName: ref.NodeName,
				Field:    ref.Field,
				Reason:   flowerrors.ReasonMissingOutput,
			})
			continue
		}
		b.WriteString(Stringify(value))
	}
	return Result{Text: b.String(), Warnings: warnings}
}

// ResolveParams returns a copy of params with every top-level string value
// resolved. Other values are copied unchanged.
func (r *Resolver) ResolveParams(params map[string]any, outputs Outputs) (map[string]any, []*flowerrors.UnresolvedVariableError) {
	out := workflow.CloneParams(params)
	if out == nil {
		out = map[string]any{}
	}
	var warnings []*flowerrors.UnresolvedVariableError
	for k, v := range out {
		s, ok := v.(string)
		if !ok {
			continue
		}
		res := r.Resolve(s, outputs)
		out[k] = res.Text
		warnings = append(warnings, res.Warnings...)
	}
	return out, warnings
}

// ResolveParams is a shorthand for NewResolver(graph).ResolveParams(params, outputs).
func ResolveParams(params map[string]any, graph *workflow.Workflow, outputs Outputs) (map[string]any, []*flowerrors.UnresolvedVariableError) {
	return NewResolver(graph).ResolveParams(params, outputs)
}

// lookupField reads field from output. A direct key wins; a dotted field that
// is not a direct key is read as a gjson path over the output's JSON form, so
// {{ http_0.body.items.0 }} reaches into nested objects and arrays.
func lookupField(output map[string]any, field string) (any, bool) {
	if output == nil {
		return nil, false
	}
	if v, ok := output[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(data, field)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

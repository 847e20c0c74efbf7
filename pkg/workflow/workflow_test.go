package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

func TestWorkflow_MarshalJSON(t *testing.T) {
	w := New()
	w.Nodes = nil

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":null,"name":"Untitled Workflow","nodes":[],"edges":[],"status":"draft","saveStatus":"saved"}`, string(data))
	require.NoError(t, ValidateDocument(data))
}

func TestWorkflow_JSONFieldNames(t *testing.T) {
	w := New()
	w.ID = "wf-1"
	w.Nodes = []Node{NewNode("input_0", "input", Position{X: 10, Y: 20})}
	w.Edges = []Edge{}
	n := NewNode("output_0", "output", Position{})
	w.Nodes = append(w.Nodes, n)
	w.Edges = append(w.Edges, Edge{ID: "e1", Source: "input_0", Target: "output_0", SourceHandle: "out", Type: DefaultEdgeType, Animated: true})

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	node := raw["nodes"].([]any)[0].(map[string]any)
	assert.Equal(t, "input_0", node["id"])
	assert.Equal(t, map[string]any{"x": 10.0, "y": 20.0}, node["position"])
	assert.Equal(t, map[string]any{"label": "input_0", "type": "input", "params": map[string]any{}}, node["data"])

	edge := raw["edges"].([]any)[0].(map[string]any)
	assert.Equal(t, "out", edge["sourceHandle"])
	assert.Equal(t, true, edge["animated"])

	var back Workflow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, types.WorkflowID("wf-1"), back.ID)
	assert.Equal(t, w.Edges, back.Edges)
}

func TestWorkflow_Validate(t *testing.T) {
	w := graphOf([]string{"a", "b"}, [][2]string{{"a", "b"}, {"a", "b"}, {"a", "a"}, {"a", "ghost"}})
	w.Nodes = append(w.Nodes, NewNode("a", "test", Position{}))

	err := w.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerrors.ErrValidation))

	var errs flowerrors.ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 4)

	assert.NoError(t, graphOf([]string{"a", "b"}, [][2]string{{"a", "b"}}).Validate())
}

func TestWorkflow_Sanitize(t *testing.T) {
	w := graphOf([]string{"a", "b"}, [][2]string{{"a", "b"}, {"a", "b"}, {"b", "b"}, {"a", "ghost"}})
	w.Nodes = append(w.Nodes, Node{ID: "a", Type: "dup"}, Node{Type: "anonymous"})
	w.Edges = append(w.Edges, Edge{Source: "b", Target: "a"})
	w.Status = ""

	w.Sanitize()

	require.Len(t, w.Nodes, 2)
	assert.Equal(t, "test", w.Nodes[0].Type)
	require.Len(t, w.Edges, 2)
	assert.Equal(t, types.NodeID("b"), w.Edges[1].Source)
	assert.NotEmpty(t, w.Edges[1].ID)
	assert.Equal(t, StatusDraft, w.Status)
	assert.NoError(t, w.Validate())
}

func TestWorkflow_CloneIsDeep(t *testing.T) {
	w := New()
	n := NewNode("transform_0", "transform", Position{})
	n.Data.Params["nested"] = map[string]any{"k": "v"}
	n.Data.Params["list"] = []any{"x"}
	w.Nodes = append(w.Nodes, n)

	cp := w.Clone()
	cp.Nodes[0].Data.Params["nested"].(map[string]any)["k"] = "changed"
	cp.Nodes[0].Data.Params["list"].([]any)[0] = "y"
	cp.Nodes[0].Position.X = 99

	assert.Equal(t, "v", w.Nodes[0].Data.Params["nested"].(map[string]any)["k"])
	assert.Equal(t, "x", w.Nodes[0].Data.Params["list"].([]any)[0])
	assert.Equal(t, 0.0, w.Nodes[0].Position.X)
}

func TestValidateDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ``},
		{name: "missing nodes", doc: `{"name":"x","edges":[]}`},
		{name: "node without id", doc: `{"name":"x","nodes":[{"type":"a","data":{}}],"edges":[]}`},
		{name: "bad status", doc: `{"name":"x","nodes":[],"edges":[],"status":"archived"}`},
		{name: "edge without target", doc: `{"name":"x","nodes":[],"edges":[{"source":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, flowerrors.ErrValidation))
		})
	}
}

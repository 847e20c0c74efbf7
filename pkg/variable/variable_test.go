package variable

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

func testGraph(names ...string) *workflow.Workflow {
	w := workflow.New()
	for _, n := range names {
		typ, _, _ := workflow.ParseName(n)
		w.Nodes = append(w.Nodes, workflow.NewNode(n, typ, workflow.Position{}))
	}
	return w
}

func TestExtractReferences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want [][2]string
	}{
		{name: "none", text: "plain text", want: nil},
		{name: "tight", text: "{{input_0.text}}", want: [][2]string{{"input_0", "text"}}},
		{name: "spaced", text: "A {{  input_0.text \t}} B", want: [][2]string{{"input_0", "text"}}},
		{name: "two", text: "{{ a_0.x }}{{ b_1.y }}", want: [][2]string{{"a_0", "x"}, {"b_1", "y"}}},
		{name: "dotted field", text: "{{ http_0.body.items.0 }}", want: [][2]string{{"http_0", "body.items.0"}}},
		{name: "missing field", text: "{{ input_0 }}", want: nil},
		{name: "trailing dot", text: "{{ input_0.text. }}", want: nil},
		{name: "unclosed", text: "{{ input_0.text", want: nil},
		{name: "triple brace", text: "{{{ input_0.text }}}", want: [][2]string{{"input_0", "text"}}},
		{name: "escaped", text: `\{{ input_0.text }}`, want: nil},
		{name: "bad then good", text: "{{ 1x.y }} {{ ok_0.v }}", want: [][2]string{{"ok_0", "v"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := ExtractReferences(tt.text)
			var got [][2]string
			for _, r := range refs {
				got = append(got, [2]string{r.NodeName, r.Field})
				assert.Equal(t, r.Raw, tt.text[r.Start:r.End])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_SummarizeScenario(t *testing.T) {
	graph := testGraph("input_0", "openai_0")
	outputs := Outputs{"input_0": {"text": "Hello"}}

	res := Resolve("Summarize: {{ input_0.text }}", graph, outputs)
	assert.Equal(t, "Summarize: Hello", res.Text)
	assert.Empty(t, res.Warnings)

	res = Resolve("Summarize: {{ input_0.text }}", graph, Outputs{})
	assert.Equal(t, "Summarize: ", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, flowerrors.ReasonMissingOutput, res.Warnings[0].Reason)

	res = Resolve("Summarize: {{ input_9.text }}", graph, outputs)
	assert.Equal(t, "Summarize: {{ input_9.text }}", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, flowerrors.ReasonUnknownNode, res.Warnings[0].Reason)
	assert.True(t, errors.Is(res.Warnings[0], flowerrors.ErrUnresolvedVariable))
}

func TestResolve_Values(t *testing.T) {
	graph := testGraph("node_0")
	outputs := Outputs{"node_0": {
		"s":     "text",
		"i":     42,
		"f":     3.5,
		"whole": 3.0,
		"b":     true,
		"obj":   map[string]any{"k": "v"},
		"arr":   []any{1.0, "two"},
		"nil":   nil,
		"body":  map[string]any{"items": []any{map[string]any{"id": "first"}}},
		"a.b":   "direct",
	}}

	tests := []struct {
		text string
		want string
	}{
		{"{{ node_0.s }}", "text"},
		{"{{ node_0.i }}", "42"},
		{"{{ node_0.f }}", "3.5"},
		{"{{ node_0.whole }}", "3"},
		{"{{ node_0.b }}", "true"},
		{"{{ node_0.obj }}", `{"k":"v"}`},
		{"{{ node_0.arr }}", `[1,"two"]`},
		{"[{{ node_0.nil }}]", "[null]"},
		{"{{ node_0.body.items.0.id }}", "first"},
		{"{{ node_0.a.b }}", "direct"},
		{`\{{ node_0.s }} = {{ node_0.s }}`, "{{ node_0.s }} = text"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.text, graph, outputs).Text)
		})
	}
}

func TestResolve_NullOutputIsDefined(t *testing.T) {
	graph := testGraph("node_0")
	outputs := Outputs{"node_0": {"empty": nil}}

	res := Resolve("value={{ node_0.empty }}", graph, outputs)
	assert.Equal(t, "value=null", res.Text)
	assert.Empty(t, res.Warnings)

	res = Resolve("value={{ node_0.absent }}", graph, outputs)
	assert.Equal(t, "value=", res.Text)
	assert.Len(t, res.Warnings, 1)
}

func TestResolve_IsTotal(t *testing.T) {
	graph := testGraph("n_0")
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	inputs := []string{
		"", "{{", "}}", "{{}}", "{{ . }}", "{{ n_0. }}", `\`, `\{{`, "{{{{{{", "{{ n_0.x }}{{",
		"\xff\xfe{{ n_0.x }}", "{{ n_0.loop }}",
	}
	outputs := Outputs{"n_0": {"x": math.Inf(1), "loop": cyclic}}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			Resolve(in, graph, outputs)
			Resolve(in, nil, nil)
		}, "input %q", in)
	}
}

func TestResolveParams(t *testing.T) {
	graph := testGraph("input_0")
	params := map[string]any{
		"prompt":  "Say {{ input_0.text }}",
		"count":   3,
		"nested":  map[string]any{"p": "{{ input_0.text }}"},
		"missing": "{{ input_0.other }}",
	}

	out, warnings := ResolveParams(params, graph, Outputs{"input_0": {"text": "hi"}})

	assert.Equal(t, "Say hi", out["prompt"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, map[string]any{"p": "{{ input_0.text }}"}, out["nested"], "only top-level strings are resolved")
	assert.Equal(t, "", out["missing"])
	require.Len(t, warnings, 1)
	assert.Equal(t, "Say {{ input_0.text }}", params["prompt"], "input is not modified")
}

func TestCheckWorkflow(t *testing.T) {
	w := testGraph("input_0", "openai_0", "output_0")
	w.Edges = []workflow.Edge{{ID: "e1", Source: "input_0", Target: "openai_0"}}
	w.Nodes[1].Data.Params["prompt"] = "{{ input_0.text }} {{ ghost_0.x }} {{ openai_0.response }}"
	w.Nodes[2].Data.Params["value"] = "{{ openai_0.response }}"

	issues := CheckWorkflow(w)
	require.Len(t, issues, 3)
	assert.Equal(t, "ghost_0", issues[0].Ref.NodeName)
	assert.Contains(t, issues[1].Message, "own output")
	assert.Equal(t, "output_0", string(issues[2].NodeID))
	assert.Contains(t, issues[2].Message, "not upstream")
}

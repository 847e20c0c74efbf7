package executors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/execution"
	"github.com/dshills/flowgraph/pkg/workflow"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := execution.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	var got []string
	for _, spec := range reg.Specs() {
		got = append(got, spec.Type)
	}
	assert.ElementsMatch(t, []string{TypeInput, TypeOutput, TypeTransform, TypeCondition, TypeJSONPath, TypeJQ, TypeOpenAI}, got)

	assert.Error(t, RegisterBuiltins(reg), "types can only be registered once")
}

func TestInputOutput(t *testing.T) {
	out, err := Input().Execute(context.Background(), map[string]any{"text": "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out["text"])
	assert.Equal(t, "Hello", out["value"])

	out, err = Output().Execute(context.Background(), map[string]any{"value": 42})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 42}, out)
}

func TestTransformAndCondition(t *testing.T) {
	ev := NewExpressionEvaluator()
	ctx := context.Background()

	tests := []struct {
		name   string
		ex     execution.Executor
		params map[string]any
		want   any
	}{
		{name: "arithmetic", ex: Transform(ev), params: map[string]any{"expression": "a * 2 + 1", "a": 20}, want: 41},
		{name: "string", ex: Transform(ev), params: map[string]any{"expression": `upper(text) + "!"`, "text": "hi"}, want: "HI!"},
		{name: "json input", ex: Transform(ev), params: map[string]any{"expression": "input.items[1].name", "input": `{"items":[{"name":"a"},{"name":"b"}]}`}, want: "b"},
		{name: "condition true", ex: Condition(ev), params: map[string]any{"expression": "score >= 0.5 && label == 'ok'", "score": 0.7, "label": "ok"}, want: true},
		{name: "condition false", ex: Condition(ev), params: map[string]any{"expression": "len(text) > 10", "text": "short"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.ex.Execute(ctx, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["result"])
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	ev := NewExpressionEvaluator()
	ctx := context.Background()

	_, err := ev.Evaluate(ctx, `os.Getenv("HOME")`, nil)
	assert.ErrorIs(t, err, ErrUnsafeOperation)

	_, err = ev.Evaluate(ctx, "1 +", nil)
	assert.ErrorIs(t, err, ErrInvalidExpression)

	_, err = ev.EvaluateBool(ctx, "1 + 1", nil)
	assert.ErrorIs(t, err, ErrNotBoolean)
}

func TestJSONPath(t *testing.T) {
	data := `{"user":{"name":"Ada","tags":["x","y"]},"items":[{"id":1},{"id":2}]}`

	tests := []struct {
		path   string
		want   any
		exists bool
	}{
		{path: "$.user.name", want: "Ada", exists: true},
		{path: "$.user.tags[1]", want: "y", exists: true},
		{path: "$.items[*].id", want: []any{1.0, 2.0}, exists: true},
		{path: "items.#", want: 2.0, exists: true},
		{path: "$.missing", want: nil, exists: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out, err := JSONPath().Execute(context.Background(), map[string]any{"path": tt.path, "data": data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["result"])
			assert.Equal(t, tt.exists, out["exists"])
		})
	}

	_, err := JSONPath().Execute(context.Background(), map[string]any{"path": "$.a[0", "data": data})
	assert.ErrorIs(t, err, ErrInvalidJSONPath)

	_, err = JSONPath().Execute(context.Background(), map[string]any{"path": "$.a", "data": "{not json"})
	assert.Error(t, err)
}

func TestJQ(t *testing.T) {
	ex := JQ(NewJQEngine())
	ctx := context.Background()

	out, err := ex.Execute(ctx, map[string]any{"query": "[.items[].id] | add", "data": `{"items":[{"id":1},{"id":2}]}`})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out["result"])

	out, err = ex.Execute(ctx, map[string]any{"query": ".[] | .n", "data": []any{map[string]any{"n": 1}, map[string]any{"n": 2}}})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out["result"])

	out, err = ex.Execute(ctx, map[string]any{"query": "$ENV | length", "data": "{}"})
	require.NoError(t, err)
	assert.Equal(t, 0, out["result"])

	_, err = ex.Execute(ctx, map[string]any{"query": ".[", "data": "{}"})
	assert.Error(t, err)
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

type staticSecrets map[string]string

func (s staticSecrets) Get(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestOpenAI_FakeClient(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Model:   "gpt-test",
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "A greeting."}}},
		Usage:   openai.Usage{PromptTokens: 5, CompletionTokens: 3},
	}}
	ex := OpenAI(WithChatClient(chat), WithModel("gpt-test"))

	out, err := ex.Execute(context.Background(), map[string]any{"prompt": "Summarize: Hello", "system": "Be brief", "temperature": "0.2"})
	require.NoError(t, err)
	assert.Equal(t, "A greeting.", out["response"])
	assert.Equal(t, 5, out["promptTokens"])

	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Equal(t, "Summarize: Hello", chat.req.Messages[1].Content)
	assert.Equal(t, "gpt-test", chat.req.Model)
	assert.InDelta(t, 0.2, chat.req.Temperature, 0.0001)

	chat.resp.Choices = nil
	_, err = ex.Execute(context.Background(), map[string]any{"prompt": "x"})
	assert.Error(t, err)
}

func TestOpenAI_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := OpenAI(WithSecrets(staticSecrets{})).Execute(context.Background(), map[string]any{"prompt": "x"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestOpenAI_HTTP(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "echo " + req.Messages[0].Content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6},
		})
	}))
	defer srv.Close()

	ex := OpenAI(WithSecrets(staticSecrets{OpenAICredentialKey: "sk-test"}), WithBaseURL(srv.URL+"/v1"))
	out, err := ex.Execute(context.Background(), map[string]any{"prompt": "ping"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "echo ping", out["response"])
	assert.Equal(t, DefaultOpenAIModel, out["model"])
}

func TestBuiltinsThroughEngine(t *testing.T) {
	reg := execution.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, WithOpenAI(WithChatClient(&fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "short"}}},
	}}))))
	eng := execution.NewEngine(reg)

	wf := workflow.New()
	input := workflow.NewNode("input_0", TypeInput, workflow.Position{})
	input.Data.Params["text"] = `{"score": 0.9}`
	parse := workflow.NewNode("jq_0", TypeJQ, workflow.Position{})
	parse.Data.Params["query"] = ".score"
	parse.Data.Params["data"] = "{{ input_0.text }}"
	check := workflow.NewNode("condition_0", TypeCondition, workflow.Position{})
	check.Data.Params["expression"] = `score == "0.9"`
	check.Data.Params["score"] = "{{ jq_0.result }}"
	llm := workflow.NewNode("openai_0", TypeOpenAI, workflow.Position{})
	llm.Data.Params["prompt"] = "Summarize: {{ input_0.text }}"
	out := workflow.NewNode("output_0", TypeOutput, workflow.Position{})
	out.Data.Params["value"] = "{{ openai_0.response }} / {{ condition_0.result }}"

	wf.Nodes = []workflow.Node{input, parse, check, llm, out}
	wf.Edges = []workflow.Edge{
		{ID: "e1", Source: "input_0", Target: "jq_0"},
		{ID: "e2", Source: "jq_0", Target: "condition_0"},
		{ID: "e3", Source: "input_0", Target: "openai_0"},
		{ID: "e4", Source: "openai_0", Target: "output_0"},
		{ID: "e5", Source: "condition_0", Target: "output_0"},
	}

	report, err := eng.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, report.OverallStatus)

	res, _ := report.Result("output_0")
	assert.Equal(t, "short / true", res.Output["value"])
}

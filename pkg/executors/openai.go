package executors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/flowgraph/pkg/execution"
)

// DefaultOpenAIModel is used when neither the node nor the options name one.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAICredentialKey is the credential store key holding the API key.
const OpenAICredentialKey = "openai_api_key"

// ErrNoAPIKey is returned when no API key can be found.
var ErrNoAPIKey = errors.New("no OpenAI API key configured")

// ChatClient is the subset of *openai.Client used by the executor.
type ChatClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// SecretSource looks up a credential by key.
type SecretSource interface {
	Get(key string) (string, error)
}

// OpenAIOption configures the openai executor.
type OpenAIOption func(*openAIExecutor)

// WithChatClient sets the client directly.
func WithChatClient(c ChatClient) OpenAIOption {
	return func(e *openAIExecutor) { e.client = c }
}

// WithModel sets the default model.
func WithModel(model string) OpenAIOption {
	return func(e *openAIExecutor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(e *openAIExecutor) { e.baseURL = url }
}

// WithSecrets sets where the API key is read from. OPENAI_API_KEY is the
// fallback.
func WithSecrets(s SecretSource) OpenAIOption {
	return func(e *openAIExecutor) { e.secrets = s }
}

type openAIExecutor struct {
	model   string
	baseURL string
	secrets SecretSource

	mu     sync.Mutex
	client ChatClient
}

// OpenAI returns the chat completion executor. The client is built on first
// use so a missing key only fails the nodes that need it.
func OpenAI(opts ...OpenAIOption) execution.Executor {
	e := &openAIExecutor{model: DefaultOpenAIModel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *openAIExecutor) Spec() execution.NodeSpec {
	return execution.NodeSpec{
		Type:           TypeOpenAI,
		Description:    "Sends a prompt to an OpenAI chat model",
		RequiredParams: []string{"prompt"},
		Outputs:        []string{"response", "model", "promptTokens", "completionTokens"},
	}
}

func (e *openAIExecutor) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	client, err := e.chatClient()
	if err != nil {
		return nil, err
	}

	model := stringParam(params, "model")
	if model == "" {
		model = e.model
	}

	var messages []openai.ChatCompletionMessage
	if system := stringParam(params, "system"); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	prompt, _ := params["prompt"].(string)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{Model: model, Messages: messages}
	if t, ok := floatParam(params, "temperature"); ok {
		req.Temperature = float32(t)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return map[string]any{
		"response":         resp.Choices[0].Message.Content,
		"model":            resp.Model,
		"promptTokens":     resp.Usage.PromptTokens,
		"completionTokens": resp.Usage.CompletionTokens,
	}, nil
}

func (e *openAIExecutor) chatClient() (ChatClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	var key string
	if e.secrets != nil {
		key, _ = e.secrets.Get(OpenAICredentialKey)
	}
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	cfg := openai.DefaultConfig(key)
	if e.baseURL != "" {
		cfg.BaseURL = e.baseURL
	}
	e.client = openai.NewClientWithConfig(cfg)
	return e.client, nil
}

func floatParam(params map[string]any, name string) (float64, bool) {
	switch v := params[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

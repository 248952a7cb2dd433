package provider

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
ollamaRoleMap compresses convertMessages' switch.
*/
var ollamaRoleMap = map[convo.Role]func(string) api.Message{
	convo.RoleSystem: func(text string) api.Message {
		return api.Message{
			Role:    "system",
			Content: text,
		}
	},
	convo.RoleUser: func(text string) api.Message {
		return api.Message{
			Role:    "user",
			Content: text,
		}
	},
	convo.RoleAssistant: func(text string) api.Message {
		return api.Message{
			Role:    "assistant",
			Content: text,
		}
	},
}

/*
OllamaProvider is a provider for a local Ollama daemon.
*/
type OllamaProvider struct {
	client *api.Client
}

type OllamaProviderOption func(*OllamaProvider)

func NewOllamaProvider(options ...OllamaProviderOption) *OllamaProvider {
	prvdr := &OllamaProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *OllamaProvider) Name() string {
	return "ollama"
}

func (prvdr *OllamaProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	stream := false

	req := &api.ChatRequest{
		Model:    params.Model,
		Messages: prvdr.convertMessages(params.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": params.Temperature,
			"num_predict": params.MaxTokens,
			"stop":        params.StopSequences,
		},
	}

	var (
		text   strings.Builder
		result Result
	)

	respFunc := func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)

		if resp.Done {
			result.PromptTokens = resp.Metrics.PromptEvalCount
			result.CompletionTokens = resp.Metrics.EvalCount
		}

		return nil
	}

	if err := prvdr.client.Chat(ctx, req, respFunc); err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	result.Text = text.String()
	return result, nil
}

func (prvdr *OllamaProvider) convertMessages(
	messages []convo.Message,
) []api.Message {
	out := make([]api.Message, 0, len(messages))

	for _, msg := range messages {
		if fn, ok := ollamaRoleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return out
}

func WithOllamaClient() OllamaProviderOption {
	return func(prvdr *OllamaProvider) {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create Ollama client", "error", err)
			return
		}
		prvdr.client = client
	}
}

/*
OllamaEmbedder embeds text through a local Ollama model, which keeps
the whole memory pipeline runnable without cloud credentials.
*/
type OllamaEmbedder struct {
	api   *api.Client
	Model string
	dims  int
}

type OllamaEmbedderOption func(*OllamaEmbedder)

func NewOllamaEmbedder(options ...OllamaEmbedderOption) *OllamaEmbedder {
	embedder := &OllamaEmbedder{
		Model: "nomic-embed-text",
		dims:  768,
	}

	if client, err := api.ClientFromEnvironment(); err == nil {
		embedder.api = client
	}

	for _, option := range options {
		option(embedder)
	}

	return embedder
}

func (embedder *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := embedder.api.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  embedder.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	return toFloat32(resp.Embedding), nil
}

func (embedder *OllamaEmbedder) Dims() int {
	return embedder.dims
}

func WithOllamaEmbedderModel(model string, dims int) OllamaEmbedderOption {
	return func(embedder *OllamaEmbedder) {
		embedder.Model = model
		embedder.dims = dims
	}
}

func WithOllamaEmbedderClient(client *api.Client) OllamaEmbedderOption {
	return func(embedder *OllamaEmbedder) {
		embedder.api = client
	}
}

package provider

import (
	"context"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
roleMap compresses convertMessages' switch.
*/
var roleMap = map[convo.Role]func(string) openai.ChatCompletionMessageParamUnion{
	convo.RoleSystem:    openai.SystemMessage[string],
	convo.RoleUser:      openai.UserMessage[string],
	convo.RoleAssistant: openai.AssistantMessage[string],
}

/*
OpenAIProvider is a provider for the OpenAI API.
*/
type OpenAIProvider struct {
	client *openai.Client
}

type OpenAIProviderOption func(*OpenAIProvider)

func NewOpenAIProvider(options ...OpenAIProviderOption) *OpenAIProvider {
	prvdr := &OpenAIProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *OpenAIProvider) Name() string {
	return "openai"
}

func (prvdr *OpenAIProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	completion, err := prvdr.client.Chat.Completions.New(ctx, prvdr.completionParams(params))

	if err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	if len(completion.Choices) == 0 {
		return Result{}, errors.ErrModelFatal.WithMessagef(
			"openai %s: completion returned no choices", params.Model,
		)
	}

	return Result{
		Text:             completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func (prvdr *OpenAIProvider) completionParams(params Params) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(params.Model),
		Messages:    prvdr.convertMessages(params.Messages),
		Temperature: openai.Float(params.Temperature),
		MaxTokens:   openai.Int(params.MaxTokens),
		Stop: openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: params.StopSequences,
		},
	}
}

func (prvdr *OpenAIProvider) convertMessages(
	messages []convo.Message,
) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		if fn, ok := roleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return out
}

func WithOpenAIClient() OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		client := openai.NewClient(
			option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
		)

		prvdr.client = &client
	}
}

type OpenAIEmbedder struct {
	api   openai.Client
	Model string
	dims  int
}

type OpenAIEmbedderOption func(*OpenAIEmbedder)

// text-embedding-ada-002 vectors are 1536 wide.
func NewOpenAIEmbedder(options ...OpenAIEmbedderOption) *OpenAIEmbedder {
	embedder := &OpenAIEmbedder{
		api:   openai.NewClient(option.WithAPIKey(os.Getenv("OPENAI_API_KEY"))),
		Model: "text-embedding-ada-002",
		dims:  1536,
	}

	for _, option := range options {
		option(embedder)
	}

	return embedder
}

func (embedder *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := embedder.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(embedder.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, err
	}

	return toFloat32(resp.Data[0].Embedding), nil
}

func (embedder *OpenAIEmbedder) Dims() int {
	return embedder.dims
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func WithOpenAIEmbedderModel(model string, dims int) OpenAIEmbedderOption {
	return func(embedder *OpenAIEmbedder) {
		embedder.Model = model
		embedder.dims = dims
	}
}

func WithOpenAIEmbedderClient(client *openai.Client) OpenAIEmbedderOption {
	return func(embedder *OpenAIEmbedder) {
		embedder.api = *client
	}
}

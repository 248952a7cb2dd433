package provider

import (
	"context"
	"os"

	deepseek "github.com/cohesion-org/deepseek-go"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
deepseekRoleMap compresses convertMessages' switch.
*/
var deepseekRoleMap = map[convo.Role]func(string) deepseek.ChatCompletionMessage{
	convo.RoleSystem: func(text string) deepseek.ChatCompletionMessage {
		return deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleSystem,
			Content: text,
		}
	},
	convo.RoleUser: func(text string) deepseek.ChatCompletionMessage {
		return deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleUser,
			Content: text,
		}
	},
	convo.RoleAssistant: func(text string) deepseek.ChatCompletionMessage {
		return deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleAssistant,
			Content: text,
		}
	},
}

/*
DeepseekProvider is a provider for the Deepseek API.
*/
type DeepseekProvider struct {
	client *deepseek.Client
}

type DeepseekProviderOption func(*DeepseekProvider)

func NewDeepseekProvider(options ...DeepseekProviderOption) *DeepseekProvider {
	prvdr := &DeepseekProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *DeepseekProvider) Name() string {
	return "deepseek"
}

func (prvdr *DeepseekProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	response, err := prvdr.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    prvdr.convertMessages(params.Messages),
		Temperature: float32(params.Temperature),
		MaxTokens:   int(params.MaxTokens),
		Stop:        params.StopSequences,
	})

	if err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	if len(response.Choices) == 0 {
		return Result{}, errors.ErrModelFatal.WithMessagef(
			"deepseek %s: completion returned no choices", params.Model,
		)
	}

	return Result{Text: response.Choices[0].Message.Content}, nil
}

func (prvdr *DeepseekProvider) convertMessages(
	messages []convo.Message,
) []deepseek.ChatCompletionMessage {
	out := make([]deepseek.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		if fn, ok := deepseekRoleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return out
}

func WithDeepseekClient() DeepseekProviderOption {
	return func(prvdr *DeepseekProvider) {
		prvdr.client = deepseek.NewClient(os.Getenv("DEEPSEEK_API_KEY"))
	}
}

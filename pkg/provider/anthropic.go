package provider

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
anthropicRoleMap compresses convertMessages' switch. System messages
are handled separately because Anthropic takes them as a dedicated
request field, not as chat turns.
*/
var anthropicRoleMap = map[convo.Role]func(string) anthropic.MessageParam{
	convo.RoleUser: func(text string) anthropic.MessageParam {
		return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
	},
	convo.RoleAssistant: func(text string) anthropic.MessageParam {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(text))
	},
}

/*
AnthropicProvider is a provider for the Anthropic API.
*/
type AnthropicProvider struct {
	client *anthropic.Client
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *AnthropicProvider) Name() string {
	return "anthropic"
}

func (prvdr *AnthropicProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	system, messages := prvdr.convertMessages(params.Messages)

	message, err := prvdr.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:         anthropic.Model(params.Model),
		System:        system,
		Messages:      messages,
		MaxTokens:     params.MaxTokens,
		Temperature:   anthropic.Float(params.Temperature),
		StopSequences: params.StopSequences,
	})

	if err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(textBlock.Text)
		}
	}

	return Result{
		Text:             text.String(),
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}, nil
}

func (prvdr *AnthropicProvider) convertMessages(
	messages []convo.Message,
) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	system := make([]anthropic.TextBlockParam, 0, 2)
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == convo.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			continue
		}

		if fn, ok := anthropicRoleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return system, out
}

func WithAnthropicClient() AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		client := anthropic.NewClient(
			option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		)

		prvdr.client = &client
	}
}

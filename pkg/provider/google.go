package provider

import (
	"context"
	"strings"

	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"google.golang.org/genai"
)

/*
googleRoleMap compresses convertMessages' switch. Gemini has no system
role in the message list, so RoleSystem is lifted out separately.
*/
var googleRoleMap = map[convo.Role]func(string) *genai.Content{
	convo.RoleUser: func(text string) *genai.Content {
		return &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: text}},
		}
	},
	convo.RoleAssistant: func(text string) *genai.Content {
		return &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: text}},
		}
	},
}

/*
GoogleProvider is a provider for Google's Gemini models.
*/
type GoogleProvider struct {
	client *genai.Client
}

type GoogleProviderOption func(*GoogleProvider)

func NewGoogleProvider(options ...GoogleProviderOption) *GoogleProvider {
	prvdr := &GoogleProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *GoogleProvider) Name() string {
	return "google"
}

func (prvdr *GoogleProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	system, contents := prvdr.convertMessages(params.Messages)

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(params.Temperature)),
		MaxOutputTokens:   int32(params.MaxTokens),
		StopSequences:     params.StopSequences,
		SystemInstruction: system,
	}

	resp, err := prvdr.client.Models.GenerateContent(
		ctx, params.Model, contents, config,
	)
	if err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, errors.ErrModelFatal.WithMessagef(
			"%s %s: empty response", prvdr.Name(), params.Model,
		)
	}

	var text strings.Builder

	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	result := Result{Text: text.String()}

	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return result, nil
}

func (prvdr *GoogleProvider) convertMessages(
	messages []convo.Message,
) (*genai.Content, []*genai.Content) {
	var system *genai.Content

	out := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == convo.RoleSystem {
			// Gemini takes a single system instruction; multiple system
			// messages accumulate as parts so none of them are lost.
			if system == nil {
				system = &genai.Content{}
			}

			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})
			continue
		}

		if fn, ok := googleRoleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return system, out
}

func WithGoogleClient() GoogleProviderOption {
	return func(prvdr *GoogleProvider) {
		client, err := genai.NewClient(context.Background(), nil)
		if err != nil {
			return
		}
		prvdr.client = client
	}
}

func WithGoogleClientInstance(client *genai.Client) GoogleProviderOption {
	return func(prvdr *GoogleProvider) {
		prvdr.client = client
	}
}

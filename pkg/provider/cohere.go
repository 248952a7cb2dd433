package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
CohereProvider is a provider for the Cohere API. Cohere's chat
endpoint takes one message string, so the assembled conversation is
flattened role-prefixed, one line per message.
*/
type CohereProvider struct {
	client *cohereclient.Client
}

type CohereProviderOption func(*CohereProvider)

func NewCohereProvider(options ...CohereProviderOption) *CohereProvider {
	prvdr := &CohereProvider{}

	for _, option := range options {
		option(prvdr)
	}

	return prvdr
}

func (prvdr *CohereProvider) Name() string {
	return "cohere"
}

func (prvdr *CohereProvider) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	model := params.Model
	maxTokens := int(params.MaxTokens)
	temperature := params.Temperature

	response, err := prvdr.client.Chat(ctx, &cohere.ChatRequest{
		Model:         &model,
		Message:       prvdr.convertMessages(params.Messages),
		MaxTokens:     &maxTokens,
		Temperature:   &temperature,
		StopSequences: params.StopSequences,
	})

	if err != nil {
		return Result{}, classify(prvdr.Name(), params.Model, err)
	}

	return Result{Text: response.GetText()}, nil
}

func (prvdr *CohereProvider) convertMessages(messages []convo.Message) string {
	var flattened strings.Builder

	for _, msg := range messages {
		fmt.Fprintf(&flattened, "%s: %s\n", msg.Role, msg.Content)
	}

	return flattened.String()
}

func WithCohereClient() CohereProviderOption {
	return func(prvdr *CohereProvider) {
		client := cohereclient.NewClient(
			cohereclient.WithToken(os.Getenv("COHERE_API_KEY")),
		)

		prvdr.client = client
	}
}

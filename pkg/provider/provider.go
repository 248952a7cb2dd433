package provider

import (
	"context"
	stderrors "errors"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	coherecore "github.com/cohere-ai/cohere-go/v2/core"
	"github.com/ollama/ollama/api"
	openai "github.com/openai/openai-go"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"google.golang.org/genai"
)

/*
Params is a single completion call: the resolved model, the assembled
messages, and the generation settings.
*/
type Params struct {
	Model         string
	Messages      []convo.Message
	MaxTokens     int64
	Temperature   float64
	StopSequences []string
}

/*
Result is the model's reply plus its token accounting. Providers that
do not report usage leave the counts at zero.
*/
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

/*
Client is one upstream model API. Complete makes a single synchronous
call; failures come back classified as transient or fatal so the
caller knows whether retrying can help.
*/
type Client interface {
	Name() string
	Complete(ctx context.Context, params Params) (Result, *errors.Error)
}

/*
statusOf digs the HTTP status out of the SDK error types we know.
Zero means the call never got an HTTP response.
*/
func statusOf(err error) int {
	var openaiErr *openai.Error
	if stderrors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}

	var anthropicErr *anthropic.Error
	if stderrors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}

	var cohereErr *coherecore.APIError
	if stderrors.As(err, &cohereErr) {
		return cohereErr.StatusCode
	}

	var ollamaErr api.StatusError
	if stderrors.As(err, &ollamaErr) {
		return ollamaErr.StatusCode
	}

	var googleErr genai.APIError
	if stderrors.As(err, &googleErr) {
		return googleErr.Code
	}

	return 0
}

/*
classify maps an upstream failure to the retry taxonomy. Rate limits,
timeouts, server errors and connection-level failures are transient;
any other HTTP status is fatal.
*/
func classify(name, model string, err error) *errors.Error {
	return classifyStatus(name, model, statusOf(err), err)
}

func classifyStatus(name, model string, status int, err error) *errors.Error {
	base := errors.ErrModelFatal
	switch {
	case status == 0,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		base = errors.ErrModelTransient
	}

	return base.WithMessagef("%s %s: %v", name, model, err)
}

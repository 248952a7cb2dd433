package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
StubResponse is one scripted turn of a StubClient.
*/
type StubResponse struct {
	Result Result
	Err    *errors.Error
}

/*
StubClient is a scriptable client used by tests and by credential-free
dev setups. Scripted responses are served in order; once the script is
exhausted, Complete echoes the last user message so a bare install
still answers.
*/
type StubClient struct {
	mu     sync.Mutex
	name   string
	script []StubResponse
	calls  []Params
}

type StubClientOption func(*StubClient)

func NewStubClient(options ...StubClientOption) *StubClient {
	stub := &StubClient{
		name: "stub",
	}

	for _, option := range options {
		option(stub)
	}

	return stub
}

func (stub *StubClient) Name() string {
	return stub.name
}

func (stub *StubClient) Complete(
	ctx context.Context, params Params,
) (Result, *errors.Error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()

	stub.calls = append(stub.calls, params)

	if len(stub.script) > 0 {
		next := stub.script[0]
		stub.script = stub.script[1:]
		return next.Result, next.Err
	}

	return Result{Text: stub.echo(params.Messages)}, nil
}

func (stub *StubClient) echo(messages []convo.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == convo.RoleUser {
			return fmt.Sprintf("echo: %s", messages[i].Content)
		}
	}

	return "echo:"
}

// Calls returns a copy of every Params the stub has seen.
func (stub *StubClient) Calls() []Params {
	stub.mu.Lock()
	defer stub.mu.Unlock()

	out := make([]Params, len(stub.calls))
	copy(out, stub.calls)
	return out
}

func WithStubName(name string) StubClientOption {
	return func(stub *StubClient) {
		stub.name = name
	}
}

func WithStubScript(responses ...StubResponse) StubClientOption {
	return func(stub *StubClient) {
		stub.script = append(stub.script, responses...)
	}
}

package provider

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
Binding ties a routable model name to the client that serves it,
together with the generation defaults used when a request does not
override them.
*/
type Binding struct {
	Client        Client
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

/*
Registry maps model names to provider bindings. The router only deals
in model names; the orchestrator resolves them here right before the
call, so swapping a model's backing provider is a registration change.
*/
type Registry struct {
	bindings *sync.Map
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: new(sync.Map),
	}
}

func (registry *Registry) Register(model string, binding Binding) {
	log.Info(
		"registering model",
		"model", model,
		"provider", binding.Client.Name(),
	)
	registry.bindings.Store(model, binding)
}

func (registry *Registry) Resolve(model string) (Binding, *errors.Error) {
	binding, ok := registry.bindings.Load(model)

	if !ok {
		return Binding{}, errors.ErrModelFatal.WithMessagef(
			"no provider bound for model %s", model,
		)
	}

	return binding.(Binding), nil
}

func (registry *Registry) Models() []string {
	models := make([]string, 0)

	registry.bindings.Range(func(key, value any) bool {
		models = append(models, key.(string))
		return true
	})

	sort.Strings(models)
	return models
}

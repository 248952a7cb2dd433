package router

import (
	"github.com/theapemachine/minne/pkg/convo"
)

/*
Router orders the candidate models for a request. Requests with a
cheap intent or an oversize prompt try the cheap model first; every
other request starts on the costly model. The returned plan is never
empty, and the other model always remains as fallback unless both
names are the same.
*/
type Router struct {
	costly        string
	cheap         string
	sizeThreshold int
	cheapIntents  map[string]bool
}

type RouterOption func(*Router)

func NewRouter(options ...RouterOption) *Router {
	router := &Router{
		costly:        "gpt-4o",
		cheap:         "gpt-3.5-turbo",
		sizeThreshold: 6000,
		cheapIntents: map[string]bool{
			IntentSummarization: true,
		},
	}

	for _, option := range options {
		option(router)
	}

	return router
}

// WithModels replaces the default costly and cheap model names.
func WithModels(costly, cheap string) RouterOption {
	return func(router *Router) {
		router.costly = costly
		router.cheap = cheap
	}
}

// WithSizeThreshold sets the prompt size above which requests start
// on the cheap model.
func WithSizeThreshold(threshold int) RouterOption {
	return func(router *Router) {
		router.sizeThreshold = threshold
	}
}

// WithCheapIntent marks another intent as cheap-model work.
func WithCheapIntent(intent string) RouterOption {
	return func(router *Router) {
		router.cheapIntents[intent] = true
	}
}

/*
Plan is an ordered list of models to attempt, with the intent and the
reason kept for logs and audit records.
*/
type Plan struct {
	Models     []string
	Intent     string
	Confidence float64
	Reason     string
}

func (router *Router) Route(message string, hints convo.Hints, promptTokens int) Plan {
	intent := hints.Intent
	confidence := 1.0

	if intent == "" {
		classification := Classify(message)
		intent = classification.Intent
		confidence = classification.Confidence
	}

	plan := Plan{Intent: intent, Confidence: confidence}

	switch {
	case router.cheapIntents[intent]:
		plan.Models = []string{router.cheap, router.costly}
		plan.Reason = "cheap intent"
	case promptTokens > router.sizeThreshold:
		plan.Models = []string{router.cheap, router.costly}
		plan.Reason = "prompt over size threshold"
	default:
		plan.Models = []string{router.costly, router.cheap}
		plan.Reason = "costly first"
	}

	if router.cheap == router.costly {
		plan.Models = plan.Models[:1]
	}

	return plan
}

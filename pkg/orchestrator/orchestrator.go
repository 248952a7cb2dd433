package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/minne/pkg/audit"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"github.com/theapemachine/minne/pkg/memory"
	"github.com/theapemachine/minne/pkg/metrics"
	"github.com/theapemachine/minne/pkg/prompt"
	"github.com/theapemachine/minne/pkg/provider"
	"github.com/theapemachine/minne/pkg/ratelimit"
	"github.com/theapemachine/minne/pkg/router"
)

/*
Orchestrator drives a completion request through admission, memory
retrieval, context assembly, routing, the model call chain and
persistence. One Orchestrator serves all callers concurrently; per
request state lives on the stack of Complete.
*/
type Orchestrator struct {
	limiter        *ratelimit.Limiter
	manager        *memory.Manager
	assembler      *prompt.Assembler
	router         *router.Router
	registry       *provider.Registry
	retry          *errors.RetryConfig
	collector      *metrics.Collector
	auditor        *audit.Logger
	callTimeout    time.Duration
	persistTimeout time.Duration
}

type Option func(*Orchestrator)

/*
New assembles an orchestrator. Every dependency left unset gets an
in-process default, so a bare New() yields a working single-node
pipeline with an empty model registry.
*/
func New(options ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		retry:          errors.DefaultRetryConfig(),
		collector:      metrics.NewCollector(),
		callTimeout:    30 * time.Second,
		persistTimeout: 5 * time.Second,
	}

	for _, option := range options {
		option(orchestrator)
	}

	if orchestrator.limiter == nil {
		orchestrator.limiter = ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore())
	}

	if orchestrator.manager == nil {
		embedder := memory.NewMockEmbedder(16)
		orchestrator.manager = memory.NewManager(
			memory.NewMemoryShortTerm(),
			memory.NewLongTerm(embedder, memory.NewMemoryVectorStore()),
		)
	}

	if orchestrator.assembler == nil {
		orchestrator.assembler = prompt.NewAssembler()
	}

	if orchestrator.router == nil {
		orchestrator.router = router.NewRouter()
	}

	if orchestrator.registry == nil {
		orchestrator.registry = provider.NewRegistry()
	}

	return orchestrator
}

func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.limiter = limiter
	}
}

func WithMemory(manager *memory.Manager) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.manager = manager
	}
}

func WithAssembler(assembler *prompt.Assembler) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.assembler = assembler
	}
}

func WithRouter(modelRouter *router.Router) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.router = modelRouter
	}
}

func WithRegistry(registry *provider.Registry) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.registry = registry
	}
}

func WithRetryConfig(config *errors.RetryConfig) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.retry = config
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.collector = collector
	}
}

func WithAuditor(auditor *audit.Logger) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.auditor = auditor
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.callTimeout = timeout
	}
}

func WithPersistTimeout(timeout time.Duration) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.persistTimeout = timeout
	}
}

// Metrics exposes the collector for transport bindings to publish.
func (orchestrator *Orchestrator) Metrics() *metrics.Collector {
	return orchestrator.collector
}

/*
Complete runs one request through the full pipeline. The returned
response is never nil on a nil error; a degraded response (every
candidate model failed) is a response, not an error.
*/
func (orchestrator *Orchestrator) Complete(
	ctx context.Context, req convo.CompletionRequest,
) (*convo.CompletionResponse, *errors.Error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()

	if !orchestrator.limiter.AdmitClass(ctx, req.CallerID, req.CallerClass, 1) {
		orchestrator.collector.RecordAdmission(false)
		orchestrator.transition(requestID, StateRejected, "caller_id", req.CallerID)
		orchestrator.record(ctx, audit.Event{
			RequestID: requestID,
			CallerID:  req.CallerID,
			SessionID: req.SessionID,
			Kind:      audit.KindRejected,
		})
		return nil, errors.ErrRateLimited
	}

	orchestrator.collector.RecordAdmission(true)
	orchestrator.transition(requestID, StateAdmitted, "caller_id", req.CallerID)
	orchestrator.record(ctx, audit.Event{
		RequestID: requestID,
		CallerID:  req.CallerID,
		SessionID: req.SessionID,
		Kind:      audit.KindAdmitted,
	})

	bundle := orchestrator.manager.Retrieve(ctx, req.CallerID, req.SessionID, req.Message)

	orchestrator.transition(requestID, StateAssembling)

	assembled, err := orchestrator.assembler.Assemble(bundle, req.Message)
	if err != nil {
		orchestrator.collector.RecordContextTooLarge()
		orchestrator.record(ctx, audit.Event{
			RequestID: requestID,
			CallerID:  req.CallerID,
			SessionID: req.SessionID,
			Kind:      audit.KindError,
			Detail:    err.Message,
		})
		return nil, err
	}

	plan := orchestrator.router.Route(req.Message, req.Hints, assembled.EstimatedTokens)

	log.Debug(
		"routing plan",
		"request_id", requestID,
		"models", plan.Models,
		"intent", plan.Intent,
		"confidence", plan.Confidence,
		"reason", plan.Reason,
	)

	// Everything past this point must survive a client disconnect: an
	// answer a model already produced has to reach short-term memory.
	detached := context.WithoutCancel(ctx)

	result, modelUsed := orchestrator.callModels(detached, requestID, req, assembled, plan)

	response := &convo.CompletionResponse{
		Text:             result.Text,
		ModelUsed:        modelUsed,
		SessionID:        req.SessionID,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}

	if modelUsed == "" {
		orchestrator.transition(requestID, StateExhausted)
		log.Error(
			"all candidate models exhausted",
			"request_id", requestID,
			"caller_id", req.CallerID,
			"models", plan.Models,
		)
		response.Text = fallbackText(bundle, req.Message)
		response.ModelUsed = convo.FallbackLocal
		response.Degraded = true
	}

	orchestrator.transition(requestID, StatePersisting)

	if err := orchestrator.persist(detached, req, response); err != nil {
		orchestrator.collector.RecordMemoryWriteFailure()
		log.Error(
			"failed to persist completed exchange",
			"request_id", requestID,
			"session_id", req.SessionID,
			"error", err,
		)
		orchestrator.record(ctx, audit.Event{
			RequestID: requestID,
			CallerID:  req.CallerID,
			SessionID: req.SessionID,
			Kind:      audit.KindError,
			Detail:    err.Message,
		})
		return nil, err
	}

	if response.Degraded {
		orchestrator.collector.RecordDegraded()
		orchestrator.record(ctx, audit.Event{
			RequestID: requestID,
			CallerID:  req.CallerID,
			SessionID: req.SessionID,
			Kind:      audit.KindDegraded,
			Model:     response.ModelUsed,
		})
	} else {
		orchestrator.collector.RecordSuccess()
		orchestrator.record(ctx, audit.Event{
			RequestID: requestID,
			CallerID:  req.CallerID,
			SessionID: req.SessionID,
			Kind:      audit.KindSuccess,
			Model:     response.ModelUsed,
		})
	}

	orchestrator.transition(requestID, StateDone, "model_used", response.ModelUsed)

	return response, nil
}

/*
callModels walks the routing plan. Each model gets up to MaxAttempts
calls with backoff between transient failures; a fatal error moves to
the next candidate immediately. An empty model name in the return
means every candidate failed.
*/
func (orchestrator *Orchestrator) callModels(
	ctx context.Context,
	requestID string,
	req convo.CompletionRequest,
	assembled convo.Prompt,
	plan router.Plan,
) (provider.Result, string) {
	for i, model := range plan.Models {
		binding, resolveErr := orchestrator.registry.Resolve(model)
		if resolveErr != nil {
			log.Warn(
				"skipping unresolvable model",
				"request_id", requestID,
				"model", model,
				"error", resolveErr,
			)
			continue
		}

		orchestrator.transition(requestID, StateCalling, "model", model)

		var result provider.Result

		callErr := errors.RetryWithBackoff(ctx, orchestrator.retry, func(attempt int) *errors.Error {
			started := time.Now()

			attemptCtx, cancel := context.WithTimeout(ctx, orchestrator.callTimeout)
			defer cancel()

			res, completeErr := binding.Client.Complete(attemptCtx, provider.Params{
				Model:         model,
				Messages:      assembled.Messages,
				MaxTokens:     int64(binding.MaxTokens),
				Temperature:   binding.Temperature,
				StopSequences: binding.StopSequences,
			})

			orchestrator.recordAttempt(ctx, requestID, req, ModelAttempt{
				Model:     model,
				Attempt:   attempt + 1,
				StartedAt: started,
				Outcome:   outcomeOf(completeErr),
				LatencyMS: time.Since(started).Milliseconds(),
				Err:       errText(completeErr),
			})

			if completeErr != nil {
				if completeErr.Transient() && attempt+1 < orchestrator.retry.MaxAttempts {
					orchestrator.transition(requestID, StateRetrying, "model", model, "attempt", attempt+1)
				}
				return completeErr
			}

			result = res
			return nil
		})

		if callErr == nil {
			orchestrator.transition(requestID, StateSuccess, "model", model)
			return result, model
		}

		if i < len(plan.Models)-1 {
			orchestrator.transition(requestID, StateFallingBack, "from", model)
		}
	}

	return provider.Result{}, ""
}

func (orchestrator *Orchestrator) recordAttempt(
	ctx context.Context, requestID string, req convo.CompletionRequest, attempt ModelAttempt,
) {
	log.Debug(
		"model attempt",
		"request_id", requestID,
		"model", attempt.Model,
		"attempt", attempt.Attempt,
		"outcome", attempt.Outcome,
		"latency_ms", attempt.LatencyMS,
		"error", attempt.Err,
	)

	orchestrator.collector.RecordAttempt(
		attempt.Model,
		attempt.Outcome == OutcomeSuccess,
		time.Duration(attempt.LatencyMS)*time.Millisecond,
	)

	detail := fmt.Sprintf("attempt %d %s in %dms", attempt.Attempt, attempt.Outcome, attempt.LatencyMS)
	if attempt.Err != "" {
		detail = fmt.Sprintf("%s: %s", detail, attempt.Err)
	}

	orchestrator.record(ctx, audit.Event{
		RequestID: requestID,
		CallerID:  req.CallerID,
		SessionID: req.SessionID,
		Kind:      audit.KindAttempt,
		Model:     attempt.Model,
		Detail:    detail,
	})
}

func (orchestrator *Orchestrator) persist(
	ctx context.Context, req convo.CompletionRequest, response *convo.CompletionResponse,
) *errors.Error {
	storeCtx, cancel := context.WithTimeout(ctx, orchestrator.persistTimeout)
	defer cancel()

	userTurn := convo.NewTurn(req.SessionID, convo.RoleUser, req.Message)
	assistantTurn := convo.NewTurn(req.SessionID, convo.RoleAssistant, response.Text).
		WithModel(response.ModelUsed)

	if err := orchestrator.manager.Store(
		storeCtx, req.CallerID, req.SessionID, userTurn, assistantTurn,
	); err != nil {
		return errors.ErrMemoryWriteFailed.WithMessagef("failed to persist turns: %v", err)
	}

	return nil
}

func (orchestrator *Orchestrator) transition(requestID string, state State, keyvals ...any) {
	log.Debug("state transition", append([]any{"request_id", requestID, "state", state}, keyvals...)...)
}

func (orchestrator *Orchestrator) record(ctx context.Context, event audit.Event) {
	if orchestrator.auditor == nil {
		return
	}

	orchestrator.auditor.Record(ctx, event)
}

func validate(req convo.CompletionRequest) *errors.Error {
	switch {
	case req.CallerID == "":
		return errors.ErrInvalidRequest.WithMessagef("caller_id is required")
	case req.SessionID == "":
		return errors.ErrInvalidRequest.WithMessagef("session_id is required")
	case strings.TrimSpace(req.Message) == "":
		return errors.ErrInvalidRequest.WithMessagef("message is required")
	}

	return nil
}

/*
fallbackText composes the degraded answer returned when no model could
be reached, in the same language as the default preamble. It leans on
whatever the memory tiers produced so the caller still gets something
anchored in their own history.
*/
func fallbackText(bundle convo.MemoryBundle, message string) string {
	var text strings.Builder

	text.WriteString("Jag kan inte nå någon språkmodell just nu, så det här är ett förenklat lokalt svar.")

	if len(bundle.Related) > 0 {
		text.WriteString("\n\nNärliggande minnen som kan hjälpa:")

		limit := len(bundle.Related)
		if limit > 3 {
			limit = 3
		}

		for i := 0; i < limit; i++ {
			fmt.Fprintf(&text, "\n%d. %s", i+1, bundle.Related[i].Text)
		}
	}

	fmt.Fprintf(&text, "\n\nDin fråga var: %q. Försök gärna igen om en stund.", message)

	return text.String()
}

func outcomeOf(err *errors.Error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case err.Transient():
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

func errText(err *errors.Error) string {
	if err == nil {
		return ""
	}

	return err.Message
}

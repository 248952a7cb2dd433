package orchestrator

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/minne/pkg/audit"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"github.com/theapemachine/minne/pkg/memory"
	"github.com/theapemachine/minne/pkg/prompt"
	"github.com/theapemachine/minne/pkg/provider"
	"github.com/theapemachine/minne/pkg/ratelimit"
)

func fastRetry() *errors.RetryConfig {
	return &errors.RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func newTestMemory() (*memory.Manager, *memory.MemoryShortTerm) {
	shortTerm := memory.NewMemoryShortTerm()
	manager := memory.NewManager(
		shortTerm,
		memory.NewLongTerm(memory.NewMockEmbedder(8), memory.NewMemoryVectorStore()),
	)

	return manager, shortTerm
}

type failingShortTerm struct{}

func (failingShortTerm) Put(ctx context.Context, sessionID string, turn convo.Turn) error {
	return stderrors.New("redis is down")
}

func (failingShortTerm) GetRecent(ctx context.Context, sessionID string, n int) ([]convo.Turn, error) {
	return nil, nil
}

func (failingShortTerm) Touch(ctx context.Context, sessionID string) error { return nil }

func (failingShortTerm) Ping(ctx context.Context) error { return nil }

func TestCompleteSuccess(t *testing.T) {
	Convey("Given a registry whose primary model answers", t, func() {
		primary := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(provider.StubResponse{
				Result: provider.Result{Text: "Stockholm.", PromptTokens: 60, CompletionTokens: 3},
			}),
		)

		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: primary, MaxTokens: 128})

		manager, shortTerm := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When a fresh session asks a question", func() {
			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "What's the capital of Sweden?",
			})

			Convey("The primary model's text comes back", func() {
				So(err, ShouldBeNil)
				So(response.Text, ShouldEqual, "Stockholm.")
				So(response.ModelUsed, ShouldEqual, "gpt-4o")
				So(response.SessionID, ShouldEqual, "sess-1")
				So(response.Degraded, ShouldBeFalse)
				So(response.CompletionTokens, ShouldEqual, 3)
			})

			Convey("The model saw the question as the newest message", func() {
				calls := primary.Calls()
				So(calls, ShouldHaveLength, 1)
				So(calls[0].Model, ShouldEqual, "gpt-4o")

				last := calls[0].Messages[len(calls[0].Messages)-1]
				So(last.Role, ShouldEqual, convo.RoleUser)
				So(last.Content, ShouldEqual, "What's the capital of Sweden?")
			})

			Convey("Short-term memory holds exactly the exchange", func() {
				turns, terr := shortTerm.GetRecent(context.Background(), "sess-1", 10)
				So(terr, ShouldBeNil)
				So(turns, ShouldHaveLength, 2)
				So(turns[0].Role, ShouldEqual, convo.RoleUser)
				So(turns[0].Content, ShouldEqual, "What's the capital of Sweden?")
				So(turns[1].Role, ShouldEqual, convo.RoleAssistant)
				So(turns[1].Content, ShouldEqual, "Stockholm.")
				So(turns[1].ModelUsed, ShouldEqual, "gpt-4o")
			})
		})
	})
}

func TestCompleteFallbackOrdering(t *testing.T) {
	Convey("Given a primary that fails and a fallback that answers", t, func() {
		fallback := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(provider.StubResponse{
				Result: provider.Result{Text: "from the cheap model"},
			}),
		)

		manager, _ := newTestMemory()

		Convey("When the primary fails transiently", func() {
			primary := provider.NewStubClient(
				provider.WithStubName("openai"),
				provider.WithStubScript(
					provider.StubResponse{Err: errors.ErrModelTransient},
					provider.StubResponse{Err: errors.ErrModelTransient},
				),
			)

			registry := provider.NewRegistry()
			registry.Register("gpt-4o", provider.Binding{Client: primary})
			registry.Register("gpt-3.5-turbo", provider.Binding{Client: fallback})

			orchestrator := New(
				WithRegistry(registry),
				WithMemory(manager),
				WithRetryConfig(fastRetry()),
			)

			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("The primary is retried before falling back", func() {
				So(err, ShouldBeNil)
				So(response.ModelUsed, ShouldEqual, "gpt-3.5-turbo")
				So(response.Text, ShouldEqual, "from the cheap model")
				So(response.Degraded, ShouldBeFalse)
				So(primary.Calls(), ShouldHaveLength, 2)
				So(fallback.Calls(), ShouldHaveLength, 1)
			})
		})

		Convey("When the primary fails fatally", func() {
			primary := provider.NewStubClient(
				provider.WithStubName("openai"),
				provider.WithStubScript(provider.StubResponse{Err: errors.ErrModelFatal}),
			)

			registry := provider.NewRegistry()
			registry.Register("gpt-4o", provider.Binding{Client: primary})
			registry.Register("gpt-3.5-turbo", provider.Binding{Client: fallback})

			orchestrator := New(
				WithRegistry(registry),
				WithMemory(manager),
				WithRetryConfig(fastRetry()),
			)

			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-2",
				Message:   "hello there",
			})

			Convey("No retry is wasted on the dead model", func() {
				So(err, ShouldBeNil)
				So(response.ModelUsed, ShouldEqual, "gpt-3.5-turbo")
				So(primary.Calls(), ShouldHaveLength, 1)
			})
		})
	})
}

func TestCompleteExhaustion(t *testing.T) {
	Convey("Given a registry where every model fails", t, func() {
		primary := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(
				provider.StubResponse{Err: errors.ErrModelTransient},
				provider.StubResponse{Err: errors.ErrModelTransient},
			),
		)
		fallback := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(
				provider.StubResponse{Err: errors.ErrModelTransient},
				provider.StubResponse{Err: errors.ErrModelTransient},
			),
		)

		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: primary})
		registry.Register("gpt-3.5-turbo", provider.Binding{Client: fallback})

		manager, shortTerm := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When a request runs out of candidates", func() {
			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("A degraded local answer is returned, not an error", func() {
				So(err, ShouldBeNil)
				So(response.Degraded, ShouldBeTrue)
				So(response.ModelUsed, ShouldEqual, convo.FallbackLocal)
				So(response.Text, ShouldContainSubstring, "lokalt svar")
				So(response.Text, ShouldContainSubstring, "hello there")
			})

			Convey("Both models were attempted to their ceiling", func() {
				So(primary.Calls(), ShouldHaveLength, 2)
				So(fallback.Calls(), ShouldHaveLength, 2)
			})

			Convey("The degraded exchange is still persisted", func() {
				turns, terr := shortTerm.GetRecent(context.Background(), "sess-1", 10)
				So(terr, ShouldBeNil)
				So(turns, ShouldHaveLength, 2)
				So(turns[1].ModelUsed, ShouldEqual, convo.FallbackLocal)
			})

			Convey("Metrics count the degradation", func() {
				snapshot := orchestrator.Metrics().GetMetrics()
				So(snapshot["degraded"], ShouldEqual, int64(1))
				So(snapshot["succeeded"], ShouldEqual, int64(0))
			})
		})
	})
}

func TestCompleteRejected(t *testing.T) {
	Convey("Given a limiter with a single-token bucket", t, func() {
		limiter := ratelimit.NewLimiter(
			ratelimit.NewMemoryCounterStore(),
			ratelimit.WithBucket(ratelimit.Config{Capacity: 1, RefillRate: 0, TTL: time.Minute}),
		)

		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: provider.NewStubClient()})

		manager, _ := newTestMemory()
		orchestrator := New(
			WithLimiter(limiter),
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When the same caller sends two requests", func() {
			req := convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			}

			first, firstErr := orchestrator.Complete(context.Background(), req)
			second, secondErr := orchestrator.Complete(context.Background(), req)

			Convey("The first is served and the second is rejected", func() {
				So(firstErr, ShouldBeNil)
				So(first, ShouldNotBeNil)
				So(second, ShouldBeNil)
				So(secondErr, ShouldNotBeNil)
				So(secondErr.Code, ShouldEqual, errors.CodeRateLimited)
			})

			Convey("Metrics record the rejection", func() {
				snapshot := orchestrator.Metrics().GetMetrics()
				So(snapshot["rejected"], ShouldEqual, int64(1))
				So(snapshot["admitted"], ShouldEqual, int64(1))
			})
		})
	})
}

func TestCompleteContextTooLarge(t *testing.T) {
	Convey("Given an assembler with a budget below the preamble", t, func() {
		registry := provider.NewRegistry()
		stub := provider.NewStubClient()
		registry.Register("gpt-4o", provider.Binding{Client: stub})

		manager, _ := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithAssembler(prompt.NewAssembler(prompt.WithTokenBudget(5))),
			WithRetryConfig(fastRetry()),
		)

		Convey("When any message arrives", func() {
			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("The request fails before any model is called", func() {
				So(response, ShouldBeNil)
				So(err, ShouldNotBeNil)
				So(err.Code, ShouldEqual, errors.CodeContextTooLarge)
				So(stub.Calls(), ShouldBeEmpty)
			})
		})
	})
}

func TestCompleteMemoryWriteFailed(t *testing.T) {
	Convey("Given short-term memory that rejects writes", t, func() {
		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: provider.NewStubClient(
			provider.WithStubScript(provider.StubResponse{Result: provider.Result{Text: "an answer"}}),
		)})

		manager := memory.NewManager(
			failingShortTerm{},
			memory.NewLongTerm(memory.NewMockEmbedder(8), memory.NewMemoryVectorStore()),
		)

		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When a completion succeeds but cannot be persisted", func() {
			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("The caller gets a memory write failure, not the text", func() {
				So(response, ShouldBeNil)
				So(err, ShouldNotBeNil)
				So(err.Code, ShouldEqual, errors.CodeMemoryWriteFailed)
			})

			Convey("Metrics record the failure", func() {
				snapshot := orchestrator.Metrics().GetMetrics()
				So(snapshot["memory_write_failures"], ShouldEqual, int64(1))
			})
		})
	})
}

func TestCompleteClientDisconnect(t *testing.T) {
	Convey("Given a caller whose context is already cancelled", t, func() {
		primary := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(provider.StubResponse{
				Result: provider.Result{Text: "still delivered"},
			}),
		)

		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: primary})

		manager, shortTerm := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When the request runs anyway", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			response, err := orchestrator.Complete(ctx, convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("The model call and persistence still happen", func() {
				So(err, ShouldBeNil)
				So(response.Text, ShouldEqual, "still delivered")
				So(primary.Calls(), ShouldHaveLength, 1)

				turns, terr := shortTerm.GetRecent(context.Background(), "sess-1", 10)
				So(terr, ShouldBeNil)
				So(turns, ShouldHaveLength, 2)
			})
		})
	})
}

func TestCompleteSkipsUnboundModels(t *testing.T) {
	Convey("Given a registry missing the primary model", t, func() {
		fallback := provider.NewStubClient(
			provider.WithStubName("openai"),
			provider.WithStubScript(provider.StubResponse{
				Result: provider.Result{Text: "cheap wins by default"},
			}),
		)

		registry := provider.NewRegistry()
		registry.Register("gpt-3.5-turbo", provider.Binding{Client: fallback})

		manager, _ := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithRetryConfig(fastRetry()),
		)

		Convey("When the plan starts with the unbound model", func() {
			response, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})

			Convey("The bound candidate serves the request", func() {
				So(err, ShouldBeNil)
				So(response.ModelUsed, ShouldEqual, "gpt-3.5-turbo")
				So(response.Degraded, ShouldBeFalse)
			})
		})
	})
}

func TestCompleteInvalidRequest(t *testing.T) {
	Convey("Given an orchestrator with defaults", t, func() {
		orchestrator := New(WithRetryConfig(fastRetry()))

		Convey("Requests missing required fields are rejected", func() {
			cases := []convo.CompletionRequest{
				{SessionID: "sess-1", Message: "hi"},
				{CallerID: "alice", Message: "hi"},
				{CallerID: "alice", SessionID: "sess-1", Message: "   "},
			}

			for _, req := range cases {
				response, err := orchestrator.Complete(context.Background(), req)
				So(response, ShouldBeNil)
				So(err, ShouldNotBeNil)
				So(err.Code, ShouldEqual, errors.CodeInvalidRequest)
			}
		})
	})
}

func TestCompleteAuditTrail(t *testing.T) {
	Convey("Given an orchestrator wired to an audit log", t, func() {
		auditor, auditErr := audit.NewLogger(filepath.Join(t.TempDir(), "audit.db"))
		So(auditErr, ShouldBeNil)

		registry := provider.NewRegistry()
		registry.Register("gpt-4o", provider.Binding{Client: provider.NewStubClient(
			provider.WithStubScript(provider.StubResponse{Result: provider.Result{Text: "ok"}}),
		)})

		manager, _ := newTestMemory()
		orchestrator := New(
			WithRegistry(registry),
			WithMemory(manager),
			WithAuditor(auditor),
			WithRetryConfig(fastRetry()),
		)

		Convey("When a request completes", func() {
			_, err := orchestrator.Complete(context.Background(), convo.CompletionRequest{
				CallerID:  "alice",
				SessionID: "sess-1",
				Message:   "hello there",
			})
			So(err, ShouldBeNil)

			Convey("The trail shows admission, the attempt and the outcome", func() {
				events, tailErr := auditor.Tail(context.Background(), 10)
				So(tailErr, ShouldBeNil)
				So(events, ShouldHaveLength, 3)
				So(events[0].Kind, ShouldEqual, audit.KindSuccess)
				So(events[1].Kind, ShouldEqual, audit.KindAttempt)
				So(events[2].Kind, ShouldEqual, audit.KindAdmitted)
				So(events[1].Model, ShouldEqual, "gpt-4o")
			})
		})
	})
}

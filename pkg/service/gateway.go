package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cohesivestack/valgo"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/google/uuid"
	"github.com/theapemachine/minne/pkg/archive"
	"github.com/theapemachine/minne/pkg/audit"
	"github.com/theapemachine/minne/pkg/auth"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"github.com/theapemachine/minne/pkg/orchestrator"
)

const maxMessageLength = 32000

/*
HealthCheck is one named dependency probe the gateway runs on
GET /health. Ping should come straight from the store it watches.
*/
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

/*
Gateway is the HTTP binding of the completion core. It is safe for
concurrent use because the orchestrator and every store behind it are;
the gateway itself holds no per-request state.
*/
type Gateway struct {
	app          *fiber.App
	orchestrator *orchestrator.Orchestrator
	validator    *auth.Validator
	archiver     *archive.Archiver
	auditor      *audit.Logger
	checks       []HealthCheck
	checkTimeout time.Duration
}

type GatewayOption func(*Gateway)

/*
NewGateway constructs a gateway around the supplied orchestrator.
Without a validator the gateway runs in dev mode: the caller identity
comes from the X-Caller-ID header and defaults to "anonymous".
*/
func NewGateway(core *orchestrator.Orchestrator, options ...GatewayOption) *Gateway {
	gateway := &Gateway{
		app: fiber.New(fiber.Config{
			AppName:      "minne",
			ServerHeader: "Minne-Gateway",
		}),
		orchestrator: core,
		checkTimeout: 2 * time.Second,
	}

	for _, option := range options {
		option(gateway)
	}

	gateway.routes()
	return gateway
}

// WithValidator enables bearer-token authentication on /v1 routes.
func WithValidator(validator *auth.Validator) GatewayOption {
	return func(gateway *Gateway) {
		gateway.validator = validator
	}
}

// WithArchiver enables the session archive endpoints.
func WithArchiver(archiver *archive.Archiver) GatewayOption {
	return func(gateway *Gateway) {
		gateway.archiver = archiver
	}
}

func WithAuditor(auditor *audit.Logger) GatewayOption {
	return func(gateway *Gateway) {
		gateway.auditor = auditor
	}
}

// WithHealthCheck registers a dependency probe for GET /health.
func WithHealthCheck(name string, ping func(ctx context.Context) error) GatewayOption {
	return func(gateway *Gateway) {
		gateway.checks = append(gateway.checks, HealthCheck{Name: name, Ping: ping})
	}
}

func (gateway *Gateway) routes() {
	gateway.app.Use(logger.New(logger.Config{
		// Skip logging for the health endpoint to reduce noise
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/health"
		},
	}))

	gateway.app.Get("/health", gateway.handleHealth)
	gateway.app.Get("/metrics", gateway.handleMetrics)

	v1 := gateway.app.Group("/v1", gateway.authenticate)
	v1.Post("/chat", gateway.handleChat)
	v1.Post("/sessions/:id/archive", gateway.handleArchive)
	v1.Get("/sessions/:id/archive", gateway.handleSnapshots)
}

func (gateway *Gateway) Start(addr string) error {
	return gateway.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (gateway *Gateway) Shutdown() error {
	return gateway.app.Shutdown()
}

/*
ChatRequest is the POST /v1/chat body. The caller identity never rides
in the body; it comes from the auth middleware.
*/
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Intent    string `json:"intent,omitempty"`
}

// errorBody is the JSON envelope every failed request gets.
type errorBody struct {
	Error *errors.Error `json:"error"`
}

func (gateway *Gateway) fail(ctx fiber.Ctx, failure *errors.Error) error {
	return ctx.Status(failure.Status).JSON(errorBody{Error: failure})
}

/*
authenticate resolves the caller identity for /v1 routes. With a
validator configured the Authorization header must carry a valid
bearer token; in dev mode the X-Caller-ID header is trusted as-is.
*/
func (gateway *Gateway) authenticate(ctx fiber.Ctx) error {
	if gateway.validator == nil {
		callerID := ctx.Get("X-Caller-ID")
		if callerID == "" {
			callerID = "anonymous"
		}

		ctx.Locals("claims", auth.Claims{CallerID: callerID, Class: "standard"})
		return ctx.Next()
	}

	token := auth.ExtractBearer(ctx.Get("Authorization"))
	if token == "" {
		return gateway.fail(ctx, errors.ErrUnauthorized)
	}

	claims, failure := gateway.validator.Validate(token)
	if failure != nil {
		gateway.record(ctx.RequestCtx(), audit.Event{
			CallerID: "unknown",
			Kind:     audit.KindAuthFailed,
			Detail:   failure.Message,
		})
		return gateway.fail(ctx, failure)
	}

	ctx.Locals("claims", claims)
	return ctx.Next()
}

func (gateway *Gateway) handleChat(ctx fiber.Ctx) error {
	claims := ctx.Locals("claims").(auth.Claims)

	var request ChatRequest
	if err := ctx.Bind().Body(&request); err != nil {
		return gateway.fail(ctx, errors.ErrInvalidRequest.WithMessagef(
			"invalid request body: %v", err,
		))
	}

	validation := valgo.Is(
		valgo.String(request.Message, "message").Not().Blank().MaxLength(maxMessageLength),
	).Is(
		valgo.String(request.SessionID, "session_id").MaxLength(128),
	)

	if !validation.Valid() {
		return gateway.fail(ctx, errors.ErrInvalidRequest.WithMessagef(
			"%s", validationMessage(validation),
		))
	}

	sessionID := request.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	response, failure := gateway.orchestrator.Complete(ctx.RequestCtx(), convo.CompletionRequest{
		CallerID:    claims.CallerID,
		CallerClass: claims.Class,
		SessionID:   sessionID,
		Message:     request.Message,
		Hints:       convo.Hints{Intent: request.Intent},
	})

	if failure != nil {
		return gateway.fail(ctx, failure)
	}

	return ctx.JSON(response)
}

func (gateway *Gateway) handleArchive(ctx fiber.Ctx) error {
	if gateway.archiver == nil {
		return gateway.fail(ctx, errors.ErrNotFound.WithMessagef("archiving is not configured"))
	}

	claims := ctx.Locals("claims").(auth.Claims)
	sessionID := ctx.Params("id")

	key, failure := gateway.archiver.ArchiveSession(ctx.RequestCtx(), claims.CallerID, sessionID)
	if failure != nil {
		return gateway.fail(ctx, failure)
	}

	gateway.record(ctx.RequestCtx(), audit.Event{
		CallerID:  claims.CallerID,
		SessionID: sessionID,
		Kind:      audit.KindArchived,
		Detail:    key,
	})

	return ctx.JSON(fiber.Map{"key": key})
}

func (gateway *Gateway) handleSnapshots(ctx fiber.Ctx) error {
	if gateway.archiver == nil {
		return gateway.fail(ctx, errors.ErrNotFound.WithMessagef("archiving is not configured"))
	}

	claims := ctx.Locals("claims").(auth.Claims)

	keys, failure := gateway.archiver.List(ctx.RequestCtx(), claims.CallerID, ctx.Params("id"))
	if failure != nil {
		return gateway.fail(ctx, failure)
	}

	return ctx.JSON(fiber.Map{"keys": keys})
}

func (gateway *Gateway) handleMetrics(ctx fiber.Ctx) error {
	return ctx.JSON(gateway.orchestrator.Metrics().GetMetrics())
}

/*
handleHealth pings every registered dependency with a bounded timeout.
Any failing probe degrades the whole report to 503 so load balancers
drain the instance, but each probe's status stays visible.
*/
func (gateway *Gateway) handleHealth(ctx fiber.Ctx) error {
	status := fiber.StatusOK
	report := fiber.Map{"status": "ok"}
	probes := fiber.Map{}

	for _, check := range gateway.checks {
		probeCtx, cancel := context.WithTimeout(ctx.RequestCtx(), gateway.checkTimeout)
		err := check.Ping(probeCtx)
		cancel()

		if err != nil {
			log.Warn("health check failed", "check", check.Name, "error", err)
			status = fiber.StatusServiceUnavailable
			report["status"] = "degraded"
			probes[check.Name] = err.Error()
			continue
		}

		probes[check.Name] = "ok"
	}

	report["checks"] = probes
	return ctx.Status(status).JSON(report)
}

func (gateway *Gateway) record(ctx context.Context, event audit.Event) {
	if gateway.auditor == nil {
		return
	}

	gateway.auditor.Record(ctx, event)
}

// validationMessage flattens valgo's per-field errors into one line.
func validationMessage(validation *valgo.Validation) string {
	parts := make([]string, 0, len(validation.Errors()))

	for name, fieldErr := range validation.Errors() {
		parts = append(parts, fmt.Sprintf("%s %s", name, strings.Join(fieldErr.Messages(), ", ")))
	}

	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

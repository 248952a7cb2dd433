package errors

import (
	"fmt"
)

// Stable machine-readable codes for the orchestration error taxonomy.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeContextTooLarge    = "CONTEXT_TOO_LARGE"
	CodeModelTransient     = "MODEL_TRANSIENT"
	CodeModelFatal         = "MODEL_FATAL"
	CodeAllModelsExhausted = "ALL_MODELS_EXHAUSTED"
	CodeMemoryWriteFailed  = "MEMORY_WRITE_FAILED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

/*
Error is the typed error every layer of the orchestration core speaks.
Status is the HTTP status a transport binding maps the error to; the
core itself is transport-agnostic and only keys off Code.
*/
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transient reports whether the error is worth retrying on the same model.
func (e *Error) Transient() bool {
	return e.Code == CodeModelTransient
}

// Is matches errors by code so the stdlib errors.Is works across copies.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var (
	ErrRateLimited        = &Error{Code: CodeRateLimited, Status: 429, Message: "request rate limit exceeded"}
	ErrContextTooLarge    = &Error{Code: CodeContextTooLarge, Status: 413, Message: "context does not fit the prompt budget"}
	ErrModelTransient     = &Error{Code: CodeModelTransient, Status: 502, Message: "transient model failure"}
	ErrModelFatal         = &Error{Code: CodeModelFatal, Status: 502, Message: "model rejected the request"}
	ErrAllModelsExhausted = &Error{Code: CodeAllModelsExhausted, Status: 503, Message: "all candidate models exhausted"}
	ErrMemoryWriteFailed  = &Error{Code: CodeMemoryWriteFailed, Status: 500, Message: "short-term memory write failed"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Status: 401, Message: "missing or invalid caller token"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Status: 400, Message: "invalid request"}
	ErrNotFound           = &Error{Code: CodeNotFound, Status: 404, Message: "not found"}
	ErrInternal           = &Error{Code: CodeInternal, Status: 500, Message: "internal error"}
)

// WithMessagef creates a *copy* of an Error with a formatted message.
// It does not modify the original error variable.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy of an Error carrying structured detail.
func (e *Error) WithData(data any) *Error {
	newErr := *e
	newErr.Data = data
	return &newErr
}

// Package errors provides the HTTP-boundary error shape used by internal/httpapi.
// Core packages (mqueue, executor, instancecache, orchestrator, executeagent)
// never import this package; they return plain wrapped errors, matching the
// spec's error taxonomy (spec.md §7) which is a classification, not an
// implementation detail of the core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an AppError with the spec.md §7 error taxonomy.
type Kind string

const (
	KindAgentNotFound      Kind = "AgentNotFound"
	KindTemplateNotFound   Kind = "TemplateNotFound"
	KindConfigInvalid      Kind = "ConfigInvalid"
	KindExecutorTransient  Kind = "ExecutorTransientFailure"
	KindExecutorTimeout    Kind = "ExecutorTimeout"
	KindStreamingFailure   Kind = "StreamingFailure"
	KindQueueBackendFailed Kind = "QueueBackendFailure"
	KindAwaitTimeout       Kind = "AwaitTimeout"
	KindValidation         Kind = "Validation"
	KindBadRequest         Kind = "BadRequest"
	KindNotFound           Kind = "NotFound"
	KindInternal           Kind = "Internal"
)

// AppError is the HTTP-shaped error returned by internal/httpapi handlers.
type AppError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	cause      error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

func newAppError(kind Kind, status int, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg, HTTPStatus: status}
}

func ValidationError(field, reason string) *AppError {
	return newAppError(KindValidation, http.StatusBadRequest, fmt.Sprintf("%s: %s", field, reason))
}

func BadRequest(msg string) *AppError {
	return newAppError(KindBadRequest, http.StatusBadRequest, msg)
}

func NotFound(resource, id string) *AppError {
	return newAppError(KindNotFound, http.StatusNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func AgentNotFound(agentID string) *AppError {
	return newAppError(KindAgentNotFound, http.StatusNotFound, fmt.Sprintf("agent %q not found", agentID))
}

// Wrap returns err itself when it is (or wraps) an *AppError; any other
// error becomes a 500 KindInternal AppError carrying msg, with err as its
// cause.
func Wrap(err error, msg string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	ae := newAppError(KindInternal, http.StatusInternalServerError, msg)
	ae.cause = err
	return ae
}

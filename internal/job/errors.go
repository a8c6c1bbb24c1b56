package job

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies an engine error for reporting and retry decisions.
type Kind string

// Error kinds.
const (
	KindInput      Kind = "input"
	KindDependency Kind = "dependency"
	KindAction     Kind = "action"
	KindCache      Kind = "cache"
	KindBatch      Kind = "batch"
	KindInternal   Kind = "internal"
)

// Error is the typed error returned by engine operations.
type Error struct {
	Kind Kind
	Op   string
	URL  string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the client-facing description without the operation prefix.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return e.Err.Error()
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInput, KindBatch:
		return http.StatusBadRequest
	case KindDependency:
		return http.StatusNotImplemented
	case KindAction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Payload converts the error into the JSON shape used in responses and batch slots.
func (e *Error) Payload() *ErrorPayload {
	return &ErrorPayload{
		Error: e.Message(),
		Kind:  e.Kind,
		URL:   e.URL,
		Hint:  e.Hint,
	}
}

// ErrorPayload is the wire form of an Error.
type ErrorPayload struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind"`
	URL   string `json:"url,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// InputError reports a client fault such as a missing URL.
func InputError(op, url, msg string) *Error {
	return &Error{Kind: KindInput, Op: op, URL: url, Err: errors.New(msg)}
}

// DependencyError reports a missing external engine along with a remediation hint.
func DependencyError(op, url, hint string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, URL: url, Hint: hint, Err: err}
}

// ActionError wraps the last cause of a failed render/extract action.
func ActionError(op, url string, err error) *Error {
	return &Error{Kind: KindAction, Op: op, URL: url, Err: err}
}

// CacheError wraps an artifact write failure.
func CacheError(op, url string, err error) *Error {
	return &Error{Kind: KindCache, Op: op, URL: url, Err: err}
}

// BatchError reports a structurally invalid batch request.
func BatchError(msg string) *Error {
	return &Error{Kind: KindBatch, Op: "batch", Err: errors.New(msg)}
}

// AsError classifies an arbitrary error, defaulting to KindInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindInput, KindDependency, KindBatch:
		return false
	default:
		return true
	}
}

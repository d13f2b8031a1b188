// Package apperr carries the error kinds repositories and services return so
// handlers and the conversation pipeline can branch on them without string
// matching.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: the row does not exist or belongs to another agent.
	KindNotFound
	// KindGone: the resource exists but can no longer be acted on, such as
	// an order that is no longer awaiting payment.
	KindGone
	// KindUnavailable: a dependency (payment gateway, live session) is down.
	KindUnavailable
)

// Error is a typed domain error. Message is safe to show to API callers.
type Error struct {
	Kind    Kind
	Message string
	Details interface{}
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Gone creates an error for a resource past the state an action needs.
func Gone(message string) *Error {
	return &Error{Kind: KindGone, Message: message}
}

// Unavailable creates an error for an unreachable dependency.
func Unavailable(message string) *Error {
	return &Error{Kind: KindUnavailable, Message: message}
}

// Is reports whether err wraps an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

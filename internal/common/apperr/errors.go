// internal/common/apperr/errors.go
// Typed domain errors, converted to HTTP status or socket errors at the edge

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindForbidden      Kind = "FORBIDDEN"
	KindConflict       Kind = "CONFLICT"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindNotFound       Kind = "NOT_FOUND"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindTransientInfra Kind = "TRANSIENT_INFRA"
	KindInternal       Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind and Message so package-level sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// Constructors
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(KindValidation, msg)
}

func Forbidden(msg string) error {
	return New(KindForbidden, msg)
}

func Conflict(msg string) error {
	return New(KindConflict, msg)
}

func RateLimited(msg string) error {
	return New(KindRateLimited, msg)
}

func NotFound(msg string) error {
	return New(KindNotFound, msg)
}

func Unauthorized(msg string) error {
	return New(KindUnauthorized, msg)
}

func Transient(msg string, cause error) error {
	return Wrap(KindTransientInfra, msg, cause)
}

// KindOf returns the Kind of the first *Error in err's chain, KindInternal otherwise
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned by the HTTP surface
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTransientInfra:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is safe to show to clients. Infrastructure and untyped errors
// collapse to a generic message; the cause stays in the server log.
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return "Internal server error"
	}
	switch appErr.Kind {
	case KindTransientInfra:
		return "Service temporarily unavailable"
	case KindInternal:
		return "Internal server error"
	default:
		return appErr.Message
	}
}

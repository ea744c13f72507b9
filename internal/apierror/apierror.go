// Package apierror is the error taxonomy of the HTTP surface. Every failure
// that reaches a client is an *Error with a Kind that fixes its status code.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the client
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindPayloadTooLarge
	KindRateLimitExceeded
	KindStoreUnavailable
	KindMethodNotAllowed
	KindTimeout
)

var kindInfo = map[Kind]struct {
	status int
	label  string
}{
	KindInternal:          {http.StatusInternalServerError, "Internal Server Error"},
	KindValidation:        {http.StatusBadRequest, "Bad Request"},
	KindUnauthorized:      {http.StatusUnauthorized, "Unauthorized"},
	KindForbidden:         {http.StatusForbidden, "Forbidden"},
	KindNotFound:          {http.StatusNotFound, "Not Found"},
	KindPayloadTooLarge:   {http.StatusRequestEntityTooLarge, "Payload Too Large"},
	KindRateLimitExceeded: {http.StatusTooManyRequests, "Too Many Requests"},
	KindStoreUnavailable:  {http.StatusServiceUnavailable, "Service Unavailable"},
	KindMethodNotAllowed:  {http.StatusMethodNotAllowed, "Method Not Allowed"},
	KindTimeout:           {http.StatusServiceUnavailable, "Service Unavailable"},
}

// Status returns the HTTP status code of k
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// String returns the label used in the envelope's error field
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.label
	}
	return kindInfo[KindInternal].label
}

// Error is a client-facing error. Message is safe to show; Err is the internal cause.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set on rate-limit errors
	RetryAfter time.Duration
	// Details carries per-field validation failures
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New creates an error of kind k
func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// Wrap creates an error of kind k with an internal cause
func Wrap(k Kind, message string, err error) *Error {
	return &Error{Kind: k, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, message) }

// ValidationFields creates a validation error carrying per-field messages
func ValidationFields(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: fields}
}

func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }

// RateLimited creates a 429 error telling the client when to retry
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    "Too many requests, please try again later.",
		RetryAfter: retryAfter,
	}
}

// As extracts the *Error from err. Anything else becomes an internal error with a generic message.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(KindInternal, "An unexpected error occurred", err)
}

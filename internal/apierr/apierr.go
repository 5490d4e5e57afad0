// Package apierr gives every layer of the proxy a single error vocabulary so
// the HTTP edge can map failures to status codes in one place instead of
// scattering http.Error calls through handlers and middleware.
package apierr

import "fmt"

// Kind classifies a failure into one of the categories the HTTP edge maps
// to a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindUnauthorized
	KindThrottled
	KindBadRequest
	KindUpstream
	KindUnavailable
)

// Error wraps an underlying cause with a Kind and a caller-safe message.
// The caller-safe Message is what may ever reach an HTTP response body;
// the wrapped error is for logs only.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, only meaningful for KindThrottled
	Status     int // explicit HTTP status; 0 means "derive from Kind"
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps Kind to its default status code, unless Status was set
// explicitly.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindUnauthorized:
		return 401
	case KindThrottled:
		return 429
	case KindBadRequest:
		return 400
	case KindUpstream:
		return 502
	case KindUnavailable:
		return 503
	case KindConfiguration:
		return 500
	default:
		return 502
	}
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Configuration(message string, cause error) *Error {
	return New(KindConfiguration, message, cause)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func Throttled(message string, retryAfter int) *Error {
	return &Error{Kind: KindThrottled, Message: message, RetryAfter: retryAfter}
}

func BadRequest(message string) *Error {
	return New(KindBadRequest, message, nil)
}

// BadRequestWithStatus covers the BadRequestException-class failures that
// carry their own explicit status (e.g. 413, 415) rather than a bare 400.
func BadRequestWithStatus(status int, message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Status: status}
}

func Upstream(message string, cause error) *Error {
	return New(KindUpstream, message, cause)
}

func Unavailable(message string, cause error) *Error {
	return New(KindUnavailable, message, cause)
}

// As extracts an *Error from err, returning (nil, false) if err isn't one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

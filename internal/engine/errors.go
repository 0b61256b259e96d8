package engine

import (
	"fmt"
)

// ErrorKind is the closed taxonomy an Executor reports failures through. The
// engine never inspects page content, only these typed outcomes.
type ErrorKind string

// Executor error kinds.
const (
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindHTTPStatus       ErrorKind = "http_status"
	KindParseFailure     ErrorKind = "parse_failure"
	KindBlocked          ErrorKind = "blocked"
)

// AttemptError wraps a failed attempt with its kind and, for HTTP failures,
// the status code.
type AttemptError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *AttemptError) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("attempt failed: http status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("attempt failed: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("attempt failed: %s", e.Kind)
	}
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// NewAttemptError builds an AttemptError of the given kind.
func NewAttemptError(kind ErrorKind, err error) *AttemptError {
	return &AttemptError{Kind: kind, Err: err}
}

// NewHTTPStatusError builds an AttemptError for a non-success HTTP response.
func NewHTTPStatusError(code int, err error) *AttemptError {
	return &AttemptError{Kind: KindHTTPStatus, StatusCode: code, Err: err}
}

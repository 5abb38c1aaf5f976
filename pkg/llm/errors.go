package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by a Client.
type ErrorKind string

const (
	ErrorTimeout           ErrorKind = "timeout"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorUnavailable       ErrorKind = "service_unavailable"
	ErrorMalformedResponse ErrorKind = "malformed_response"
	ErrorToolExecution     ErrorKind = "tool_execution"
)

// Error is a classified client failure. Callers use Kind to decide whether
// the operation is worth retrying.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify returns the ErrorKind of err, or "" if it carries none.
// Context deadline expiry counts as a timeout.
func Classify(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ""
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Validation-class failures (malformed responses, bad tool arguments) are
// never retryable with the same prompt.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorTimeout, ErrorRateLimited, ErrorUnavailable:
		return true
	}
	return false
}

package remote

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a remote failure. Transient kinds are retryable; the rest
// are terminal and propagate immediately.
type Kind int

const (
	// KindNetwork is a transport-level failure (connection refused, reset).
	KindNetwork Kind = iota
	// KindTimeout is a bounded wait that elapsed.
	KindTimeout
	// KindServer is a 5xx-equivalent remote fault.
	KindServer
	// KindValidation is a rejected payload; field detail is preserved.
	KindValidation
	// KindPermission is an authorization denial.
	KindPermission
	// KindConflict is a uniqueness-constraint violation, surfaced as a
	// user-correctable conflict.
	KindConflict
	// KindNotFound means the target record does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind may be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// Error is a classified remote failure.
type Error struct {
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Fields carries field-level validation detail for KindValidation.
	Fields map[string]string
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on bare kinds via KindError sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Message == "" || other.Message == e.Message)
	}
	return false
}

// NewError builds a classified error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError classifies an underlying cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ValidationError builds a terminal validation failure with field detail.
func ValidationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// KindOf extracts the classification from an error chain. Context deadline
// expiry counts as a timeout; anything unclassified is treated as a network
// fault, the conservative transient default for transport errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// IsRetryable reports whether the error chain contains a transient failure.
// Context cancellation is never retryable: the caller gave up.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Retryable()
}

// ExhaustedError tags the final error of a retry run with the number of
// attempts that were made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("remote: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

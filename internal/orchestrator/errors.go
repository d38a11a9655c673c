package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures.
type Kind int

const (
	// PolicyDenied means a name or address is outside the allow-lists.
	PolicyDenied Kind = iota + 1

	// ValidationFailed means the request itself is malformed.
	ValidationFailed

	// BackendFailure means the backend, or session construction, failed.
	BackendFailure
)

func (k Kind) String() string {
	switch k {
	case PolicyDenied:
		return "policy_denied"
	case ValidationFailed:
		return "validation_failed"
	case BackendFailure:
		return "backend_failure"
	default:
		return "unknown"
	}
}

// Sentinel errors wrapped by policy denials.
var (
	ErrDomainNotAllowed = errors.New("is not in an allowed domain")
	ErrSubnetNotAllowed = errors.New("is not in an allowed subnet")
)

var errNoResolver = errors.New("search is not available")

// Error is returned by every Orchestrator operation that fails. Value holds
// the offending input for policy denials and validation failures.
type Error struct {
	Kind  Kind
	Value string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func denied(value string, reason error) *Error {
	return &Error{Kind: PolicyDenied, Value: value, Err: fmt.Errorf("%s %w", value, reason)}
}

func invalid(value, format string, args ...any) *Error {
	return &Error{Kind: ValidationFailed, Value: value, Err: fmt.Errorf(format, args...)}
}

func failed(err error) *Error {
	return &Error{Kind: BackendFailure, Err: err}
}

// IsPolicyDenied reports whether err is an allow-list rejection.
func IsPolicyDenied(err error) bool {
	return isKind(err, PolicyDenied)
}

// IsValidation reports whether err is a malformed-request failure.
func IsValidation(err error) bool {
	return isKind(err, ValidationFailed)
}

// IsBackend reports whether err came from the backend.
func IsBackend(err error) bool {
	return isKind(err, BackendFailure)
}

func isKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

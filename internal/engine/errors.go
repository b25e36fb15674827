package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAction is returned for action types missing from the registry
	ErrUnknownAction = errors.New("unknown action")

	// ErrValidation marks parameter validation failures
	ErrValidation = errors.New("validation error")

	// ErrApprovalRequired is the outcome of a gated action. It is not a failure.
	ErrApprovalRequired = errors.New("approval required")

	// ErrExecutorFailure wraps errors raised by an executor backend
	ErrExecutorFailure = errors.New("executor failure")
)

// ValidationError carries the individual problems found in action params
type ValidationError struct {
	Action string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid params for %s: %s", e.Action, strings.Join(e.Errors, "; "))
}

// Is lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type noRetryError struct {
	err error
}

func (e *noRetryError) Error() string { return e.err.Error() }
func (e *noRetryError) Unwrap() error { return e.err }

// NoRetry marks err as terminal: retrying the same input cannot succeed
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &noRetryError{err: err}
}

// IsNoRetry reports whether err, or anything it wraps, was marked with NoRetry
func IsNoRetry(err error) bool {
	var nr *noRetryError
	return errors.As(err, &nr)
}

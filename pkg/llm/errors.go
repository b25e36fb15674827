package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProvider is returned when an unsupported provider is specified
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidAPIKey is returned when the API key is missing or invalid
	ErrInvalidAPIKey = errors.New("invalid or missing API key")

	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrModelNotFound      = errors.New("model not found")
	ErrTimeout            = errors.New("request timeout")
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMalformedOutput is returned when the model answer cannot be decoded
	ErrMalformedOutput = errors.New("malformed model output")

	ErrUnknown = errors.New("unknown error")
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInvalidRequest     ErrorType = "invalid_request"
	ErrorTypeAuthentication     ErrorType = "authentication"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeModelNotFound      ErrorType = "model_not_found"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
	ErrorTypeMalformedOutput    ErrorType = "malformed_output"
	ErrorTypeUnknown            ErrorType = "unknown"
)

var sentinels = map[ErrorType]error{
	ErrorTypeInvalidRequest:     ErrInvalidRequest,
	ErrorTypeAuthentication:     ErrInvalidAPIKey,
	ErrorTypeRateLimit:          ErrRateLimitExceeded,
	ErrorTypeModelNotFound:      ErrModelNotFound,
	ErrorTypeTimeout:            ErrTimeout,
	ErrorTypeServiceUnavailable: ErrServiceUnavailable,
	ErrorTypeMalformedOutput:    ErrMalformedOutput,
}

// Error represents an LLM API error
type Error struct {
	Type          ErrorType
	Message       string
	Provider      Provider
	OriginalError error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.OriginalError != nil {
		return fmt.Sprintf("%s error from %s: %s (original: %v)",
			e.Type, e.Provider, e.Message, e.OriginalError)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Type, e.Provider, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.OriginalError
}

// Is matches the sentinel that corresponds to the error type
func (e *Error) Is(target error) bool {
	if sentinel, ok := sentinels[e.Type]; ok {
		return target == sentinel
	}
	return target == ErrUnknown
}

// NewError creates a new LLM error
func NewError(provider Provider, errType ErrorType, message string, originalErr error) *Error {
	return &Error{
		Type:          errType,
		Message:       message,
		Provider:      provider,
		OriginalError: originalErr,
	}
}

// IsRetryable returns true if the error is transient and the call may succeed later
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServiceUnavailable:
			return true
		}
	}
	return false
}

package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrNoExtensionManager indicates the loop was built without an extension manager
	ErrNoExtensionManager = errors.New("no extension manager configured")

	// ErrUnknownRequest indicates a decision or result arrived for an id nobody is waiting on
	ErrUnknownRequest = errors.New("no pending request with this id")

	// ErrDuplicateRequest indicates a second waiter was registered for the same id
	ErrDuplicateRequest = errors.New("request id already pending")

	// ErrMaxTurns indicates the loop exceeded its provider round-trip limit
	ErrMaxTurns = errors.New("max turns exceeded")

	// ErrToolPanic indicates a tool panicked during dispatch
	ErrToolPanic = errors.New("tool panicked")

	// ErrTurnInProgress indicates Reply was called while another turn is running
	ErrTurnInProgress = errors.New("a reply turn is already in progress")
)

// ProviderErrorKind categorizes provider failures. Only ContextLengthExceeded
// is recovered locally; every other kind ends the turn.
type ProviderErrorKind string

const (
	// ProviderErrorAuthentication indicates rejected credentials (HTTP 401, 403)
	ProviderErrorAuthentication ProviderErrorKind = "authentication"

	// ProviderErrorContextLength indicates the request exceeded the model's window
	ProviderErrorContextLength ProviderErrorKind = "context_length_exceeded"

	// ProviderErrorRateLimit indicates throttling (HTTP 429)
	ProviderErrorRateLimit ProviderErrorKind = "rate_limit_exceeded"

	// ProviderErrorServer indicates a provider-side failure (HTTP 5xx)
	ProviderErrorServer ProviderErrorKind = "server_error"

	// ProviderErrorRequestFailed indicates any other failed request
	ProviderErrorRequestFailed ProviderErrorKind = "request_failed"
)

// IsTransient returns true if retrying the same request later may succeed.
func (k ProviderErrorKind) IsTransient() bool {
	return k == ProviderErrorRateLimit || k == ProviderErrorServer
}

// ProviderError represents a structured error from an LLM provider.
type ProviderError struct {
	// Kind categorizes the error for loop control
	Kind ProviderErrorKind

	// Provider is the name of the provider (e.g., "anthropic", "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// NewProviderError creates a ProviderError of the given kind.
func NewProviderError(kind ProviderErrorKind, message string) *ProviderError {
	return &ProviderError{Kind: kind, Message: message}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WithProvider sets the provider and model names.
func (e *ProviderError) WithProvider(provider, model string) *ProviderError {
	e.Provider = provider
	e.Model = model
	return e
}

// WithStatus records the HTTP status.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	return e
}

// WithCause records the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Cause = err
	return e
}

// GetProviderError extracts a ProviderError from an error chain using errors.As.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsContextLengthExceeded reports whether err is a provider context overflow.
func IsContextLengthExceeded(err error) bool {
	if pe, ok := GetProviderError(err); ok {
		return pe.Kind == ProviderErrorContextLength
	}
	return false
}

// LoopError represents an error that occurred during reply loop execution
// with context about which phase and iteration the error occurred in.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Iteration is the loop iteration where the error occurred
	Iteration int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase represents a distinct state of the reply loop.
type LoopPhase string

const (
	// PhaseAwaitingProvider waits on the provider completion
	PhaseAwaitingProvider LoopPhase = "awaiting_provider"

	// PhaseCategorizing splits the response's tool requests into classes
	PhaseCategorizing LoopPhase = "categorizing"

	// PhasePermissionChecking runs the permission judge on standard requests
	PhasePermissionChecking LoopPhase = "permission_checking"

	// PhaseAwaitingConfirmation waits for the caller's decision on a request
	PhaseAwaitingConfirmation LoopPhase = "awaiting_confirmation"

	// PhaseDispatching runs approved tool calls
	PhaseDispatching LoopPhase = "dispatching"

	// PhaseAppendingResponse appends the response pair to history
	PhaseAppendingResponse LoopPhase = "appending_response"

	// PhaseTruncateAndRetry shrinks history after a context overflow
	PhaseTruncateAndRetry LoopPhase = "truncate_and_retry"

	// PhaseTerminal is the exit state
	PhaseTerminal LoopPhase = "terminal"
)

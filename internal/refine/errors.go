package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// Components named in fatal outcomes
const (
	ComponentAllocator   = "allocator"
	ComponentServer      = "server"
	ComponentCoordinator = "coordinator"
)

// StateError is an unrecoverable error raised in a coordinator state.
// It names the component that failed and when.
type StateError struct {
	State     models.RunState // State the coordinator was in
	Component string          // Failing component
	Message   string          // Human-readable reason
	Err       error           // Underlying error (optional)
	Timestamp time.Time
}

// NewStateError creates a new StateError with the current timestamp.
func NewStateError(state models.RunState, component, msg string, err error) *StateError {
	return &StateError{
		State:     state,
		Component: component,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for StateError.
func (e *StateError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s): %s", e.Component, e.State, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *StateError) Unwrap() error {
	return e.Err
}

// Reason is the outcome reason: the message plus the underlying error.
func (e *StateError) Reason() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// TimeoutError reports a capability call that ran past its deadline.
type TimeoutError struct {
	Operation string        // "generation" or "verification"
	Timeout   time.Duration // Limit that elapsed
	PassIndex int
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pass %d: %s timeout after %v", e.PassIndex, e.Operation, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsStateError checks if the error is or wraps a StateError.
func IsStateError(err error) bool {
	if err == nil {
		return false
	}
	var se *StateError
	return errors.As(err, &se)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced synchronously to the command layer.
var (
	// ErrCapacityExceeded means the total-session ceiling was hit.
	// Session creation has no queue to fall back to.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrQueueFull means a session's message queue is at its bound.
	ErrQueueFull = errors.New("message queue is full")

	// ErrSessionNotFound means the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRunning means the operation requires an idle session.
	ErrSessionRunning = errors.New("session is running")
)

// ValidationError is bad input from the command layer. Nothing is
// mutated when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

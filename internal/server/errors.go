package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

var (
	// ErrProcessExited is returned when a server exits before it became ready
	ErrProcessExited = errors.New("process exited before becoming ready")
	// ErrReadinessTimeout is returned when readiness was not observed in time
	ErrReadinessTimeout = errors.New("readiness timeout")
)

// ReadinessError describes a server that never became ready. It unwraps to
// ErrProcessExited or ErrReadinessTimeout.
type ReadinessError struct {
	Kind      models.ServerKind
	URL       string
	Waited    time.Duration
	FirstLine string // first line of the child's stderr, if any
	Err       error
}

// Error implements the error interface
func (e *ReadinessError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s server at %s: %v after %s", e.Kind, e.URL, e.Err, e.Waited.Round(time.Millisecond))
	if e.FirstLine != "" {
		fmt.Fprintf(&sb, ": %s", e.FirstLine)
	}
	return sb.String()
}

// Unwrap returns the sentinel cause
func (e *ReadinessError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a server error that must end the run
func IsFatal(err error) bool {
	return errors.Is(err, ErrProcessExited) || errors.Is(err, ErrReadinessTimeout)
}

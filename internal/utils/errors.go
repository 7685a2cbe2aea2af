package utils

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the ingestion and configuration surfaces.
// Failures inside the diagnosis path stay inside DiagnosisResults and never
// become errors here.
var (
	// ErrMalformedInput marks a measurement missing variables or carrying
	// non-numeric values. The gateway rejects it with no side effect.
	ErrMalformedInput = errors.New("malformed input")
	// ErrDuplicateSequence marks replayed sequence numbers. Ignored for
	// idempotence, not surfaced upward as a failure.
	ErrDuplicateSequence = errors.New("duplicate sequence")
	// ErrConfigInvalid marks a reconfiguration value out of range; the
	// previously active configuration remains in effect.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

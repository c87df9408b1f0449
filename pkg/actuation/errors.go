package actuation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the actuation error kinds.
var (
	// ErrInvalidInput is returned for non-numeric or missing control values.
	// Out-of-range numbers are clamped, not rejected.
	ErrInvalidInput = errors.New("actuation: invalid input")

	// ErrTankEmpty is returned when a spray needs more water than is left.
	// Nothing is consumed.
	ErrTankEmpty = errors.New("actuation: tank empty")

	// ErrTransientIO marks frame acquisition, actuator or persistence failures
	// that are logged and retried on the next cycle.
	ErrTransientIO = errors.New("actuation: transient I/O failure")

	// ErrFatalInit marks an actuator or camera that cannot be opened at startup.
	ErrFatalInit = errors.New("actuation: fatal init failure")
)

// InputError describes a rejected control value.
type InputError struct {
	Field   string
	Value   float64
	Missing bool
}

// MissingField reports a required control value that was not supplied.
func MissingField(field string) error {
	return &InputError{Field: field, Missing: true}
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Missing {
		return fmt.Sprintf("actuation: missing %s", e.Field)
	}
	return fmt.Sprintf("actuation: invalid %s: %v", e.Field, e.Value)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

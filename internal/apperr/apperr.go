// Package apperr defines the error taxonomy shared by all modules.
// Services wrap a kind sentinel with context; the HTTP layer maps the
// kind to a status code via errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range input, rejected before any mutation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing ride, reservation, vehicle or driver.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state-machine precondition violation, including the accept race.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks an actor not authorized for the transition.
	ErrForbidden = errors.New("forbidden")
	// ErrComputation marks degenerate geometry or arithmetic the engine refuses to guess at.
	ErrComputation = errors.New("computation error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func Computationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrComputation, fmt.Sprintf(format, args...))
}

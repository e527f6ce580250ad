package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the scheduler and the treatment
// recorder matches exactly one of these with errors.Is, or is an
// infrastructure failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrSlotConflict      = errors.New("slot already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrClinicianNotFound   = fmt.Errorf("clinician %w", ErrNotFound)
	ErrSlotBusy            = fmt.Errorf("%w: slot is currently being booked, please retry", ErrSlotConflict)
)

// ValidationError reports a malformed or out-of-policy field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

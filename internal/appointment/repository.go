package appointment

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the scheduler.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks; ErrAppointmentNotFound when the slot is free.
	FindBookedInSlot(ctx context.Context, slot Slot) (*Appointment, error)

	// Insert stores a booked appointment and returns ErrSlotConflict when
	// another booked appointment already holds the slot.
	Insert(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateStatus moves id from one status to another as a compare-and-swap.
	// It returns ErrAppointmentNotFound when no row is currently in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error)

	// Read projections, ordered by date, time, creation.
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, f ListFilter) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]Appointment, error)
	DistinctPatients(ctx context.Context, clinicianID uuid.UUID) ([]uuid.UUID, error)
	Stats(ctx context.Context, today civil.Date) (Stats, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

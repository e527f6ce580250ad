package treatment

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores treatment records. Implementations join the transaction
// carried by ctx, if any.
type Repository interface {
	// Insert returns ErrAlreadyRecorded when the appointment already has a record.
	Insert(ctx context.Context, r *Record) (*Record, error)

	// ListByPatient is ordered by creation time, oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error)

	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)
}

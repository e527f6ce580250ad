package treatment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Record is attached one-to-one to a completed appointment. Patient and
// clinician are copied from the appointment when the record is created.
type Record struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ClinicianID   uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         *string
	CreatedAt     time.Time
}

type RecordRequest struct {
	AppointmentID uuid.UUID
	ClinicianID   uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         *string
}

var (
	ErrTreatmentNotFound = fmt.Errorf("treatment record %w", appointment.ErrNotFound)
	ErrAlreadyRecorded   = fmt.Errorf("%w: appointment already has a treatment record", appointment.ErrInvalidTransition)
)

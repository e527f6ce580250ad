package treatment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const DefaultNotesMaxLength = 500

var tracer = otel.Tracer("clinic.internal.treatment")

// Scheduler is the slice of the appointment scheduler the recorder relies on.
// The recorder never writes appointment state itself.
type Scheduler interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CompleteTransition(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Recorder struct {
	repo     Repository
	sched    Scheduler
	txm      db.TxManager
	notesMax int
	metrics  *metrics.SchedulingMetrics
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Recorder)

func WithNotesMaxLength(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.notesMax = n
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.log = logging.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(repo Repository, sched Scheduler, txm db.TxManager, opts ...Option) *Recorder {
	r := &Recorder{
		repo:     repo,
		sched:    sched,
		txm:      txm,
		notesMax: DefaultNotesMaxLength,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) validate(req *RecordRequest) error {
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	req.Prescription = strings.TrimSpace(req.Prescription)
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		if notes == "" {
			req.Notes = nil
		} else {
			req.Notes = &notes
		}
	}

	switch {
	case req.AppointmentID == uuid.Nil:
		return &appointment.ValidationError{Field: "appointment_id", Reason: "required"}
	case req.Diagnosis == "":
		return &appointment.ValidationError{Field: "diagnosis", Reason: "required"}
	case req.Prescription == "":
		return &appointment.ValidationError{Field: "prescription", Reason: "required"}
	case req.Notes != nil && utf8.RuneCountInString(*req.Notes) > r.notesMax:
		return &appointment.ValidationError{Field: "notes", Reason: fmt.Sprintf("longer than %d characters", r.notesMax)}
	}
	return nil
}

// Record completes a booked appointment and attaches its treatment record.
// Both happen in one transaction: either the appointment is completed with
// exactly one record, or neither change is visible.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (_ *Record, err error) {
	ctx, span := tracer.Start(ctx, "treatment.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment_id", req.AppointmentID.String()),
		attribute.String("clinician_id", req.ClinicianID.String()),
	)
	defer func() {
		r.metrics.ObserveTreatment(appointment.Outcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, appointment.Outcome(err))
		}
	}()

	if err := r.validate(&req); err != nil {
		return nil, err
	}

	appt, err := r.sched.Get(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.ClinicianID != req.ClinicianID {
		return nil, fmt.Errorf("%w: appointment belongs to another clinician", appointment.ErrForbidden)
	}

	var created *Record
	err = r.txm.InTx(ctx, func(txCtx context.Context) error {
		completed, err := r.sched.CompleteTransition(txCtx, req.AppointmentID)
		if err != nil {
			return err
		}

		rec, err := r.repo.Insert(txCtx, &Record{
			ID:            uuid.New(),
			AppointmentID: completed.ID,
			PatientID:     completed.PatientID,
			ClinicianID:   completed.ClinicianID,
			Diagnosis:     req.Diagnosis,
			Prescription:  req.Prescription,
			Notes:         req.Notes,
			CreatedAt:     r.now().UTC(),
		})
		if err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("treatment recorded",
		zap.String("appointment_id", created.AppointmentID.String()),
		zap.String("record_id", created.ID.String()),
		zap.String("clinician_id", created.ClinicianID.String()),
	)
	return created, nil
}

// HistoryForPatient lists every treatment record for the patient, oldest first.
func (r *Recorder) HistoryForPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	list, err := r.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("treatment history: %w", err)
	}
	return list, nil
}

func (r *Recorder) ForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	return r.repo.GetByAppointment(ctx, appointmentID)
}

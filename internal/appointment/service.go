package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

const DefaultUpcomingDays = 7

var tracer = otel.Tracer("clinic.internal.appointment")

// Scheduler owns the appointment state machine.
type Scheduler struct {
	repo    Repository
	dir     directory.Directory
	txm     db.TxManager
	locker  redisclient.Locker
	metrics *metrics.SchedulingMetrics
	log     *zap.Logger
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Scheduler)

// WithLocker replaces the default in-process slot locker.
func WithLocker(l redisclient.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = logging.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the clinic location used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewScheduler(repo Repository, dir directory.Directory, txm db.TxManager, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:   repo,
		dir:    dir,
		txm:    txm,
		locker: redisclient.NewLocalSlotLocker(),
		log:    zap.NewNop(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current calendar date at the clinic.
func (s *Scheduler) Today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

func (s *Scheduler) validateBooking(req BookRequest) error {
	switch {
	case req.PatientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Reason: "required"}
	case req.ClinicianID == uuid.Nil:
		return &ValidationError{Field: "clinician_id", Reason: "required"}
	case !req.Date.IsValid():
		return &ValidationError{Field: "date", Reason: "not a calendar date"}
	case req.Date.Before(s.Today()):
		return &ValidationError{Field: "date", Reason: "must not be in the past"}
	case !req.Time.IsValid():
		return &ValidationError{Field: "time", Reason: "not a wall clock time"}
	case strings.TrimSpace(req.Reason) == "":
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	return nil
}

// Book reserves a slot for a patient.
// The conflict check and the insert run under a per slot lock and inside one
// transaction; the booked slot index in the store is the final arbiter.
func (s *Scheduler) Book(ctx context.Context, req BookRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinician_id", req.ClinicianID.String()),
		attribute.String("patient_id", req.PatientID.String()),
		attribute.String("slot_date", req.Date.String()),
		attribute.String("slot_time", req.Time.String()),
	)
	defer func() {
		s.metrics.ObserveBooking(Outcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Outcome(err))
		}
	}()

	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateBooking(req); err != nil {
		return nil, err
	}

	if err := s.ensureParticipants(ctx, req.PatientID, req.ClinicianID); err != nil {
		return nil, err
	}

	slot := Slot{ClinicianID: req.ClinicianID, Date: req.Date, Time: req.Time}
	var created *Appointment

	waitStart := time.Now()
	err = s.locker.WithSlotLock(ctx, slot.Key(), func(lockCtx context.Context) error {
		s.metrics.ObserveLockWait(time.Since(waitStart).Seconds())

		return s.txm.InTx(lockCtx, func(txCtx context.Context) error {
			// Re-check inside the critical section.
			existing, err := s.repo.FindBookedInSlot(txCtx, slot)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check booked slot: %w", err)
			}
			if existing != nil {
				return ErrSlotConflict
			}

			now := s.now().UTC()
			appt, err := s.repo.Insert(txCtx, &Appointment{
				ID:          uuid.New(),
				PatientID:   req.PatientID,
				ClinicianID: req.ClinicianID,
				Date:        req.Date,
				Time:        req.Time,
				Reason:      req.Reason,
				Status:      StatusBooked,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}

			if err := s.logEvent(txCtx, appt.ID, EventAppointmentBooked, map[string]any{
				"patient_id":   appt.PatientID.String(),
				"clinician_id": appt.ClinicianID.String(),
				"date":         appt.Date.String(),
				"time":         appt.Time.String(),
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("clinician_id", created.ClinicianID.String()),
		zap.String("slot", slot.Key()),
	)
	return created, nil
}

func (s *Scheduler) ensureParticipants(ctx context.Context, patientID, clinicianID uuid.UUID) error {
	ok, err := s.dir.PatientExists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if !ok {
		return ErrPatientNotFound
	}

	ok, err = s.dir.ClinicianExists(ctx, clinicianID)
	if err != nil {
		return fmt.Errorf("load clinician: %w", err)
	}
	if !ok {
		return ErrClinicianNotFound
	}
	return nil
}

// Cancel moves a booked appointment to cancelled, freeing its slot.
// Only the owning patient or an admin may cancel.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID, caller identity.Caller) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Outcome(err))
		}
	}()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !caller.IsAdmin() && !(caller.Role == identity.RolePatient && caller.ID == appt.PatientID) {
		return nil, fmt.Errorf("%w: only the owning patient or an admin may cancel", ErrForbidden)
	}

	if appt.Status != StatusBooked {
		return nil, invalidTransition(appt.Status, StatusCancelled)
	}

	updated, err := s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled, map[string]any{
		"caller_id":   caller.ID.String(),
		"caller_role": string(caller.Role),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", id.String()),
		zap.String("caller_id", caller.ID.String()),
	)
	return updated, nil
}

// CompleteTransition flips a booked appointment to completed. It is the
// treatment recorder's hook and joins the transaction carried by ctx.
func (s *Scheduler) CompleteTransition(ctx context.Context, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.complete")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Outcome(err))
		}
	}()

	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted, map[string]any{})
}

func (s *Scheduler) transition(ctx context.Context, id uuid.UUID, to Status, eventType string, payload map[string]any) (*Appointment, error) {
	var updated *Appointment

	err := s.txm.InTx(ctx, func(txCtx context.Context) error {
		appt, err := s.repo.UpdateStatus(txCtx, id, StatusBooked, to, s.now().UTC())
		if errors.Is(err, ErrAppointmentNotFound) {
			current, getErr := s.repo.GetByID(txCtx, id)
			if getErr != nil {
				return getErr
			}
			return invalidTransition(current.Status, to)
		}
		if err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}

		if err := s.logEvent(txCtx, appt.ID, eventType, payload); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(StatusBooked), string(to))
	return updated, nil
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: appointment is %s, cannot become %s", ErrInvalidTransition, from, to)
}

func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Scheduler) ListByClinician(ctx context.Context, clinicianID uuid.UUID, f ListFilter) ([]Appointment, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByClinician(ctx, clinicianID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by clinician: %w", err)
	}
	return list, nil
}

func (s *Scheduler) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]Appointment, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByPatient(ctx, patientID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

// Upcoming lists the clinician's booked appointments from today through
// today+days. Zero days means DefaultUpcomingDays.
func (s *Scheduler) Upcoming(ctx context.Context, clinicianID uuid.UUID, days int) ([]Appointment, error) {
	if days < 0 {
		return nil, &ValidationError{Field: "days", Reason: "must not be negative"}
	}
	if days == 0 {
		days = DefaultUpcomingDays
	}

	from := s.Today()
	to := from.AddDays(days)
	return s.ListByClinician(ctx, clinicianID, ListFilter{
		From:     &from,
		To:       &to,
		Statuses: []Status{StatusBooked},
	})
}

func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	st, err := s.repo.Stats(ctx, s.Today())
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// PatientsForClinician returns the distinct patients that have ever had an
// appointment with the clinician.
func (s *Scheduler) PatientsForClinician(ctx context.Context, clinicianID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.repo.DistinctPatients(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s event: %w", eventType, err)
	}
	return nil
}

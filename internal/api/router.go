package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type Scheduler interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, caller identity.Caller) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, f appointment.ListFilter) ([]appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, f appointment.ListFilter) ([]appointment.Appointment, error)
	Upcoming(ctx context.Context, clinicianID uuid.UUID, days int) ([]appointment.Appointment, error)
	Stats(ctx context.Context) (appointment.Stats, error)
	PatientsForClinician(ctx context.Context, clinicianID uuid.UUID) ([]uuid.UUID, error)
}

type Recorder interface {
	Record(ctx context.Context, req treatment.RecordRequest) (*treatment.Record, error)
	HistoryForPatient(ctx context.Context, patientID uuid.UUID) ([]treatment.Record, error)
	ForAppointment(ctx context.Context, appointmentID uuid.UUID) (*treatment.Record, error)
}

type RouterConfig struct {
	Scheduler    Scheduler
	Recorder     Recorder
	Auth         Authenticator
	Health       *HealthHandler
	Metrics      http.Handler // nil disables /metrics
	Logger       *zap.Logger
	UpcomingDays int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)

	h := &handlers{
		sched:        cfg.Scheduler,
		rec:          cfg.Recorder,
		log:          logger,
		upcomingDays: cfg.UpcomingDays,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Route("/appointments", func(r chi.Router) {
			r.With(RequireRole(identity.RolePatient, identity.RoleAdmin)).Post("/", h.bookAppointment)
			r.Get("/{id}", h.getAppointment)
			r.With(RequireRole(identity.RolePatient, identity.RoleAdmin)).Post("/{id}/cancel", h.cancelAppointment)
			r.With(RequireRole(identity.RoleDoctor)).Post("/{id}/treatment", h.recordTreatment)
			r.Get("/{id}/treatment", h.getTreatment)
		})

		r.Route("/clinicians/{id}", func(r chi.Router) {
			r.Use(RequireRole(identity.RoleDoctor, identity.RoleAdmin))
			r.Get("/appointments", h.listClinicianAppointments)
			r.Get("/upcoming", h.upcomingForClinician)
			r.Get("/patients", h.patientsForClinician)
		})

		r.Route("/patients/{id}", func(r chi.Router) {
			r.Get("/appointments", h.listPatientAppointments)
			r.Get("/treatments", h.patientTreatments)
		})

		r.With(RequireRole(identity.RoleAdmin)).Get("/admin/stats", h.stats)
	})

	return r
}

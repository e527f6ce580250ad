package api

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type BookAppointmentRequest struct {
	PatientID   string `json:"patient_id"`
	ClinicianID string `json:"clinician_id"`
	Date        string `json:"date"` // YYYY-MM-DD
	Time        string `json:"time"` // HH:MM
	Reason      string `json:"reason"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type RecordTreatmentRequest struct {
	Diagnosis    string  `json:"diagnosis"`
	Prescription string  `json:"prescription"`
	Notes        *string `json:"notes,omitempty"`
}

type TreatmentResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ClinicianID   uuid.UUID `json:"clinician_id"`
	Diagnosis     string    `json:"diagnosis"`
	Prescription  string    `json:"prescription"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type TreatmentListResponse struct {
	Treatments []TreatmentResponse `json:"treatments"`
	Count      int                 `json:"count"`
}

type PatientListResponse struct {
	PatientIDs []uuid.UUID `json:"patient_ids"`
	Count      int         `json:"count"`
}

type StatsResponse struct {
	Total          int `json:"total"`
	Booked         int `json:"booked"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
	UpcomingBooked int `json:"upcoming_booked"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		ClinicianID: a.ClinicianID,
		Date:        a.Date.String(),
		Time:        formatClock(a.Time),
		Reason:      a.Reason,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) AppointmentListResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return AppointmentListResponse{Appointments: out, Count: len(out)}
}

func toTreatmentResponse(r *treatment.Record) TreatmentResponse {
	return TreatmentResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		PatientID:     r.PatientID,
		ClinicianID:   r.ClinicianID,
		Diagnosis:     r.Diagnosis,
		Prescription:  r.Prescription,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
	}
}

func toTreatmentList(list []treatment.Record) TreatmentListResponse {
	out := make([]TreatmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toTreatmentResponse(&list[i]))
	}
	return TreatmentListResponse{Treatments: out, Count: len(out)}
}

// formatClock renders HH:MM, keeping seconds only when they are set.
func formatClock(t civil.Time) string {
	if t.Second != 0 || t.Nanosecond != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// parseClock accepts HH:MM or HH:MM:SS.
func parseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("15:04", s); err == nil {
		return civil.TimeOf(t), nil
	}
	return civil.ParseTime(s)
}

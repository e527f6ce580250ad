package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type handlers struct {
	sched        Scheduler
	rec          Recorder
	log          *zap.Logger
	upcomingDays int
}

func callerFrom(r *http.Request) identity.Caller {
	c, _ := identity.CallerFromContext(r.Context())
	return c
}

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// canView reports whether caller may read an appointment and its treatment.
func canView(c identity.Caller, a *appointment.Appointment) bool {
	switch c.Role {
	case identity.RoleAdmin:
		return true
	case identity.RoleDoctor:
		return c.ID == a.ClinicianID
	case identity.RolePatient:
		return c.ID == a.PatientID
	}
	return false
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	caller := callerFrom(r)

	patientID, err := uuid.Parse(req.PatientID)
	if req.PatientID == "" && caller.Role == identity.RolePatient {
		patientID, err = caller.ID, nil
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	if caller.Role == identity.RolePatient && patientID != caller.ID {
		writeError(w, http.StatusForbidden, "forbidden", "patients may only book for themselves")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	date, err := civil.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	clock, err := parseClock(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
		return
	}

	appt, err := h.sched.Book(r.Context(), appointment.BookRequest{
		PatientID:   patientID,
		ClinicianID: clinicianID,
		Date:        date,
		Time:        clock,
		Reason:      req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.sched.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if !canView(callerFrom(r), appt) {
		writeError(w, http.StatusForbidden, "forbidden", "not your appointment")
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.sched.Cancel(r.Context(), id, callerFrom(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) recordTreatment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	var req RecordTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	rec, err := h.rec.Record(r.Context(), treatment.RecordRequest{
		AppointmentID: id,
		ClinicianID:   callerFrom(r).ID,
		Diagnosis:     req.Diagnosis,
		Prescription:  req.Prescription,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTreatmentResponse(rec))
}

func (h *handlers) getTreatment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.sched.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if !canView(callerFrom(r), appt) {
		writeError(w, http.StatusForbidden, "forbidden", "not your appointment")
		return
	}

	rec, err := h.rec.ForAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toTreatmentResponse(rec))
}

// clinicianScope resolves {id} and allows that clinician or an admin.
func clinicianScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := pathID(w, r, "invalid_clinician_id")
	if !ok {
		return uuid.Nil, false
	}
	c := callerFrom(r)
	if !c.IsAdmin() && c.ID != id {
		writeError(w, http.StatusForbidden, "forbidden", "clinicians may only view their own schedule")
		return uuid.Nil, false
	}
	return id, true
}

// patientScope resolves {id} and allows that patient, any doctor, or an admin.
func patientScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := pathID(w, r, "invalid_patient_id")
	if !ok {
		return uuid.Nil, false
	}
	c := callerFrom(r)
	if c.Role == identity.RolePatient && c.ID != id {
		writeError(w, http.StatusForbidden, "forbidden", "patients may only view their own records")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) listClinicianAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := clinicianScope(w, r)
	if !ok {
		return
	}
	filter, ok := parseListFilter(w, r)
	if !ok {
		return
	}

	list, err := h.sched.ListByClinician(r.Context(), id, filter)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *handlers) upcomingForClinician(w http.ResponseWriter, r *http.Request) {
	id, ok := clinicianScope(w, r)
	if !ok {
		return
	}

	days := h.upcomingDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_days", "days must be an integer")
			return
		}
		days = n
	}

	list, err := h.sched.Upcoming(r.Context(), id, days)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *handlers) patientsForClinician(w http.ResponseWriter, r *http.Request) {
	id, ok := clinicianScope(w, r)
	if !ok {
		return
	}

	ids, err := h.sched.PatientsForClinician(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, PatientListResponse{PatientIDs: ids, Count: len(ids)})
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := patientScope(w, r)
	if !ok {
		return
	}
	filter, ok := parseListFilter(w, r)
	if !ok {
		return
	}

	list, err := h.sched.ListByPatient(r.Context(), id, filter)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *handlers) patientTreatments(w http.ResponseWriter, r *http.Request) {
	id, ok := patientScope(w, r)
	if !ok {
		return
	}

	list, err := h.rec.HistoryForPatient(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatmentList(list))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.sched.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Total:          st.Total,
		Booked:         st.Booked,
		Completed:      st.Completed,
		Cancelled:      st.Cancelled,
		UpcomingBooked: st.UpcomingBooked,
	})
}

// parseListFilter reads ?from=YYYY-MM-DD&to=YYYY-MM-DD&status=booked,cancelled.
// status may also be repeated.
func parseListFilter(w http.ResponseWriter, r *http.Request) (appointment.ListFilter, bool) {
	q := r.URL.Query()
	var f appointment.ListFilter

	for _, bound := range []struct {
		name string
		dst  **civil.Date
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		d, err := civil.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+bound.name, bound.name+" must be YYYY-MM-DD")
			return f, false
		}
		*bound.dst = &d
	}

	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := appointment.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
				return f, false
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	return f, true
}

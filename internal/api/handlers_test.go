package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

const testSecret = "handler-test-secret"

type testServer struct {
	t         *testing.T
	handler   http.Handler
	auth      *identity.JWTAuthenticator
	patient   uuid.UUID
	other     uuid.UUID
	clinician uuid.UUID
	admin     uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		t:         t,
		auth:      identity.NewJWTAuthenticator(testSecret),
		patient:   uuid.New(),
		other:     uuid.New(),
		clinician: uuid.New(),
		admin:     uuid.New(),
	}

	dir := directory.NewMemoryDirectory()
	dir.AddPatient(s.patient, s.other)
	dir.AddClinician(s.clinician)

	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulingMetrics(reg)
	txm := db.NewMemoryTxManager()
	now := func() time.Time { return time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC) }

	sched := appointment.NewScheduler(appointment.NewMemoryRepository(), dir, txm,
		appointment.WithClock(now),
		appointment.WithMetrics(m),
	)
	rec := treatment.NewRecorder(treatment.NewMemoryRepository(), sched, txm,
		treatment.WithClock(now),
		treatment.WithMetrics(m),
	)

	s.handler = NewRouter(RouterConfig{
		Scheduler:    sched,
		Recorder:     rec,
		Auth:         s.auth,
		Health:       NewHealthHandler(nil, nil, "test", "v0"),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		UpcomingDays: 7,
	})
	return s
}

func (s *testServer) token(id uuid.UUID, role identity.Role) string {
	tok, err := s.auth.IssueToken(identity.Caller{ID: id, Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) book(token string, at string) AppointmentResponse {
	rr := s.do(http.MethodPost, "/appointments", token, BookAppointmentRequest{
		PatientID:   s.patient.String(),
		ClinicianID: s.clinician.String(),
		Date:        "2024-06-01",
		Time:        at,
		Reason:      "checkup",
	})
	require.Equal(s.t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp AppointmentResponse
	require.NoError(s.t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

func TestEndToEndScenario(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(s.patient, identity.RolePatient)
	doctorTok := s.token(s.clinician, identity.RoleDoctor)

	first := s.book(patientTok, "09:00")
	assert.Equal(t, "booked", first.Status)
	assert.Equal(t, "09:00", first.Time)
	assert.Equal(t, "2024-06-01", first.Date)

	rr := s.do(http.MethodPost, "/appointments", patientTok, BookAppointmentRequest{
		ClinicianID: s.clinician.String(),
		Date:        "2024-06-01",
		Time:        "09:00",
		Reason:      "again",
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "slot_already_booked", decodeError(t, rr).Error)

	rr = s.do(http.MethodPost, "/appointments/"+first.ID.String()+"/cancel", patientTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	second := s.book(patientTok, "09:00")

	rr = s.do(http.MethodPost, "/appointments/"+first.ID.String()+"/treatment", doctorTok,
		RecordTreatmentRequest{Diagnosis: "flu", Prescription: "rest"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rr).Error)

	rr = s.do(http.MethodPost, "/appointments/"+second.ID.String()+"/treatment", doctorTok,
		RecordTreatmentRequest{Diagnosis: "flu", Prescription: "rest"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec TreatmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, s.patient, rec.PatientID)
	assert.Equal(t, s.clinician, rec.ClinicianID)

	rr = s.do(http.MethodGet, "/appointments/"+second.ID.String(), patientTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "completed", got.Status)

	rr = s.do(http.MethodGet, "/appointments/"+second.ID.String()+"/treatment", patientTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/patients/"+s.patient.String()+"/treatments", doctorTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history TreatmentListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	assert.Equal(t, 1, history.Count)
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/patients/"+s.patient.String()+"/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(http.MethodGet, "/patients/"+s.patient.String()+"/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoleGating(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(s.patient, identity.RolePatient)
	otherTok := s.token(s.other, identity.RolePatient)
	doctorTok := s.token(s.clinician, identity.RoleDoctor)
	strangerDoctorTok := s.token(uuid.New(), identity.RoleDoctor)
	adminTok := s.token(s.admin, identity.RoleAdmin)

	appt := s.book(patientTok, "10:00")
	id := appt.ID.String()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"doctor cannot book", http.MethodPost, "/appointments", doctorTok, BookAppointmentRequest{}, http.StatusForbidden},
		{"patient cannot book for another", http.MethodPost, "/appointments", otherTok, BookAppointmentRequest{
			PatientID: s.patient.String(), ClinicianID: s.clinician.String(), Date: "2024-06-02", Time: "10:00", Reason: "x",
		}, http.StatusForbidden},
		{"other patient cannot view", http.MethodGet, "/appointments/" + id, otherTok, nil, http.StatusForbidden},
		{"other doctor cannot view", http.MethodGet, "/appointments/" + id, strangerDoctorTok, nil, http.StatusForbidden},
		{"owning doctor can view", http.MethodGet, "/appointments/" + id, doctorTok, nil, http.StatusOK},
		{"admin can view", http.MethodGet, "/appointments/" + id, adminTok, nil, http.StatusOK},
		{"doctor cannot cancel", http.MethodPost, "/appointments/" + id + "/cancel", doctorTok, nil, http.StatusForbidden},
		{"other patient cannot cancel", http.MethodPost, "/appointments/" + id + "/cancel", otherTok, nil, http.StatusForbidden},
		{"patient cannot record", http.MethodPost, "/appointments/" + id + "/treatment", patientTok, RecordTreatmentRequest{}, http.StatusForbidden},
		{"other doctor cannot record", http.MethodPost, "/appointments/" + id + "/treatment", strangerDoctorTok,
			RecordTreatmentRequest{Diagnosis: "flu", Prescription: "rest"}, http.StatusForbidden},
		{"patient cannot list clinician", http.MethodGet, "/clinicians/" + s.clinician.String() + "/appointments", patientTok, nil, http.StatusForbidden},
		{"other doctor cannot list clinician", http.MethodGet, "/clinicians/" + s.clinician.String() + "/appointments", strangerDoctorTok, nil, http.StatusForbidden},
		{"patient cannot list other patient", http.MethodGet, "/patients/" + s.patient.String() + "/appointments", otherTok, nil, http.StatusForbidden},
		{"doctor can list patient", http.MethodGet, "/patients/" + s.patient.String() + "/appointments", doctorTok, nil, http.StatusOK},
		{"doctor cannot read stats", http.MethodGet, "/admin/stats", doctorTok, nil, http.StatusForbidden},
		{"admin reads stats", http.MethodGet, "/admin/stats", adminTok, nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}

	// Nothing above changed the appointment.
	rr := s.do(http.MethodGet, "/appointments/"+id, adminTok, nil)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "booked", got.Status)
}

func TestAdminBooksAndCancelsForPatient(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.token(s.admin, identity.RoleAdmin)

	appt := s.book(adminTok, "11:15")
	assert.Equal(t, s.patient, appt.PatientID)

	rr := s.do(http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", adminTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/admin/stats", adminTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, StatsResponse{Total: 1, Cancelled: 1}, st)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(s.patient, identity.RolePatient)
	doctorTok := s.token(s.clinician, identity.RoleDoctor)

	base := BookAppointmentRequest{ClinicianID: s.clinician.String(), Date: "2024-06-01", Time: "09:00", Reason: "x"}
	cases := map[string]struct {
		mutate func(r *BookAppointmentRequest)
		code   string
	}{
		"bad clinician": {func(r *BookAppointmentRequest) { r.ClinicianID = "7" }, "invalid_clinician_id"},
		"bad date":      {func(r *BookAppointmentRequest) { r.Date = "01/06/2024" }, "invalid_date"},
		"bad time":      {func(r *BookAppointmentRequest) { r.Time = "9am" }, "invalid_time"},
		"past date":     {func(r *BookAppointmentRequest) { r.Date = "2024-01-01" }, "invalid_input"},
		"empty reason":  {func(r *BookAppointmentRequest) { r.Reason = "" }, "invalid_input"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			rr := s.do(http.MethodPost, "/appointments", patientTok, req)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Error)
		})
	}

	unknown := base
	unknown.ClinicianID = uuid.NewString()
	rr := s.do(http.MethodPost, "/appointments", patientTok, unknown)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "clinician_not_found", decodeError(t, rr).Error)

	rr = s.do(http.MethodGet, "/appointments/not-a-uuid", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodGet, "/appointments/"+uuid.NewString(), patientTok, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	appt := s.book(patientTok, "09:00")
	rr = s.do(http.MethodPost, "/appointments/"+appt.ID.String()+"/treatment", doctorTok,
		RecordTreatmentRequest{Diagnosis: "", Prescription: "rest"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodGet, "/appointments/"+appt.ID.String()+"/treatment", doctorTok, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "treatment_not_found", decodeError(t, rr).Error)

	rr = s.do(http.MethodGet, "/patients/"+s.patient.String()+"/appointments?status=pending", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodGet, "/patients/"+s.patient.String()+"/appointments?from=2024-07-01&to=2024-06-01", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListFiltersAndClinicianViews(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(s.patient, identity.RolePatient)
	doctorTok := s.token(s.clinician, identity.RoleDoctor)

	late := s.book(patientTok, "15:00")
	early := s.book(patientTok, "08:30")
	rr := s.do(http.MethodPost, "/appointments/"+late.ID.String()+"/cancel", patientTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/clinicians/"+s.clinician.String()+"/appointments?from=2024-06-01&to=2024-06-01", doctorTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list AppointmentListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, early.ID, list.Appointments[0].ID)
	assert.Equal(t, late.ID, list.Appointments[1].ID)

	rr = s.do(http.MethodGet, "/patients/"+s.patient.String()+"/appointments?status=cancelled", patientTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, late.ID, list.Appointments[0].ID)

	// 2024-06-01 is twelve days after the fixed clock.
	rr = s.do(http.MethodGet, "/clinicians/"+s.clinician.String()+"/upcoming", doctorTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)

	rr = s.do(http.MethodGet, "/clinicians/"+s.clinician.String()+"/upcoming?days=14", doctorTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rr = s.do(http.MethodGet, "/clinicians/"+s.clinician.String()+"/patients", doctorTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var patients PatientListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &patients))
	assert.Equal(t, []uuid.UUID{s.patient}, patients.PatientIDs)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.book(s.token(s.patient, identity.RolePatient), "09:00")

	rr := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `clinic_scheduling_bookings_total{outcome="ok"} 1`)
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	rr = s.do(http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	check := func(h *HealthHandler) (int, ReadinessResponse) {
		rr := httptest.NewRecorder()
		h.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return rr.Code, resp
	}

	code, resp := check(NewHealthHandler(stubPinger{}, rdb, "test", "v1"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, resp.Dependencies)

	code, resp = check(NewHealthHandler(stubPinger{err: errors.New("down")}, rdb, "test", "v1"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", resp.Status)

	mr.Close()
	code, resp = check(NewHealthHandler(stubPinger{}, rdb, "test", "v1"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])

	code, resp = check(NewHealthHandler(stubPinger{}, nil, "test", "v1"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disabled", resp.Dependencies["redis"])
}

func TestParseClock(t *testing.T) {
	c, err := parseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, "09:30", formatClock(c))

	c, err = parseClock(" 17:05:09 ")
	require.NoError(t, err)
	assert.Equal(t, "17:05:09", formatClock(c))

	_, err = parseClock("25:00")
	assert.Error(t, err)
	_, err = parseClock(strings.Repeat("1", 3))
	assert.Error(t, err)
}

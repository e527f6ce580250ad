package treatment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/identity"
)

type env struct {
	appts     *appointment.MemoryRepository
	records   *MemoryRepository
	sched     *appointment.Scheduler
	recorder  *Recorder
	patient   uuid.UUID
	clinician uuid.UUID
}

func newEnv(t *testing.T, repo Repository) *env {
	t.Helper()

	e := &env{
		appts:     appointment.NewMemoryRepository(),
		patient:   uuid.New(),
		clinician: uuid.New(),
	}
	if mem, ok := repo.(*MemoryRepository); ok {
		e.records = mem
	}

	dir := directory.NewMemoryDirectory()
	dir.AddPatient(e.patient)
	dir.AddClinician(e.clinician)

	var mu sync.Mutex
	now := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	txm := db.NewMemoryTxManager()
	e.sched = appointment.NewScheduler(e.appts, dir, txm, appointment.WithClock(clock))
	e.recorder = NewRecorder(repo, e.sched, txm, WithClock(clock), WithNotesMaxLength(20))
	return e
}

func (e *env) book(t *testing.T, hour int) *appointment.Appointment {
	t.Helper()
	a, err := e.sched.Book(context.Background(), appointment.BookRequest{
		PatientID:   e.patient,
		ClinicianID: e.clinician,
		Date:        civil.Date{Year: 2024, Month: 6, Day: 1},
		Time:        civil.Time{Hour: hour},
		Reason:      "cough",
	})
	require.NoError(t, err)
	return a
}

func (e *env) request(id uuid.UUID) RecordRequest {
	return RecordRequest{
		AppointmentID: id,
		ClinicianID:   e.clinician,
		Diagnosis:     "flu",
		Prescription:  "rest",
	}
}

func TestRecordCompletesAppointment(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	ctx := context.Background()
	appt := e.book(t, 9)

	notes := "  drink fluids  "
	req := e.request(appt.ID)
	req.Notes = &notes

	rec, err := e.recorder.Record(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, rec.AppointmentID)
	assert.Equal(t, e.patient, rec.PatientID)
	assert.Equal(t, e.clinician, rec.ClinicianID)
	assert.Equal(t, "flu", rec.Diagnosis)
	assert.Equal(t, "rest", rec.Prescription)
	require.NotNil(t, rec.Notes)
	assert.Equal(t, "drink fluids", *rec.Notes)

	got, err := e.sched.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, got.Status)

	byAppt, err := e.recorder.ForAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byAppt.ID)
}

func TestScenarioCancelledThenRebooked(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	ctx := context.Background()

	first := e.book(t, 9)
	_, err := e.sched.Cancel(ctx, first.ID, identity.Caller{ID: e.patient, Role: identity.RolePatient})
	require.NoError(t, err)
	second := e.book(t, 9)

	_, err = e.recorder.Record(ctx, e.request(first.ID))
	require.ErrorIs(t, err, appointment.ErrInvalidTransition)

	rec, err := e.recorder.Record(ctx, e.request(second.ID))
	require.NoError(t, err)
	assert.Equal(t, second.ID, rec.AppointmentID)

	_, err = e.recorder.ForAppointment(ctx, first.ID)
	assert.ErrorIs(t, err, ErrTreatmentNotFound)
}

func TestRecordConcurrentDuplicates(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	appt := e.book(t, 9)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.recorder.Record(context.Background(), e.request(appt.ID))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, invalid int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, appointment.ErrInvalidTransition):
			invalid++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, invalid)

	history, err := e.recorder.HistoryForPatient(context.Background(), e.patient)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordForbiddenForOtherClinician(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	appt := e.book(t, 9)

	req := e.request(appt.ID)
	req.ClinicianID = uuid.New()
	_, err := e.recorder.Record(context.Background(), req)
	require.ErrorIs(t, err, appointment.ErrForbidden)

	got, err := e.sched.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusBooked, got.Status)

	_, err = e.recorder.ForAppointment(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrTreatmentNotFound)
}

func TestRecordValidation(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	appt := e.book(t, 9)

	long := strings.Repeat("x", 21)
	cases := map[string]func(r *RecordRequest){
		"missing appointment": func(r *RecordRequest) { r.AppointmentID = uuid.Nil },
		"blank diagnosis":     func(r *RecordRequest) { r.Diagnosis = " " },
		"blank prescription":  func(r *RecordRequest) { r.Prescription = "" },
		"notes too long":      func(r *RecordRequest) { r.Notes = &long },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := e.request(appt.ID)
			mutate(&req)
			_, err := e.recorder.Record(context.Background(), req)
			require.ErrorIs(t, err, appointment.ErrInvalidInput)
		})
	}

	got, err := e.sched.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusBooked, got.Status)
}

func TestRecordUnknownAppointment(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	_, err := e.recorder.Record(context.Background(), e.request(uuid.New()))
	require.ErrorIs(t, err, appointment.ErrNotFound)
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) Insert(context.Context, *Record) (*Record, error) {
	return nil, errors.New("disk full")
}

func TestRecordRollsBackTransitionOnInsertFailure(t *testing.T) {
	e := newEnv(t, failingRepo{NewMemoryRepository()})
	appt := e.book(t, 9)

	_, err := e.recorder.Record(context.Background(), e.request(appt.ID))
	require.ErrorContains(t, err, "disk full")

	got, err := e.sched.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusBooked, got.Status)

	// The slot is still held by the booked appointment.
	_, err = e.sched.Book(context.Background(), appointment.BookRequest{
		PatientID:   e.patient,
		ClinicianID: e.clinician,
		Date:        appt.Date,
		Time:        appt.Time,
		Reason:      "again",
	})
	require.ErrorIs(t, err, appointment.ErrSlotConflict)

	for _, ev := range e.appts.Events() {
		assert.NotEqual(t, appointment.EventAppointmentCompleted, ev.EventType)
	}
}

func TestHistoryForPatientOrdered(t *testing.T) {
	e := newEnv(t, NewMemoryRepository())
	ctx := context.Background()

	a1 := e.book(t, 11)
	a2 := e.book(t, 9)

	r1, err := e.recorder.Record(ctx, e.request(a1.ID))
	require.NoError(t, err)
	r2, err := e.recorder.Record(ctx, e.request(a2.ID))
	require.NoError(t, err)

	history, err := e.recorder.HistoryForPatient(ctx, e.patient)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, r1.ID, history[0].ID)
	assert.Equal(t, r2.ID, history[1].ID)

	none, err := e.recorder.HistoryForPatient(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

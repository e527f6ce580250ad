package treatment

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type MemoryRepository struct {
	mu            sync.RWMutex
	records       []Record
	byAppointment map[uuid.UUID]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byAppointment: make(map[uuid.UUID]int)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byAppointment[r.AppointmentID]; ok {
		return nil, ErrAlreadyRecorded
	}
	m.records = append(m.records, *r)
	m.byAppointment[r.AppointmentID] = len(m.records) - 1

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		idx, ok := m.byAppointment[r.AppointmentID]
		if !ok {
			return
		}
		m.records = slices.Delete(m.records, idx, idx+1)
		m.reindex()
	})

	created := *r
	return &created, nil
}

func (m *MemoryRepository) reindex() {
	clear(m.byAppointment)
	for i, rec := range m.records {
		m.byAppointment[rec.AppointmentID] = i
	}
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byAppointment[appointmentID]
	if !ok {
		return nil, ErrTreatmentNotFound
	}
	rec := m.records[idx]
	return &rec, nil
}

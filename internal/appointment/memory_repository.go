package appointment

import (
	"context"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// MemoryRepository keeps appointments in process. Pair it with
// db.MemoryTxManager so failed transactions undo their writes.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Appointment
	booked map[string]uuid.UUID
	events []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]Appointment),
		booked: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindBookedInSlot(_ context.Context, slot Slot) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.booked[slot.Key()]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a := r.byID[id]
	return &a, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.Slot().Key()
	if a.Status == StatusBooked {
		if _, taken := r.booked[key]; taken {
			return nil, ErrSlotConflict
		}
		r.booked[key] = a.ID
	}
	r.byID[a.ID] = *a

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, a.ID)
		if r.booked[key] == a.ID {
			delete(r.booked, key)
		}
	})

	created := *a
	return &created, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byID[id]
	if !ok || prev.Status != from {
		return nil, ErrAppointmentNotFound
	}

	next := prev
	next.Status = to
	next.UpdatedAt = at
	r.byID[id] = next

	key := prev.Slot().Key()
	if from == StatusBooked && r.booked[key] == id {
		delete(r.booked, key)
	}

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[id] = prev
		if prev.Status == StatusBooked {
			r.booked[key] = id
		}
	})

	return &next, nil
}

func (r *MemoryRepository) ListByClinician(_ context.Context, clinicianID uuid.UUID, f ListFilter) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.ClinicianID == clinicianID }, f), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, f ListFilter) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.PatientID == patientID }, f), nil
}

func (r *MemoryRepository) list(owner func(Appointment) bool, f ListFilter) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.byID {
		if owner(a) && f.Matches(a) {
			out = append(out, a)
		}
	}
	SortChronologically(out)
	return out
}

// SortChronologically orders by date, then time, then creation.
func SortChronologically(list []Appointment) {
	slices.SortStableFunc(list, func(a, b Appointment) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func (r *MemoryRepository) DistinctPatients(_ context.Context, clinicianID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, a := range r.byID {
		if a.ClinicianID != clinicianID {
			continue
		}
		if _, ok := seen[a.PatientID]; ok {
			continue
		}
		seen[a.PatientID] = struct{}{}
		ids = append(ids, a.PatientID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, nil
}

func (r *MemoryRepository) Stats(_ context.Context, today civil.Date) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, a := range r.byID {
		s.Total++
		switch a.Status {
		case StatusBooked:
			s.Booked++
			if !a.Date.Before(today) {
				s.UpcomingBooked++
			}
		case StatusCompleted:
			s.Completed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	n := len(r.events)

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.events) >= n {
			r.events = r.events[:n-1]
		}
	})
	return nil
}

// Events returns a copy of the event log, oldest first.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

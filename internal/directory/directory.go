// Package directory answers existence questions about clinicians and patients.
// Profiles are owned elsewhere; the scheduler only needs to know whether an id
// refers to a live, not-deleted record.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Directory interface {
	ClinicianExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PgDirectory reads the clinicians and patients tables.
type PgDirectory struct {
	pool db.Querier
}

func NewPgDirectory(pool db.Querier) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) ClinicianExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clinicians WHERE id = $1 AND deleted_at IS NULL
		)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check clinician: %w", err)
	}
	return exists, nil
}

func (d *PgDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patients WHERE id = $1 AND deleted_at IS NULL
		)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

// MemoryDirectory is a static directory for tests and local runs.
type MemoryDirectory struct {
	mu         sync.RWMutex
	clinicians map[uuid.UUID]struct{}
	patients   map[uuid.UUID]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		clinicians: make(map[uuid.UUID]struct{}),
		patients:   make(map[uuid.UUID]struct{}),
	}
}

func (d *MemoryDirectory) AddClinician(ids ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.clinicians[id] = struct{}{}
	}
}

func (d *MemoryDirectory) AddPatient(ids ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.patients[id] = struct{}{}
	}
}

func (d *MemoryDirectory) RemovePatient(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.patients, id)
}

func (d *MemoryDirectory) ClinicianExists(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.clinicians[id]
	return ok, nil
}

func (d *MemoryDirectory) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.patients[id]
	return ok, nil
}

package treatment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

const AppointmentUniqueConstraint = "treatment_records_appointment_id_key"

const recordColumns = `id, appointment_id, patient_id, clinician_id, diagnosis, prescription, notes, created_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.PatientID,
		&r.ClinicianID,
		&r.Diagnosis,
		&r.Prescription,
		&r.Notes,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *PgRepository) Insert(ctx context.Context, r *Record) (*Record, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		INSERT INTO treatment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+recordColumns+`
	`, r.ID, r.AppointmentID, r.PatientID, r.ClinicianID, r.Diagnosis, r.Prescription, r.Notes, r.CreatedAt)

	created, err := scanRecord(row)
	if err != nil {
		if db.IsUniqueViolation(err, AppointmentUniqueConstraint) {
			return nil, ErrAlreadyRecorded
		}
		return nil, fmt.Errorf("insert treatment record: %w", err)
	}
	return created, nil
}

func (p *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+recordColumns+`
		FROM treatment_records
		WHERE patient_id = $1
		ORDER BY created_at ASC, id ASC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list treatment records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM treatment_records
		WHERE appointment_id = $1
	`, appointmentID)
	return scanRecord(row)
}

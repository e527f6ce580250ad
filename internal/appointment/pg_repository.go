package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// BookedSlotIndex is the partial unique index enforcing one booked
// appointment per (clinician, date, time).
const BookedSlotIndex = "appointments_booked_slot_idx"

const appointmentColumns = `id, patient_id, clinician_id, appt_date, appt_time, reason, status, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ClinicianID,
		&a.Date,
		&a.Time,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindBookedInSlot(ctx context.Context, slot Slot) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinician_id = $1
		  AND appt_date = $2
		  AND appt_time = $3
		  AND status = 'booked'
	`, slot.ClinicianID, slot.Date, slot.Time)
	return scanAppointment(row)
}

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, clinician_id, appt_date, appt_time, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.ClinicianID, a.Date, a.Time, a.Reason, a.Status, a.CreatedAt, a.UpdatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, BookedSlotIndex) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $4
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, at)

	return scanAppointment(row)
}

func (r *PgRepository) ListByClinician(ctx context.Context, clinicianID uuid.UUID, f ListFilter) ([]Appointment, error) {
	return r.list(ctx, "clinician_id", clinicianID, f)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]Appointment, error) {
	return r.list(ctx, "patient_id", patientID, f)
}

func (r *PgRepository) list(ctx context.Context, column string, id uuid.UUID, f ListFilter) ([]Appointment, error) {
	query, args := buildListQuery(column, id, f)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments by %s: %w", column, err)
	}
	return collectAppointments(rows)
}

// column is always one of our own constants, never caller input.
func buildListQuery(column string, id uuid.UUID, f ListFilter) (string, []any) {
	where := []string{column + " = $1"}
	args := []any{id}

	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("appt_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("appt_date <= $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY appt_date ASC, appt_time ASC, created_at ASC`
	return query, args
}

func (r *PgRepository) DistinctPatients(ctx context.Context, clinicianID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT patient_id
		FROM appointments
		WHERE clinician_id = $1
		ORDER BY patient_id
	`, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list clinician patients: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) Stats(ctx context.Context, today civil.Date) (Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'booked'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'cancelled'),
			count(*) FILTER (WHERE status = 'booked' AND appt_date >= $1)
		FROM appointments
	`, today).Scan(&s.Total, &s.Booked, &s.Completed, &s.Cancelled, &s.UpcomingBooked)
	if err != nil {
		return Stats{}, fmt.Errorf("appointment stats: %w", err)
	}
	return s, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

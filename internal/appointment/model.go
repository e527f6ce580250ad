package appointment

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type Status string

const (
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusBooked, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Slot is the unit of booking exclusivity.
type Slot struct {
	ClinicianID uuid.UUID
	Date        civil.Date
	Time        civil.Time
}

// Key identifies the slot in lock and index keys.
func (s Slot) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.ClinicianID, s.Date, s.Time)
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	ClinicianID uuid.UUID
	Date        civil.Date
	Time        civil.Time
	Reason      string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) Slot() Slot {
	return Slot{ClinicianID: a.ClinicianID, Date: a.Date, Time: a.Time}
}

type BookRequest struct {
	PatientID   uuid.UUID
	ClinicianID uuid.UUID
	Date        civil.Date
	Time        civil.Time
	Reason      string
}

// ListFilter narrows list projections. Nil bounds are open; an empty
// Statuses slice matches every status.
type ListFilter struct {
	From     *civil.Date
	To       *civil.Date
	Statuses []Status
}

func (f ListFilter) Validate() error {
	if f.From != nil && !f.From.IsValid() {
		return &ValidationError{Field: "from", Reason: "not a calendar date"}
	}
	if f.To != nil && !f.To.IsValid() {
		return &ValidationError{Field: "to", Reason: "not a calendar date"}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return &ValidationError{Field: "from", Reason: "must not be after to"}
	}
	for _, st := range f.Statuses {
		if _, err := ParseStatus(string(st)); err != nil {
			return err
		}
	}
	return nil
}

func (f ListFilter) Matches(a Appointment) bool {
	if f.From != nil && a.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && a.Date.After(*f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

// Stats backs the admin dashboard.
type Stats struct {
	Total          int
	Booked         int
	Completed      int
	Cancelled      int
	UpcomingBooked int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

package schedule

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Location is the descriptive floor/block/room triple. It takes no part in
// conflict detection; only doctor-level double booking is prevented.
type Location struct {
	FloorID uuid.UUID
	BlockID uuid.UUID
	RoomID  uuid.UUID
}

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ReceptionistID  *uuid.UUID // set when a receptionist created the booking
	Date            time.Time  // local midnight of the appointment day
	Time            string     // HH:MM
	DurationMinutes int
	Location        *Location
	Status          Status
	Reason          string
	Notes           string
	PrescriptionID  *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Interval derives the appointment's booked span.
func (a *Appointment) Interval() (Interval, error) {
	return NewInterval(a.Date, a.Time, a.DurationMinutes)
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
)

// Notification is a doctor-to-receptionist message about an appointment.
// Delivery is asynchronous and retried independently of the booking.
type Notification struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	DoctorID       uuid.UUID
	ReceptionistID uuid.UUID
	Type           string
	Message        string
	Status         NotificationStatus
	CreatedAt      time.Time
	SentAt         *time.Time
}

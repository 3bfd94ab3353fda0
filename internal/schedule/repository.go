package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrStatusChanged reports a lost compare-and-set: the stored row was
	// modified between the caller's read and its write.
	ErrStatusChanged = errors.New("appointment changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// ListDoctors returns every doctor ordered by last name then first name.
	ListDoctors(ctx context.Context) ([]Doctor, error)

	// ListDoctorDayAppointments returns the doctor's non-cancelled
	// appointments whose date falls on the given day (local midnight).
	ListDoctorDayAppointments(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateAppointment rewrites the full row as a compare-and-set against
	// the updated_at value the caller read. A concurrent write in between
	// fails the update with ErrStatusChanged.
	UpdateAppointment(ctx context.Context, a *Appointment, expectedUpdatedAt time.Time) (*Appointment, error)

	// UpdateAppointmentStatus performs a compare-and-set transition and
	// fails with ErrStatusChanged when the current status is not from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	CreateNotification(ctx context.Context, n *Notification) (*Notification, error)
	ListPendingNotifications(ctx context.Context, limit int) ([]Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

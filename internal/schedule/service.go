package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/auth"
	"github.com/medsched/clinic-scheduling/internal/config"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
)

var (
	ErrMissingFields           = errors.New("missing required fields")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrScheduleBusy            = errors.New("doctor's day is being modified, please retry")
	ErrNotAssignedDoctor       = errors.New("acting doctor is not assigned to this appointment")
	ErrNoReceptionist          = errors.New("appointment has no assigned receptionist")
)

// ConflictError reports the booking that blocks a candidate interval, with
// enough detail for the caller to pick another slot.
type ConflictError struct {
	DoctorID      uuid.UUID
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("doctor %s is already booked from %s to %s",
		e.DoctorID, e.Start.Format("2006-01-02 15:04"), e.End.Format("15:04"))
}

type CreateRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Date            time.Time
	Time            string
	DurationMinutes int // 0 means the configured default
	Location        *Location
	Reason          string
	Notes           string
	Status          Status // empty means scheduled
}

type UpdateRequest struct {
	PatientID       *uuid.UUID
	DoctorID        *uuid.UUID
	Date            *time.Time
	Time            *string
	DurationMinutes *int
	Location        *Location
	Status          *Status
	Reason          *string
	Notes           *string
}

// Service owns the appointment state machine. Every path that grows a
// doctor's booked set runs the conflict check inside the doctor-day lock.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// CreateAppointment books a patient with a doctor. Validation is
// side-effect-free; the only write happens inside the doctor-day critical
// section, after the conflict check has cleared the candidate interval.
func (s *Service) CreateAppointment(ctx context.Context, caller auth.Identity, req CreateRequest) (*Appointment, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	if err := checkRequired(req); err != nil {
		return nil, err
	}

	// Interval validity is pure and checked before any directory read.
	duration := req.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultDuration
	}
	candidate, err := NewInterval(req.Date, req.Time, duration)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	status := req.Status
	if status == "" {
		status = StatusScheduled
	}
	if !status.valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, req.Status)
	}

	appt := &Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Date:            DayStart(req.Date),
		Time:            req.Time,
		DurationMinutes: duration,
		Location:        req.Location,
		Status:          status,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}
	if caller.Role == auth.RoleReceptionist {
		creator := caller.UserID
		appt.ReceptionistID = &creator
	}

	var created *Appointment
	err = s.withDoctorDayLock(ctx, req.DoctorID, appt.Date, func(lockCtx context.Context) error {
		booked, err := s.loadDaySchedule(lockCtx, req.DoctorID, appt.Date, uuid.Nil)
		if err != nil {
			return err
		}
		if hit, found := HasConflict(candidate, booked); found {
			return &ConflictError{
				DoctorID:      hit.DoctorID,
				AppointmentID: hit.AppointmentID,
				Start:         hit.Start,
				End:           hit.End,
			}
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("patient_id", created.PatientID.String()).
		Time("start", candidate.Start).
		Msg("appointment booked")

	return created, nil
}

// errAlreadyCancelled signals an idempotent re-cancel through applyUpdate.
var errAlreadyCancelled = errors.New("already cancelled")

// applyUpdate merges req into a copy of appt, validating the status
// transition. The second result reports whether the booked interval moved.
func applyUpdate(appt *Appointment, req UpdateRequest) (*Appointment, bool, error) {
	if appt.Status.Terminal() {
		if req.Status != nil && *req.Status == StatusCancelled && appt.Status == StatusCancelled {
			return nil, false, errAlreadyCancelled
		}
		return nil, false, fmt.Errorf("%w: appointment is %s", ErrInvalidStatusTransition, appt.Status)
	}

	updated := *appt
	if req.PatientID != nil {
		updated.PatientID = *req.PatientID
	}
	if req.DoctorID != nil {
		updated.DoctorID = *req.DoctorID
	}
	if req.Date != nil {
		updated.Date = DayStart(*req.Date)
	}
	if req.Time != nil {
		updated.Time = *req.Time
	}
	if req.DurationMinutes != nil {
		updated.DurationMinutes = *req.DurationMinutes
	}
	if req.Location != nil {
		updated.Location = req.Location
	}
	if req.Reason != nil {
		updated.Reason = *req.Reason
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}
	if req.Status != nil && *req.Status != appt.Status {
		if !canTransition(appt.Status, *req.Status) {
			return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, *req.Status)
		}
		updated.Status = *req.Status
	}

	rebooking := updated.DoctorID != appt.DoctorID ||
		!updated.Date.Equal(appt.Date) ||
		updated.Time != appt.Time ||
		updated.DurationMinutes != appt.DurationMinutes

	return &updated, rebooking, nil
}

// UpdateAppointment applies a partial update. Changing the doctor, date,
// time or duration is a re-booking: the new interval must clear the target
// doctor's day, excluding the appointment's own prior slot. Every write runs
// inside the doctor-day critical section against a row re-read under the
// lock, and the persist is a compare-and-set, so a concurrent cancel or
// re-booking can never be silently overwritten by a stale update.
func (s *Service) UpdateAppointment(ctx context.Context, caller auth.Identity, id uuid.UUID, req UpdateRequest) (*Appointment, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// First pass against the unlocked read: fail fast on bad input and pin
	// the (doctor, day) key to lock.
	updated, rebooking, err := applyUpdate(appt, req)
	if errors.Is(err, errAlreadyCancelled) {
		return appt, nil // re-cancelling is a no-op
	}
	if err != nil {
		return nil, err
	}

	if req.PatientID != nil && *req.PatientID != appt.PatientID {
		if _, err := s.repo.GetPatientByID(ctx, *req.PatientID); err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load patient: %w", err)
		}
	}
	if updated.DoctorID != appt.DoctorID {
		if _, err := s.repo.GetDoctorByID(ctx, updated.DoctorID); err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load doctor: %w", err)
		}
	}
	if rebooking {
		if _, err := NewInterval(updated.Date, updated.Time, updated.DurationMinutes); err != nil {
			return nil, err
		}
	}

	lockDoctor, lockDay := updated.DoctorID, updated.Date

	var result *Appointment
	err = s.withDoctorDayLock(ctx, lockDoctor, lockDay, func(lockCtx context.Context) error {
		fresh, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}

		merged, rebooking, err := applyUpdate(fresh, req)
		if errors.Is(err, errAlreadyCancelled) {
			result = fresh
			return nil
		}
		if err != nil {
			return err
		}

		// A concurrent re-booking may have moved the appointment off the
		// locked key between the first read and lock acquisition.
		if merged.Status != StatusCancelled &&
			(merged.DoctorID != lockDoctor || !merged.Date.Equal(lockDay)) {
			return fmt.Errorf("%w: appointment moved concurrently", ErrScheduleBusy)
		}

		if rebooking && merged.Status != StatusCancelled {
			candidate, err := NewInterval(merged.Date, merged.Time, merged.DurationMinutes)
			if err != nil {
				return err
			}
			booked, err := s.loadDaySchedule(lockCtx, merged.DoctorID, merged.Date, merged.ID)
			if err != nil {
				return err
			}
			if hit, found := HasConflict(candidate, booked); found {
				return &ConflictError{
					DoctorID:      hit.DoctorID,
					AppointmentID: hit.AppointmentID,
					Start:         hit.Start,
					End:           hit.End,
				}
			}
		}

		result, err = s.repo.UpdateAppointment(lockCtx, merged, fresh.UpdatedAt)
		if errors.Is(err, ErrStatusChanged) {
			return fmt.Errorf("%w: appointment changed concurrently", ErrScheduleBusy)
		}
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rebooking {
		s.log.Info().
			Str("appointment_id", result.ID.String()).
			Str("doctor_id", result.DoctorID.String()).
			Msg("appointment re-booked")
	}

	return result, nil
}

// CancelAppointment frees the slot. Idempotent: cancelling an already
// cancelled appointment returns it unchanged. No lock is taken, since a
// cancellation only shrinks the booked set.
func (s *Service) CancelAppointment(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if appt.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: appointment is completed", ErrInvalidStatusTransition)
	}

	cancelled, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, StatusCancelled)
	if errors.Is(err, ErrStatusChanged) {
		// Lost the compare-and-set. A concurrent cancel keeps this idempotent.
		current, getErr := s.repo.GetAppointmentByID(ctx, id)
		if getErr == nil && current.Status == StatusCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidStatusTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", cancelled.ID.String()).
		Str("doctor_id", cancelled.DoctorID.String()).
		Msg("appointment cancelled")

	return cancelled, nil
}

// ConfirmAppointment moves a scheduled appointment to confirmed. The interval
// does not change, so no conflict re-check is needed.
func (s *Service) ConfirmAppointment(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusScheduled, StatusConfirmed)
}

// CompleteAppointment closes out a confirmed visit.
func (s *Service) CompleteAppointment(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusConfirmed, StatusCompleted)
}

func (s *Service) transition(ctx context.Context, caller auth.Identity, id uuid.UUID, from, to Status) (*Appointment, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, id, from, to)
	if errors.Is(err, ErrStatusChanged) {
		return nil, fmt.Errorf("%w: appointment is not %s", ErrInvalidStatusTransition, from)
	}
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// GetAppointment is a read available to any authenticated role.
func (s *Service) GetAppointment(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	if !auth.CanRead(caller.Role) {
		return nil, auth.ErrUnauthorized
	}
	return s.repo.GetAppointmentByID(ctx, id)
}

// NotifyReceptionist records a doctor-to-receptionist message about an
// appointment. Only the assigned doctor may signal. Delivery happens
// asynchronously; a failure here never affects the appointment itself.
func (s *Service) NotifyReceptionist(ctx context.Context, caller auth.Identity, appointmentID, actingDoctorID uuid.UUID, notifType, message string) (*Notification, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actingDoctorID {
		return nil, ErrNotAssignedDoctor
	}
	if appt.ReceptionistID == nil {
		return nil, ErrNoReceptionist
	}

	n, err := s.repo.CreateNotification(ctx, &Notification{
		AppointmentID:  appt.ID,
		DoctorID:       appt.DoctorID,
		ReceptionistID: *appt.ReceptionistID,
		Type:           notifType,
		Message:        message,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// LinkPrescription back-links a prescription issued for the visit.
func (s *Service) LinkPrescription(ctx context.Context, caller auth.Identity, appointmentID, prescriptionID uuid.UUID) (*Appointment, error) {
	if !auth.CanModifyAppointments(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	updated := *appt
	updated.PrescriptionID = &prescriptionID
	result, err := s.repo.UpdateAppointment(ctx, &updated, appt.UpdatedAt)
	if errors.Is(err, ErrStatusChanged) {
		return nil, fmt.Errorf("%w: appointment changed concurrently", ErrScheduleBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("link prescription: %w", err)
	}
	return result, nil
}

// DispatchPendingNotifications delivers queued notifications and marks them
// sent. Called by the notification worker; failures stay pending and are
// retried on the next tick.
func (s *Service) DispatchPendingNotifications(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingNotifications(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		s.log.Info().
			Str("notification_id", n.ID.String()).
			Str("appointment_id", n.AppointmentID.String()).
			Str("receptionist_id", n.ReceptionistID.String()).
			Str("type", n.Type).
			Msg("dispatching notification")

		if err := s.repo.MarkNotificationSent(ctx, n.ID, time.Now()); err != nil {
			if errors.Is(err, ErrNotificationNotFound) {
				continue // another worker got there first
			}
			s.log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to mark notification sent")
			continue
		}
		sent++
	}

	return sent, nil
}

// loadDaySchedule builds the doctor's day working set, excluding one
// appointment id when re-booking.
func (s *Service) loadDaySchedule(ctx context.Context, doctorID uuid.UUID, day time.Time, exclude uuid.UUID) ([]BookedInterval, error) {
	appts, err := s.repo.ListDoctorDayAppointments(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load day appointments: %w", err)
	}

	booked := make([]BookedInterval, 0, len(appts))
	for i := range appts {
		if appts[i].ID == exclude {
			continue
		}
		iv, err := appts[i].Interval()
		if err != nil {
			return nil, fmt.Errorf("stored appointment %s has invalid interval: %w", appts[i].ID, err)
		}
		booked = append(booked, BookedInterval{
			AppointmentID: appts[i].ID,
			DoctorID:      appts[i].DoctorID,
			Interval:      iv,
		})
	}
	return booked, nil
}

// withDoctorDayLock acquires the doctor-day critical section, retrying a
// bounded number of times with jittered backoff when the lock is contended.
// Conflicts found inside the section are never retried.
func (s *Service) withDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	attempts := s.cfg.LockRetries
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; ; i++ {
		err := s.locker.WithDoctorDayLock(ctx, doctorID, day, fn)
		if !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
		if i == attempts-1 {
			return ErrScheduleBusy
		}

		delay := s.cfg.LockRetryDelay << i
		if delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func canTransition(from, to Status) bool {
	switch {
	case from == StatusScheduled && to == StatusConfirmed:
		return true
	case (from == StatusScheduled || from == StatusConfirmed) && to == StatusCancelled:
		return true
	case from == StatusConfirmed && to == StatusCompleted:
		return true
	}
	return false
}

func checkRequired(req CreateRequest) error {
	var missing []string
	if req.PatientID == uuid.Nil {
		missing = append(missing, "patientId")
	}
	if req.DoctorID == uuid.Nil {
		missing = append(missing, "doctorId")
	}
	if req.Date.IsZero() {
		missing = append(missing, "date")
	}
	if req.Time == "" {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	return nil
}

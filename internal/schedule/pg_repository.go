package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var receptionistID, prescriptionID *uuid.UUID
	var floorID, blockID, roomID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&receptionistID,
		&a.Date,
		&a.Time,
		&a.DurationMinutes,
		&floorID,
		&blockID,
		&roomID,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&prescriptionID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ReceptionistID = receptionistID
	a.PrescriptionID = prescriptionID
	if floorID != nil && blockID != nil && roomID != nil {
		a.Location = &Location{FloorID: *floorID, BlockID: *blockID, RoomID: *roomID}
	}
	return &a, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var sentAt *time.Time

	err := row.Scan(
		&n.ID,
		&n.AppointmentID,
		&n.DoctorID,
		&n.ReceptionistID,
		&n.Type,
		&n.Message,
		&n.Status,
		&n.CreatedAt,
		&sentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	n.SentAt = sentAt
	return &n, nil
}

func locationColumns(l *Location) (floorID, blockID, roomID *uuid.UUID) {
	if l == nil {
		return nil, nil, nil
	}
	return &l.FloorID, &l.BlockID, &l.RoomID
}

const appointmentColumns = `
	id, patient_id, doctor_id, receptionist_id, date, time, duration_minutes,
	floor_id, block_id, room_id, status, reason, notes, prescription_id,
	created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, first_name, last_name, specialty, created_at, updated_at
		FROM doctors
		ORDER BY last_name ASC, first_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListDoctorDayAppointments(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status != 'cancelled'
	`, doctorID, DayStart(day))
	if err != nil {
		return nil, err
	}
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

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	floorID, blockID, roomID := locationColumns(a.Location)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, receptionist_id, date, time, duration_minutes,
			floor_id, block_id, room_id, status, reason, notes, prescription_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.PatientID, a.DoctorID, a.ReceptionistID, DayStart(a.Date), a.Time,
		a.DurationMinutes, floorID, blockID, roomID, a.Status, a.Reason, a.Notes,
		a.PrescriptionID)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expectedUpdatedAt time.Time) (*Appointment, error) {
	floorID, blockID, roomID := locationColumns(a.Location)

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    doctor_id = $3,
		    receptionist_id = $4,
		    date = $5,
		    time = $6,
		    duration_minutes = $7,
		    floor_id = $8,
		    block_id = $9,
		    room_id = $10,
		    status = $11,
		    reason = $12,
		    notes = $13,
		    prescription_id = $14,
		    updated_at = now()
		WHERE id = $1
		  AND updated_at = $15
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.DoctorID, a.ReceptionistID, DayStart(a.Date), a.Time,
		a.DurationMinutes, floorID, blockID, roomID, a.Status, a.Reason, a.Notes,
		a.PrescriptionID, expectedUpdatedAt)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing row from a lost compare-and-set.
		if _, getErr := r.GetAppointmentByID(ctx, a.ID); getErr == nil {
			return nil, ErrStatusChanged
		}
		return nil, ErrAppointmentNotFound
	}
	return appt, err
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing row from a lost compare-and-set.
		if _, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
			return nil, ErrStatusChanged
		}
		return nil, ErrAppointmentNotFound
	}
	return appt, err
}

func (r *PgRepository) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, appointment_id, doctor_id, receptionist_id, type, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, appointment_id, doctor_id, receptionist_id, type, message, status, created_at, sent_at
	`, id, n.AppointmentID, n.DoctorID, n.ReceptionistID, n.Type, n.Message, NotificationPending)

	return scanNotification(row)
}

func (r *PgRepository) ListPendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, doctor_id, receptionist_id, type, message, status, created_at, sent_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent',
		    sent_at = $2
		WHERE id = $1
		  AND status = 'pending'
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

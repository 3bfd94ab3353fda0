package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medsched/clinic-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	DoctorID        string  `json:"doctor_id"`
	Date            string  `json:"date"` // YYYY-MM-DD
	Time            string  `json:"time"` // HH:MM
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	FloorID         *string `json:"floor_id,omitempty"`
	BlockID         *string `json:"block_id,omitempty"`
	RoomID          *string `json:"room_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Status          string  `json:"status,omitempty"`
}

type UpdateAppointmentRequest struct {
	PatientID       *string `json:"patient_id,omitempty"`
	DoctorID        *string `json:"doctor_id,omitempty"`
	Date            *string `json:"date,omitempty"`
	Time            *string `json:"time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Status          *string `json:"status,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type NotifyReceptionistRequest struct {
	ActingDoctorID string `json:"acting_doctor_id,omitempty"` // defaults to the caller
	Type           string `json:"type"`
	Message        string `json:"message"`
}

type LocationResponse struct {
	FloorID uuid.UUID `json:"floor_id"`
	BlockID uuid.UUID `json:"block_id"`
	RoomID  uuid.UUID `json:"room_id"`
}

type AppointmentResponse struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	DoctorID        uuid.UUID         `json:"doctor_id"`
	ReceptionistID  *uuid.UUID        `json:"receptionist_id,omitempty"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	DurationMinutes int               `json:"duration_minutes"`
	Location        *LocationResponse `json:"location,omitempty"`
	Status          string            `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	PrescriptionID  *uuid.UUID        `json:"prescription_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type AvailabilityEntry struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Available bool      `json:"available"`
}

type NotificationResponse struct {
	ID             uuid.UUID `json:"id"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	ReceptionistID uuid.UUID `json:"receptionist_id"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConflictDetails struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	BusyFrom  time.Time `json:"busy_from"`
	BusyUntil time.Time `json:"busy_until"`
}

type ErrorResponse struct {
	Error    string           `json:"error"`
	Details  string           `json:"details,omitempty"`
	Conflict *ConflictDetails `json:"conflict,omitempty"`
}

func toAppointmentResponse(a *schedule.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		ReceptionistID:  a.ReceptionistID,
		Date:            a.Date.Format("2006-01-02"),
		Time:            a.Time,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		PrescriptionID:  a.PrescriptionID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.Location != nil {
		resp.Location = &LocationResponse{
			FloorID: a.Location.FloorID,
			BlockID: a.Location.BlockID,
			RoomID:  a.Location.RoomID,
		}
	}
	return resp
}

func toNotificationResponse(n *schedule.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             n.ID,
		AppointmentID:  n.AppointmentID,
		DoctorID:       n.DoctorID,
		ReceptionistID: n.ReceptionistID,
		Type:           n.Type,
		Message:        n.Message,
		Status:         string(n.Status),
		CreatedAt:      n.CreatedAt,
	}
}

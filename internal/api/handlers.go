package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medsched/clinic-scheduling/internal/auth"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

func createAppointmentHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		createReq := schedule.CreateRequest{
			Time:            req.Time,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
			Notes:           req.Notes,
			Status:          schedule.Status(req.Status),
		}

		if req.PatientID != "" {
			id, err := uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			createReq.PatientID = id
		}
		if req.DoctorID != "" {
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			createReq.DoctorID = id
		}
		if req.Date != "" {
			date, err := parseDate(req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			createReq.Date = date
		}

		loc, err := parseLocation(req.FloorID, req.BlockID, req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_location", err.Error())
			return
		}
		createReq.Location = loc

		appt, err := svc.CreateAppointment(r.Context(), caller, createReq)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), caller, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var updateReq schedule.UpdateRequest
		if req.PatientID != nil {
			pid, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			updateReq.PatientID = &pid
		}
		if req.DoctorID != nil {
			did, err := uuid.Parse(*req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			updateReq.DoctorID = &did
		}
		if req.Date != nil {
			date, err := parseDate(*req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			updateReq.Date = &date
		}
		if req.Time != nil {
			updateReq.Time = req.Time
		}
		if req.DurationMinutes != nil {
			updateReq.DurationMinutes = req.DurationMinutes
		}
		if req.Status != nil {
			status := schedule.Status(*req.Status)
			updateReq.Status = &status
		}
		updateReq.Reason = req.Reason
		updateReq.Notes = req.Notes

		appt, err := svc.UpdateAppointment(r.Context(), caller, id, updateReq)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionHandler(fn func(r *http.Request, caller auth.Identity, id uuid.UUID) (*schedule.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := fn(r, caller, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func notifyReceptionistHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req NotifyReceptionistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actingDoctorID := caller.UserID
		if req.ActingDoctorID != "" {
			actingDoctorID, err = uuid.Parse(req.ActingDoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "acting_doctor_id must be a valid UUID")
				return
			}
		}

		n, err := svc.NotifyReceptionist(r.Context(), caller, id, actingDoctorID, req.Type, req.Message)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toNotificationResponse(n))
	}
}

func checkAvailabilityHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}

		q := r.URL.Query()
		req := schedule.AvailabilityRequest{
			Time:          q.Get("time"),
			OnlyAvailable: q.Get("only_available") == "true",
		}

		if dateStr := q.Get("date"); dateStr != "" {
			date, err := parseDate(dateStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			req.Date = date
		}
		if durStr := q.Get("duration"); durStr != "" {
			dur, err := strconv.Atoi(durStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
				return
			}
			req.DurationMinutes = dur
		}
		for _, idStr := range q["doctor_id"] {
			id, err := uuid.Parse(idStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			req.DoctorIDs = append(req.DoctorIDs, id)
		}

		result, err := svc.CheckAvailability(r.Context(), caller, req)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		entries := make([]AvailabilityEntry, 0, len(result))
		for _, da := range result {
			entries = append(entries, AvailabilityEntry{
				DoctorID:  da.Doctor.ID,
				FirstName: da.Doctor.FirstName,
				LastName:  da.Doctor.LastName,
				Available: da.Available,
			})
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "scheduling_conflict",
			Details: conflict.Error(),
			Conflict: &ConflictDetails{
				DoctorID:  conflict.DoctorID,
				BusyFrom:  conflict.Start,
				BusyUntil: conflict.End,
			},
		})
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, schedule.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "missing_fields", err.Error())
	case errors.Is(err, schedule.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, schedule.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "invalid_duration", err.Error())
	case errors.Is(err, schedule.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, schedule.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, schedule.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, schedule.ErrNotAssignedDoctor):
		writeError(w, http.StatusForbidden, "not_assigned_doctor", err.Error())
	case errors.Is(err, schedule.ErrNoReceptionist):
		writeError(w, http.StatusConflict, "no_receptionist", err.Error())
	case errors.Is(err, schedule.ErrScheduleBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "schedule_busy", "doctor's day is currently being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.Local)
}

func parseLocation(floorID, blockID, roomID *string) (*schedule.Location, error) {
	if floorID == nil && blockID == nil && roomID == nil {
		return nil, nil
	}
	if floorID == nil || blockID == nil || roomID == nil {
		return nil, errors.New("floor_id, block_id and room_id must be provided together")
	}

	ids := make([]uuid.UUID, 3)
	for i, s := range []string{*floorID, *blockID, *roomID} {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.New("location ids must be valid UUIDs")
		}
		ids[i] = id
	}
	return &schedule.Location{FloorID: ids[0], BlockID: ids[1], RoomID: ids[2]}, nil
}

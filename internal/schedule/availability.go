package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medsched/clinic-scheduling/internal/auth"
)

type AvailabilityRequest struct {
	Date            time.Time
	Time            string
	DurationMinutes int // 0 means the configured default
	DoctorIDs       []uuid.UUID
	OnlyAvailable   bool
}

type DoctorAvailability struct {
	Doctor    Doctor
	Available bool
}

// CheckAvailability reports, per doctor, whether booking the candidate
// interval would conflict with that doctor's non-cancelled appointments on
// the same day. Results keep the directory's last-name/first-name ordering.
// The query takes no locks; its answer is a point-in-time snapshot.
func (s *Service) CheckAvailability(ctx context.Context, caller auth.Identity, req AvailabilityRequest) ([]DoctorAvailability, error) {
	if !auth.CanRead(caller.Role) {
		return nil, auth.ErrUnauthorized
	}

	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date", ErrMissingFields)
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = s.cfg.DefaultDuration
	}
	candidate, err := NewInterval(req.Date, req.Time, duration)
	if err != nil {
		return nil, err
	}
	day := DayStart(req.Date)

	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(req.DoctorIDs) > 0 {
		wanted := make(map[uuid.UUID]bool, len(req.DoctorIDs))
		for _, id := range req.DoctorIDs {
			wanted[id] = true
		}
		filtered := doctors[:0]
		for _, d := range doctors {
			if wanted[d.ID] {
				filtered = append(filtered, d)
			}
		}
		doctors = filtered
	}

	result := make([]DoctorAvailability, 0, len(doctors))
	for _, d := range doctors {
		booked, err := s.loadDaySchedule(ctx, d.ID, day, uuid.Nil)
		if err != nil {
			return nil, err
		}
		_, conflict := HasConflict(candidate, booked)
		if req.OnlyAvailable && conflict {
			continue
		}
		result = append(result, DoctorAvailability{Doctor: d, Available: !conflict})
	}

	return result, nil
}

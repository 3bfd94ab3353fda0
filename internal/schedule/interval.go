package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTimeFormat = errors.New("time must be HH:MM with hours 00-23 and minutes 00-59")
	ErrInvalidDuration   = errors.New("duration must be a positive number of minutes")
)

// Interval is a half-open span [Start, End) derived from a calendar date, an
// HH:MM clock value and a duration in minutes. All instants are interpreted
// in the process-local timezone; no offset is stored per appointment.
type Interval struct {
	Start time.Time
	End   time.Time
}

// BookedInterval is one existing booking reduced to its interval, the working
// unit of a doctor's day schedule.
type BookedInterval struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	Interval
}

// NewInterval builds the interval for a candidate booking.
func NewInterval(date time.Time, clock string, durationMinutes int) (Interval, error) {
	hour, minute, err := parseClock(clock)
	if err != nil {
		return Interval{}, err
	}
	if durationMinutes <= 0 {
		return Interval{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, durationMinutes)
	}

	start := DayStart(date).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}

// Overlaps reports whether two half-open intervals share at least one
// instant. The inequalities are strict: a booking ending exactly when
// another begins does not overlap it.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// HasConflict returns the first booked interval overlapping the candidate.
// No ordering is assumed of existing; evaluation stops at the first match.
func HasConflict(candidate Interval, existing []BookedInterval) (*BookedInterval, bool) {
	for i := range existing {
		if candidate.Overlaps(existing[i].Interval) {
			return &existing[i], true
		}
	}
	return nil, false
}

// DayStart truncates t to local midnight, the day-bucket key for all
// scheduling queries.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func parseClock(clock string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(clock, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, clock)
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, clock)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, clock)
	}
	return hour, minute, nil
}

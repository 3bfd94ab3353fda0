package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsched/clinic-scheduling/internal/schedule"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

func mustInterval(t *testing.T, clock string, duration int) schedule.Interval {
	t.Helper()
	iv, err := schedule.NewInterval(day, clock, duration)
	require.NoError(t, err)
	return iv
}

func TestNewInterval(t *testing.T) {
	iv, err := schedule.NewInterval(day, "09:15", 30)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 1, 9, 15, 0, 0, time.Local), iv.Start)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 45, 0, 0, time.Local), iv.End)
}

func TestNewInterval_TruncatesDateToMidnight(t *testing.T) {
	noon := time.Date(2024, 5, 1, 12, 37, 9, 0, time.Local)
	iv, err := schedule.NewInterval(noon, "08:00", 15)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local), iv.Start)
}

func TestNewInterval_InvalidTime(t *testing.T) {
	for _, clock := range []string{"25:61", "24:00", "09:60", "9:30", "09-30", "0930", "", "ab:cd"} {
		_, err := schedule.NewInterval(day, clock, 30)
		assert.ErrorIs(t, err, schedule.ErrInvalidTimeFormat, "clock %q", clock)
	}
}

func TestNewInterval_InvalidDuration(t *testing.T) {
	for _, d := range []int{0, -1, -30} {
		_, err := schedule.NewInterval(day, "09:00", d)
		assert.ErrorIs(t, err, schedule.ErrInvalidDuration, "duration %d", d)
	}
}

func TestOverlaps(t *testing.T) {
	nine := mustInterval(t, "09:00", 30)
	nineFifteen := mustInterval(t, "09:15", 30)
	nineThirty := mustInterval(t, "09:30", 30)
	ten := mustInterval(t, "10:00", 60)

	assert.True(t, nine.Overlaps(nineFifteen))
	assert.True(t, nineFifteen.Overlaps(nineThirty))
	assert.False(t, nine.Overlaps(ten))

	// back-to-back intervals never overlap
	assert.False(t, nine.Overlaps(nineThirty))
	assert.False(t, nineThirty.Overlaps(nine))

	// containment
	long := mustInterval(t, "08:00", 240)
	assert.True(t, long.Overlaps(nine))
	assert.True(t, nine.Overlaps(long))
}

func TestOverlaps_SymmetricAndReflexive(t *testing.T) {
	clocks := []string{"08:00", "08:30", "09:00", "09:10", "09:45", "13:00"}
	durations := []int{10, 15, 30, 60}

	var intervals []schedule.Interval
	for _, c := range clocks {
		for _, d := range durations {
			intervals = append(intervals, mustInterval(t, c, d))
		}
	}

	for _, a := range intervals {
		assert.True(t, a.Overlaps(a))
		for _, b := range intervals {
			assert.Equal(t, a.Overlaps(b), b.Overlaps(a))
		}
	}
}

func TestHasConflict(t *testing.T) {
	booked := []schedule.BookedInterval{
		{Interval: mustInterval(t, "09:00", 30)},
		{Interval: mustInterval(t, "11:00", 30)},
	}

	_, found := schedule.HasConflict(mustInterval(t, "09:15", 30), booked)
	assert.True(t, found)

	hit, found := schedule.HasConflict(mustInterval(t, "11:15", 15), booked)
	assert.True(t, found)
	assert.Equal(t, booked[1].Start, hit.Start)

	_, found = schedule.HasConflict(mustInterval(t, "09:30", 30), booked)
	assert.False(t, found)

	_, found = schedule.HasConflict(mustInterval(t, "10:00", 60), nil)
	assert.False(t, found)
}

func TestDayStart(t *testing.T) {
	noon := time.Date(2024, 5, 1, 13, 45, 12, 999, time.Local)
	assert.Equal(t, day, schedule.DayStart(noon))
	assert.Equal(t, day, schedule.DayStart(day))
}

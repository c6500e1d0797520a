package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func weekdayWindow() *BusinessWindow {
	return &BusinessWindow{
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		Start: "08:00",
		End:   "18:00",
	}
}

func TestElapsedNilWindowIsWallClock(t *testing.T) {
	var w *BusinessWindow
	from := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC) // Friday
	to := from.Add(72 * time.Hour)

	assert.Equal(t, 72*time.Hour, w.Elapsed(from, to))
}

func TestElapsedSkipsWeekend(t *testing.T) {
	w := weekdayWindow()

	// Friday 17:00 to Friday 17:30 — half an hour inside the window.
	from := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, w.Elapsed(from, from.Add(30*time.Minute)))

	// Friday 17:00 to Monday 09:30 — one hour Friday, 1.5 hours Monday;
	// the weekend contributes nothing.
	monday := time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, 150*time.Minute, w.Elapsed(from, monday))
}

func TestElapsedOutsideDailyHours(t *testing.T) {
	w := weekdayWindow()

	// Tuesday 06:00 to Tuesday 07:00 — entirely before opening.
	from := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), w.Elapsed(from, from.Add(time.Hour)))

	// Tuesday 06:00 to Wednesday 09:00 — full Tuesday (10h) plus one
	// Wednesday hour.
	wed := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 11*time.Hour, w.Elapsed(from, wed))
}

func TestElapsedSkipsHolidays(t *testing.T) {
	w := weekdayWindow()
	w.Holidays = []string{"2026-03-04"} // Wednesday

	from := time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC) // Tuesday 17:00
	to := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)    // Thursday 09:00

	// One Tuesday hour plus one Thursday hour; the holiday contributes nothing.
	assert.Equal(t, 2*time.Hour, w.Elapsed(from, to))
}

func TestElapsedNeverNegative(t *testing.T) {
	w := weekdayWindow()
	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), w.Elapsed(at, at))
	assert.Equal(t, time.Duration(0), w.Elapsed(at, at.Add(-time.Hour)))
}

func TestAddCrossesWeekend(t *testing.T) {
	w := weekdayWindow()

	// 4 business hours from Friday 16:00: 2h Friday, 2h Monday.
	start := time.Date(2026, 3, 6, 16, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, want, w.Add(start, 4*time.Hour))
}

func TestAddStartingOutsideWindow(t *testing.T) {
	w := weekdayWindow()

	// Saturday start rolls forward to Monday opening.
	start := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC) // Monday 08:00 + 1h
	assert.Equal(t, want, w.Add(start, time.Hour))
}

func TestAddDegenerateWindowFallsBack(t *testing.T) {
	w := &BusinessWindow{Weekdays: nil, Start: "08:00", End: "18:00"}
	start := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	// No working days at all: fall back to wall-clock addition instead
	// of scanning forever.
	assert.Equal(t, start.Add(3*time.Hour), w.Add(start, 3*time.Hour))
}

func TestElapsedHonorsTimezone(t *testing.T) {
	w := weekdayWindow()
	w.Timezone = "America/New_York"

	// 13:00 UTC on a March Tuesday is 08:00 or 09:00 in New York depending
	// on DST; either way, 14:00 UTC is one business hour later.
	from := time.Date(2026, 3, 3, 13, 0, 0, 0, time.UTC)
	got := w.Elapsed(from, from.Add(time.Hour))
	assert.Equal(t, time.Hour, got)
}

func TestHoursToDuration(t *testing.T) {
	assert.Equal(t, 90*time.Minute, HoursToDuration(1.5))
	assert.Equal(t, 48*time.Hour, HoursToDuration(48))
}

package domain

import (
	"time"
)

// BusinessWindow restricts elapsed-time accounting to working hours. Time
// outside the weekday/hour window and on listed holidays does not count toward
// a request's time limit, reminder or escalation thresholds. A nil window
// means plain wall-clock time.
type BusinessWindow struct {
	Weekdays []time.Weekday `json:"weekdays"`           // e.g. Monday..Friday
	Start    string         `json:"start"`              // "08:00", window-local
	End      string         `json:"end"`                // "18:00", window-local
	Timezone string         `json:"timezone,omitempty"` // IANA name; default UTC
	Holidays []string       `json:"holidays,omitempty"` // "2006-01-02" dates
}

// maxCalendarScan bounds day-by-day walks so a degenerate window (no working
// days) cannot loop forever.
const maxCalendarScan = 366 * 5

// Elapsed returns the business time between from and to. With a nil window it
// is plain wall-clock difference. Never negative.
func (w *BusinessWindow) Elapsed(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	if w == nil {
		return to.Sub(from)
	}

	loc := w.location()
	from, to = from.In(loc), to.In(loc)

	var total time.Duration
	day := midnight(from)
	for i := 0; !day.After(to) && i < maxCalendarScan; i++ {
		if w.workingDay(day) {
			open, close := w.dayBounds(day)
			lo, hi := laterOf(open, from), earlierOf(close, to)
			if hi.After(lo) {
				total += hi.Sub(lo)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

// Add returns the instant at which d business time has elapsed after start.
// With a nil window it is plain addition. If the window never opens within the
// scan horizon the wall-clock sum is returned instead.
func (w *BusinessWindow) Add(start time.Time, d time.Duration) time.Time {
	if w == nil || d <= 0 {
		return start.Add(d)
	}

	loc := w.location()
	t := start.In(loc)
	remaining := d

	day := midnight(t)
	for i := 0; i < maxCalendarScan; i++ {
		if w.workingDay(day) {
			open, close := w.dayBounds(day)
			lo := laterOf(open, t)
			if close.After(lo) {
				available := close.Sub(lo)
				if available >= remaining {
					return lo.Add(remaining)
				}
				remaining -= available
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return start.Add(d)
}

// workingDay reports whether the date (midnight, window-local) is a configured
// weekday and not a holiday.
func (w *BusinessWindow) workingDay(day time.Time) bool {
	ok := false
	for _, wd := range w.Weekdays {
		if day.Weekday() == wd {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	date := day.Format("2006-01-02")
	for _, h := range w.Holidays {
		if h == date {
			return false
		}
	}
	return true
}

// dayBounds returns the open and close instants for a working date.
func (w *BusinessWindow) dayBounds(day time.Time) (time.Time, time.Time) {
	sh, sm := parseHHMM(w.Start, 0, 0)
	eh, em := parseHHMM(w.End, 23, 59)
	open := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, day.Location())
	close := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, day.Location())
	return open, close
}

func (w *BusinessWindow) location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseHHMM(s string, defHour, defMin int) (int, int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return defHour, defMin
	}
	return t.Hour(), t.Minute()
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// HoursToDuration converts a fractional hour count to a Duration.
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

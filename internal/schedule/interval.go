package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned when an interval's start is not before its end.
var ErrInvalidInterval = errors.New("interval start must be before end")

// ClockMinutes is a time of day expressed as minutes since midnight.
type ClockMinutes int

// ParseClock parses a "15:04" clock string into minutes since midnight.
func ParseClock(s string) (ClockMinutes, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return ClockMinutes(t.Hour()*60 + t.Minute()), nil
}

// String renders the clock value back to "15:04" form.
func (c ClockMinutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Interval is a half-open [Start, End) slot within one day.
type Interval struct {
	Start ClockMinutes
	End   ClockMinutes
}

// NewInterval builds a validated interval. Degenerate intervals are rejected
// here so Overlaps can assume well-formed input.
func NewInterval(start, end ClockMinutes) (Interval, error) {
	if start >= end {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals intersect. An interval
// ending exactly when another begins does not overlap, so back-to-back
// bookings are legal.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

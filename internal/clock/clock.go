// Package clock converts between wall-clock timestamps and work-day offsets.
package clock

import (
	"fmt"
	"math"
	"strings"
	"time"
	_ "time/tzdata"
)

const DateLayout = "2006-01-02"

// ParseHHMM parses a "15:04" clock value into minutes since midnight.
func ParseHHMM(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DateOf returns midnight of t's calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// At returns the instant minutes after midnight, in loc, of the calendar day
// date names. date's own zone only supplies the year, month and day.
func At(date time.Time, minutes int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(minutes) * time.Minute)
}

// MinutesSinceMidnight truncates to whole minutes, seconds are dropped.
func MinutesSinceMidnight(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

func ElapsedMinutes(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}

// WorkedHours is elapsed time minus break minutes, floored at zero.
func WorkedHours(timeIn, timeOut time.Time, breakMinutes float64) float64 {
	worked := ElapsedMinutes(timeIn, timeOut) - breakMinutes
	return math.Max(0, worked) / 60
}

// WholeMinutes rounds a duration down to whole minutes.
func WholeMinutes(d time.Duration) int {
	return int(math.Floor(d.Minutes()))
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

func LoadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

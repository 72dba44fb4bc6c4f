package utils

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day layout used in configuration.
const DateLayout = "2006-01-02"

// ParseDate returns the UTC midnight for a YYYY-MM-DD value.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date: %w", err)
	}
	return t, nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDays returns n consecutive days starting the day after last.
func NextDays(last time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	base := Day(last)
	days := make([]time.Time, n)
	for i := range days {
		days[i] = base.AddDate(0, 0, i+1)
	}
	return days
}

// IsNextDay reports whether b is exactly one calendar day after a.
func IsNextDay(a, b time.Time) bool {
	return Day(a).AddDate(0, 0, 1).Equal(b)
}

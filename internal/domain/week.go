package domain

import (
	"fmt"
	"time"
)

// WeekBounds returns the Monday 00:00 UTC start of t's ISO week, the
// following Monday, and the stable week id ("2025-W28").
func WeekBounds(t time.Time) (start, end time.Time, id string) {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	end = start.AddDate(0, 0, 7)
	return start, end, WeekID(start)
}

// WeekID formats t's ISO year and week as "YYYY-Www".
func WeekID(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// PreviousWeekID returns the id of the ISO week before the one containing t.
func PreviousWeekID(t time.Time) string {
	start, _, _ := WeekBounds(t)
	return WeekID(start.AddDate(0, 0, -7))
}

// UTCDate returns t's calendar date in UTC as DateLayout.
func UTCDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

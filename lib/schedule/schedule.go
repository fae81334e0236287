// Package schedule holds the pure due-date logic for saved searches and
// digests. It performs no I/O; callers pass in "now" explicitly so batch
// runs are deterministic under a --now override.
package schedule

import (
	"time"

	"github.com/lunen/jobwatch/lib/models"
)

// IsDue reports whether a schedule with the given frequency should fire at
// now, given the last successful send. lastSent is the zero time when
// nothing has been sent yet.
//
//   - daily: due unless lastSent falls on the same calendar day as now.
//   - weekly: due when now's weekday matches dayOfWeek (1=Monday..7=Sunday)
//     and lastSent is before the start of the current week.
//   - monthly: due when now's day matches dayOfMonth and lastSent is before
//     the start of the current month. A dayOfMonth past the end of a short
//     month fires on that month's last day, so day 31 still fires in
//     February.
func IsDue(freq models.Frequency, dayOfWeek, dayOfMonth int, lastSent, now time.Time) bool {
	switch freq {
	case models.Daily:
		if lastSent.IsZero() {
			return true
		}
		return !sameDay(lastSent, now)

	case models.Weekly:
		if isoWeekday(now) != dayOfWeek {
			return false
		}
		return lastSent.IsZero() || lastSent.Before(startOfWeek(now))

	case models.Monthly:
		if now.Day() != clampDayOfMonth(dayOfMonth, now) {
			return false
		}
		return lastSent.IsZero() || lastSent.Before(startOfMonth(now))
	}
	return false
}

// ReportWindow returns the period covered by a send at now: one day, one
// week or one month back. It only feeds the human-readable "items since"
// label in emails; it never filters the upstream feed call.
func ReportWindow(freq models.Frequency, now time.Time) (start, end time.Time) {
	switch freq {
	case models.Daily:
		start = now.AddDate(0, 0, -1)
	case models.Weekly:
		start = now.AddDate(0, 0, -7)
	case models.Monthly:
		start = now.AddDate(0, -1, 0)
	default:
		start = now
	}
	return start, now
}

// clampDayOfMonth resolves a configured day-of-month against the month
// containing t, clamping to the month's last day.
func clampDayOfMonth(dayOfMonth int, t time.Time) int {
	if last := daysInMonth(t); dayOfMonth > last {
		return last
	}
	return dayOfMonth
}

func daysInMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// isoWeekday maps time.Weekday (Sunday=0) onto 1=Monday..7=Sunday.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfWeek(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, -(isoWeekday(t) - 1))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

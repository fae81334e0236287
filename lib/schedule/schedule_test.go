package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lunen/jobwatch/lib/models"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsDue_Daily(t *testing.T) {
	now := ts("2024-06-12T09:00:00Z")

	assert.True(t, IsDue(models.Daily, 0, 0, time.Time{}, now), "never sent")
	assert.False(t, IsDue(models.Daily, 0, 0, now, now), "just sent")
	assert.False(t, IsDue(models.Daily, 0, 0, ts("2024-06-12T01:00:00Z"), now), "sent earlier today")
	assert.True(t, IsDue(models.Daily, 0, 0, ts("2024-06-11T23:59:00Z"), now), "sent yesterday")
}

func TestIsDue_Weekly(t *testing.T) {
	// 2024-06-12 is a Wednesday.
	wednesday := ts("2024-06-12T09:00:00Z")

	assert.True(t, IsDue(models.Weekly, models.Wednesday, 0, time.Time{}, wednesday))
	assert.False(t, IsDue(models.Weekly, models.Thursday, 0, time.Time{}, wednesday), "wrong weekday")

	// Sent this morning; re-evaluating the same evening must not re-fire.
	evening := ts("2024-06-12T18:00:00Z")
	assert.False(t, IsDue(models.Weekly, models.Wednesday, 0, wednesday, evening))

	// Next Wednesday it fires again.
	nextWednesday := ts("2024-06-19T09:00:00Z")
	assert.True(t, IsDue(models.Weekly, models.Wednesday, 0, wednesday, nextWednesday))

	// Sent on Monday of the same week counts as within the current week.
	assert.False(t, IsDue(models.Weekly, models.Wednesday, 0, ts("2024-06-10T08:00:00Z"), wednesday))

	// Sent on Sunday of the previous week does not.
	assert.True(t, IsDue(models.Weekly, models.Wednesday, 0, ts("2024-06-09T08:00:00Z"), wednesday))
}

func TestIsDue_Monthly(t *testing.T) {
	assert.True(t, IsDue(models.Monthly, 0, 15, time.Time{}, ts("2024-06-15T09:00:00Z")))
	assert.False(t, IsDue(models.Monthly, 0, 15, time.Time{}, ts("2024-06-14T09:00:00Z")))

	sent := ts("2024-06-15T09:00:00Z")
	assert.False(t, IsDue(models.Monthly, 0, 15, sent, ts("2024-06-15T18:00:00Z")), "already sent this month")
	assert.True(t, IsDue(models.Monthly, 0, 15, sent, ts("2024-07-15T09:00:00Z")), "next month")
}

func TestIsDue_MonthlyClampsToShortMonths(t *testing.T) {
	// Day 31 fires on the last day of shorter months rather than skipping.
	assert.True(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2024-02-29T09:00:00Z")), "leap February")
	assert.True(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2023-02-28T09:00:00Z")), "February")
	assert.True(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2024-04-30T09:00:00Z")), "30-day month")
	assert.False(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2024-04-29T09:00:00Z")))
	assert.True(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2024-05-31T09:00:00Z")), "31-day month")
	assert.False(t, IsDue(models.Monthly, 0, 31, time.Time{}, ts("2024-05-30T09:00:00Z")), "not clamped in 31-day month")
}

func TestIsDue_UnknownFrequency(t *testing.T) {
	assert.False(t, IsDue(models.Frequency("hourly"), 0, 0, time.Time{}, ts("2024-06-12T09:00:00Z")))
}

func TestReportWindow(t *testing.T) {
	now := ts("2024-06-12T09:00:00Z")

	start, end := ReportWindow(models.Daily, now)
	assert.Equal(t, ts("2024-06-11T09:00:00Z"), start)
	assert.Equal(t, now, end)

	start, _ = ReportWindow(models.Weekly, now)
	assert.Equal(t, ts("2024-06-05T09:00:00Z"), start)

	start, _ = ReportWindow(models.Monthly, now)
	assert.Equal(t, ts("2024-05-12T09:00:00Z"), start)
}

func TestIsoWeekday(t *testing.T) {
	assert.Equal(t, models.Monday, isoWeekday(ts("2024-06-10T00:00:00Z")))
	assert.Equal(t, models.Sunday, isoWeekday(ts("2024-06-16T00:00:00Z")))
}

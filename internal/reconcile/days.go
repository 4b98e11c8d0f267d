package reconcile

import (
	"time"

	"schedulr/internal/model"
)

// startOfDay truncates t to midnight of its calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayRange returns the first and the last calendar day (inclusive) an event
// occupies in loc.
//
// A timed event with positive duration that ends exactly at midnight does not
// occupy the day that midnight starts: 23:00–00:00 stays on its first day.
func DayRange(ev model.RawEvent, loc *time.Location) (startDay, endDayInclusive time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	end := clampEnd(ev.StartAt, ev.EndAt)

	startDay = startOfDay(ev.StartAt, loc)
	endDayInclusive = startOfDay(end, loc)

	if !ev.IsAllDay && end.After(ev.StartAt) && end.In(loc).Equal(endDayInclusive) {
		endDayInclusive = endDayInclusive.AddDate(0, 0, -1)
	}
	if endDayInclusive.Before(startDay) {
		endDayInclusive = startDay
	}
	return startDay, endDayInclusive
}

// WeekDays returns the 7 calendar days of the week containing anchor, in
// anchor's location, starting on weekStart.
func WeekDays(anchor time.Time, weekStart time.Weekday) []time.Time {
	loc := anchor.Location()
	day := startOfDay(anchor, loc)

	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	first := day.AddDate(0, 0, -offset)

	days := make([]time.Time, 7)
	for i := range days {
		days[i] = first.AddDate(0, 0, i)
	}
	return days
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

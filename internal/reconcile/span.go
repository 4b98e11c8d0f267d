package reconcile

import (
	"time"

	"schedulr/internal/model"
)

// ProjectSegments computes the horizontal bars multi-day events occupy in one
// displayed week. weekDays must hold exactly 7 ascending calendar days; any
// other length yields an empty result. The calendar of the projection is the
// location of weekDays[0].
//
// Single-day events and events outside the week are skipped. Input order is
// preserved.
func ProjectSegments(events []model.DisplayEvent, weekDays []time.Time) []model.MultiDaySpanSegment {
	out := make([]model.MultiDaySpanSegment, 0)
	if len(weekDays) != 7 {
		return out
	}

	loc := weekDays[0].Location()
	days := make([]time.Time, len(weekDays))
	for i, d := range weekDays {
		days[i] = startOfDay(d, loc)
	}
	weekStart, weekEnd := days[0], days[6]

	for _, ev := range events {
		startDay, endDay := DayRange(ev.Representative, loc)
		if startDay.Equal(endDay) {
			continue
		}
		if endDay.Before(weekStart) || startDay.After(weekEnd) {
			continue
		}

		startIndex := 0
		if startDay.After(weekStart) {
			startIndex = indexOfDay(days, startDay, 0)
		}
		endIndex := 6
		if endDay.Before(weekEnd) {
			endIndex = indexOfDay(days, endDay, 6)
		}

		out = append(out, model.MultiDaySpanSegment{
			Event:                 ev,
			WeekStart:             weekStart,
			StartIndex:            startIndex,
			EndIndex:              endIndex,
			ContinuesFromPrevious: startDay.Before(weekStart),
			ContinuesToNext:       endDay.After(weekEnd),
		})
	}
	return out
}

// indexOfDay finds day in days by calendar date, returning fallback when it is
// not there.
func indexOfDay(days []time.Time, day time.Time, fallback int) int {
	for i, d := range days {
		if sameDay(d, day) {
			return i
		}
	}
	return fallback
}

// Package reconcile merges calendar events synced from many members into one
// deduplicated display list and projects multi-day events onto a week grid.
//
// Everything in this package is a pure function of its arguments: no I/O, no
// package-level state, no clock reads. Callers pass the viewer, the current
// time and the filters explicitly, and the time zone of now is the calendar
// used for all day arithmetic.
package reconcile

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedulr/internal/model"
)

// syntheticIDSpace namespaces IDs generated for records that arrive without one.
var syntheticIDSpace = uuid.MustParse("5b0f5d8e-6f57-4c8e-9d0a-3c1f1e7a2b44")

// NormalizationKey returns the canonical grouping key of ev. Two independently
// synced copies of the same real-world event produce the same key.
//
// All-day events are keyed by the calendar day of StartAt in loc; timed events
// by StartAt and EndAt rounded to the nearest minute, which absorbs sync jitter
// between copies.
func NormalizationKey(ev model.RawEvent, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	title := normalizeTitle(ev.Title)

	if ev.IsAllDay {
		day := startOfDay(ev.StartAt, loc)
		return "allday:" + strconv.FormatInt(day.Unix(), 10) + ":" + title
	}

	start := roundMinute(ev.StartAt)
	end := roundMinute(clampEnd(ev.StartAt, ev.EndAt))
	return "timed:" + strconv.FormatInt(start.Unix(), 10) + ":" + strconv.FormatInt(end.Unix(), 10) + ":" + title
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// roundMinute rounds t to the nearest minute; a half minute rounds up.
func roundMinute(t time.Time) time.Time {
	return t.Round(time.Minute)
}

func clampEnd(start, end time.Time) time.Time {
	if end.Before(start) {
		return start
	}
	return end
}

// sanitize repairs what upstream sync sources get wrong without dropping the
// record: inverted ranges collapse to zero length and a missing ID is derived
// from the record's content so repeated passes agree on it.
func sanitize(ev model.RawEvent) model.RawEvent {
	ev.EndAt = clampEnd(ev.StartAt, ev.EndAt)
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = syntheticID(ev)
	}
	return ev
}

func syntheticID(ev model.RawEvent) string {
	name := strings.Join([]string{
		ev.OwnerID,
		strconv.FormatInt(ev.StartAt.UnixNano(), 10),
		strconv.FormatInt(ev.EndAt.UnixNano(), 10),
		strconv.FormatBool(ev.IsAllDay),
		ev.Title,
	}, "\x1f")
	return uuid.NewSHA1(syntheticIDSpace, []byte(name)).String()
}

// isHolidayOrBirthday matches entries from holiday and birthday calendars.
func isHolidayOrBirthday(ev model.RawEvent) bool {
	for _, s := range []string{ev.Title, ev.CalendarName} {
		s = strings.ToLower(s)
		if strings.Contains(s, "holiday") || strings.Contains(s, "birthday") {
			return true
		}
	}
	return false
}

package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedulr/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is a single concrete instance of a VEVENT, after recurrence
// expansion, in the display location.
type Occurrence struct {
	Source Source
	UID    string

	// InstanceKey tells instances of one recurring event apart: the
	// original start in RFC 3339.
	InstanceKey string

	Summary      string
	Location     string
	CalendarName string

	AllDay bool
	Start  time.Time
	End    time.Time
}

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to. All-day
	// occurrences keep their calendar date in it. Nil means UTC.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences returned (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules; zero uses the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences.
type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into occurrences within the range.
// It handles single events, RRULE recurrences, EXDATE exceptions and
// RECURRENCE-ID overrides. The result is ordered by start, then UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]Occurrence, 0)
	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false
		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			truncated = truncated || hitCap
			out = append(out, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("ics expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	result.Occurrences = out
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}

	key := ev.Start
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		start, end = o.Start, o.End
		ev = o
	}
	return []Occurrence{makeOccurrence(ev, key, start, end, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event's duration so instances that
	// started before the range but still run into it are kept.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(starts))
	consumed := make(map[int64]bool, len(overrides))
	for _, occStart := range starts {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = day
			occEnd = day.AddDate(0, 0, int(dur.Hours()/24+0.5))
			if !occEnd.After(occStart) {
				occEnd = day.AddDate(0, 0, 1)
			}
		}

		base, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			consumed[o.Recurrence.UnixNano()] = true
			if !timeRangesOverlap(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
				continue
			}
			base, start, end = o, o.Start, o.End
		}
		out = append(out, makeOccurrence(base, occStart, start, end, cfg.DisplayLocation))
	}

	// An instance moved into the range from outside it is not among starts.
	for _, o := range overrides {
		if o.Recurrence == nil || consumed[o.Recurrence.UnixNano()] || isExcluded(ev.ExDates, *o.Recurrence) {
			continue
		}
		if !timeRangesOverlap(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		consumed[o.Recurrence.UnixNano()] = true
		out = append(out, makeOccurrence(o, *o.Recurrence, o.Start, o.End, cfg.DisplayLocation))
	}
	return out, hitCap
}

func isExcluded(exDates []time.Time, t time.Time) bool {
	for _, ex := range exDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals the
// instance's original start.
func findOverrideForStart(overrides []ParsedEvent, originalStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(originalStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts an instance into the display location. key is the
// instance's original start, which stays stable when an override moves it.
func makeOccurrence(ev ParsedEvent, key, start, end time.Time, displayLoc *time.Location) Occurrence {
	if ev.AllDay {
		start = floatDate(start, displayLoc)
		end = floatDate(end, displayLoc)
	} else {
		start = start.In(displayLoc)
		end = end.In(displayLoc)
	}

	return Occurrence{
		Source:       ev.Source,
		UID:          ev.UID,
		InstanceKey:  key.UTC().Format(time.RFC3339Nano),
		Summary:      ev.Summary,
		Location:     ev.Location,
		CalendarName: ev.CalendarName,
		AllDay:       ev.AllDay,
		Start:        start,
		End:          end,
	}
}

// floatDate keeps the calendar date of t and places midnight of it in loc.
// All-day events are dates, not instants.
func floatDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

package reconcile

import (
	"cmp"
	"slices"
	"time"

	"schedulr/internal/model"
)

// cluster accumulates the records sharing one grouping key, in input order.
type cluster struct {
	members []model.RawEvent
}

// BuildDisplayEvents turns a batch of raw events into the ordered list of
// display events the viewer sees.
//
// The pass, in order:
//   - records are sanitized (inverted ranges clamped, missing IDs derived);
//   - events that ended before now are dropped, EndAt == now is kept;
//   - holiday and birthday entries are dropped when filters.HideHolidays;
//   - records repeating an ID already seen are dropped, the first wins;
//   - the rest are clustered by NormalizationKey. A cluster counts as shared
//     only when it holds more than one ID from more than one owner;
//   - the result is sorted by start, end, then ID.
//
// The representative of a cluster is its first record in input order. The
// time zone of now is the calendar used for all-day keys and day bounds.
// BuildDisplayEvents never fails; it always returns a non-nil slice.
func BuildDisplayEvents(events []model.RawEvent, viewerID string, now time.Time, filters model.Filters) []model.DisplayEvent {
	loc := now.Location()

	// Exact-identity pass: literal redelivery of the same record collapses
	// without counting as sharing.
	seen := make(map[string]struct{}, len(events))
	unique := make([]model.RawEvent, 0, len(events))
	for _, raw := range events {
		ev := sanitize(raw)
		if ev.EndAt.Before(now) {
			continue
		}
		if filters.HideHolidays && isHolidayOrBirthday(ev) {
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		unique = append(unique, ev)
	}

	// Fuzzy pass. Map iteration order is random, so clusters are kept in
	// order of their first record.
	byKey := make(map[string]*cluster, len(unique))
	order := make([]*cluster, 0, len(unique))
	for _, ev := range unique {
		key := groupingKey(ev, loc, filters)
		c, ok := byKey[key]
		if !ok {
			c = &cluster{}
			byKey[key] = c
			order = append(order, c)
		}
		c.members = append(c.members, ev)
	}

	out := make([]model.DisplayEvent, 0, len(order))
	for _, c := range order {
		out = append(out, newDisplayEvent(c.members, viewerID, loc))
	}

	slices.SortStableFunc(out, compareDisplayEvents)
	return out
}

// groupingKey is NormalizationKey, except that all-day events keep a cluster
// of their own when all-day deduplication is disabled.
func groupingKey(ev model.RawEvent, loc *time.Location, filters model.Filters) string {
	key := NormalizationKey(ev, loc)
	if ev.IsAllDay && !filters.DedupAllDay {
		key += ":id:" + ev.ID
	}
	return key
}

func newDisplayEvent(members []model.RawEvent, viewerID string, loc *time.Location) model.DisplayEvent {
	ids := make(map[string]struct{}, len(members))
	owners := make(map[string]struct{}, len(members))
	for _, ev := range members {
		ids[ev.ID] = struct{}{}
		owners[ev.OwnerID] = struct{}{}
	}

	shared := 1
	if len(ids) > 1 && len(owners) > 1 {
		shared = len(ids)
	}

	ownerIDs := make([]string, 0, len(owners))
	for id := range owners {
		ownerIDs = append(ownerIDs, id)
	}
	slices.Sort(ownerIDs)

	rep := members[0]
	startDay, endDay := DayRange(rep, loc)
	return model.DisplayEvent{
		Representative:  rep,
		SharedCount:     shared,
		OwnerIDs:        ownerIDs,
		ViewerID:        viewerID,
		StartDay:        startDay,
		EndDayInclusive: endDay,
		IsMultiDay:      !startDay.Equal(endDay),
	}
}

func compareDisplayEvents(a, b model.DisplayEvent) int {
	ra, rb := a.Representative, b.Representative
	if c := ra.StartAt.Compare(rb.StartAt); c != 0 {
		return c
	}
	if c := ra.EndAt.Compare(rb.EndAt); c != 0 {
		return c
	}
	return cmp.Compare(ra.ID, rb.ID)
}

// SameMonthAsFirst keeps the events whose start falls in the calendar month
// of the first event, evaluated in loc. It is a presentation policy layered on
// top of BuildDisplayEvents, used by the upcoming-events list.
func SameMonthAsFirst(events []model.DisplayEvent, loc *time.Location) []model.DisplayEvent {
	out := make([]model.DisplayEvent, 0, len(events))
	if len(events) == 0 {
		return out
	}
	if loc == nil {
		loc = time.UTC
	}
	fy, fm, _ := events[0].Representative.StartAt.In(loc).Date()
	for _, d := range events {
		y, m, _ := d.Representative.StartAt.In(loc).Date()
		if y == fy && m == fm {
			out = append(out, d)
		}
	}
	return out
}

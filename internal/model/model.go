package model

import "time"

// EventType tells whether a calendar entry is a member's private entry or
// an event created for a group.
type EventType string

const (
	EventTypePersonal EventType = "personal"
	EventTypeGroup    EventType = "group"
)

func (t EventType) String() string {
	return string(t)
}

// ParseEventType maps a free-form value onto EventType. Anything that is not
// "group" is treated as personal so unknown upstream values stay private.
func ParseEventType(s string) EventType {
	if s == string(EventTypeGroup) {
		return EventTypeGroup
	}
	return EventTypePersonal
}

// RawEvent is one calendar entry as delivered by a sync source, before any
// deduplication. A RawEvent is never mutated once ingested; an update is a new
// RawEvent carrying the same ID.
type RawEvent struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	// GroupID is empty for personal events not shared with a group.
	GroupID string `json:"group_id,omitempty"`

	Title string `json:"title"`

	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	IsAllDay bool      `json:"is_all_day"`

	Location     string `json:"location,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`

	EventType EventType `json:"event_type"`
}

// Duration returns EndAt-StartAt, never negative.
func (e RawEvent) Duration() time.Duration {
	if e.EndAt.Before(e.StartAt) {
		return 0
	}
	return e.EndAt.Sub(e.StartAt)
}

// Filters are the caller-selectable policies of a reconciliation pass.
type Filters struct {
	// HideHolidays drops holiday and birthday entries.
	HideHolidays bool `yaml:"hide_holidays" json:"hide_holidays"`
	// DedupAllDay lets all-day events from different members collapse
	// into one display event. When false every all-day record stands alone.
	DedupAllDay bool `yaml:"dedup_all_day" json:"dedup_all_day"`
}

// DefaultFilters returns the filters used when nothing is configured.
func DefaultFilters() Filters {
	return Filters{
		HideHolidays: false,
		DedupAllDay:  true,
	}
}

// BusyTitle replaces the title of other members' personal events.
const BusyTitle = "Busy"

// DisplayEvent is a deduplicated cluster of one or more RawEvents. It is
// recomputed on every refresh and has no identity beyond that pass.
type DisplayEvent struct {
	Representative RawEvent

	// SharedCount is the number of distinct records from distinct owners
	// that collapsed into this event; 1 when nothing was shared.
	SharedCount int

	// OwnerIDs lists every member that contributed a record, sorted.
	OwnerIDs []string

	// ViewerID is the member the list was built for. It only drives
	// read-time redaction (Title, Location, Redacted).
	ViewerID string

	// Calendar-day bounds, truncated in the zone of the pass.
	StartDay        time.Time
	EndDayInclusive time.Time
	IsMultiDay      bool
}

// Redacted reports whether the viewer must not see the event's details:
// the representative is someone else's personal event.
func (d DisplayEvent) Redacted() bool {
	return d.Representative.EventType != EventTypeGroup &&
		d.Representative.OwnerID != d.ViewerID
}

// Title returns the title shown to the viewer.
func (d DisplayEvent) Title() string {
	if d.Redacted() {
		return BusyTitle
	}
	return d.Representative.Title
}

// Location returns the location shown to the viewer.
func (d DisplayEvent) Location() string {
	if d.Redacted() {
		return ""
	}
	return d.Representative.Location
}

// MultiDaySpanSegment is the part of a multi-day event that falls into one
// displayed week. StartIndex and EndIndex address the week's 7 columns.
type MultiDaySpanSegment struct {
	Event     DisplayEvent
	WeekStart time.Time

	StartIndex int
	EndIndex   int

	ContinuesFromPrevious bool
	ContinuesToNext       bool
}

package web

import (
	"time"

	"schedulr/internal/model"
)

type eventsResponse struct {
	GroupID         string     `json:"group_id"`
	DisplayTimeZone string     `json:"display_timezone"`
	Events          []eventDTO `json:"events"`
}

type weekResponse struct {
	GroupID         string       `json:"group_id"`
	DisplayTimeZone string       `json:"display_timezone"`
	WeekStart       string       `json:"week_start"`
	Days            []string     `json:"days"`
	Events          []eventDTO   `json:"events"`
	Segments        []segmentDTO `json:"segments"`
}

// eventDTO is the viewer's view of a DisplayEvent. Redaction is applied
// here: the title, location and record ID of a redacted event never leave
// the server.
type eventDTO struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	Redacted    bool      `json:"redacted"`
	SharedCount int       `json:"shared_count"`
	OwnerIDs    []string  `json:"owner_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	MultiDay    bool      `json:"multi_day"`
	StartDay    string    `json:"start_day"`
	EndDay      string    `json:"end_day"`
}

type segmentDTO struct {
	Event                 eventDTO `json:"event"`
	StartIndex            int      `json:"start_index"`
	EndIndex              int      `json:"end_index"`
	ContinuesFromPrevious bool     `json:"continues_from_previous"`
	ContinuesToNext       bool     `json:"continues_to_next"`
}

func toEventDTO(d model.DisplayEvent) eventDTO {
	rep := d.Representative
	owners := d.OwnerIDs
	if owners == nil {
		owners = []string{}
	}
	id := rep.ID
	if d.Redacted() {
		id = ""
	}
	return eventDTO{
		ID:          id,
		Title:       d.Title(),
		Location:    d.Location(),
		Redacted:    d.Redacted(),
		SharedCount: d.SharedCount,
		OwnerIDs:    owners,
		Start:       rep.StartAt,
		End:         rep.EndAt,
		AllDay:      rep.IsAllDay,
		MultiDay:    d.IsMultiDay,
		StartDay:    d.StartDay.Format(dateLayout),
		EndDay:      d.EndDayInclusive.Format(dateLayout),
	}
}

func toEventDTOs(events []model.DisplayEvent) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, d := range events {
		out = append(out, toEventDTO(d))
	}
	return out
}

func toSegmentDTO(seg model.MultiDaySpanSegment) segmentDTO {
	return segmentDTO{
		Event:                 toEventDTO(seg.Event),
		StartIndex:            seg.StartIndex,
		EndIndex:              seg.EndIndex,
		ContinuesFromPrevious: seg.ContinuesFromPrevious,
		ContinuesToNext:       seg.ContinuesToNext,
	}
}

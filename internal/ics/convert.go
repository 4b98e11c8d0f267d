package ics

import (
	"time"

	"github.com/google/uuid"

	"schedulr/internal/model"
)

// occurrenceIDSpace namespaces the IDs of events ingested from ICS feeds.
var occurrenceIDSpace = uuid.MustParse("0d6c7f0a-1c0e-4a55-8f57-2e9b8a3b6c11")

// OccurrenceID is the stable RawEvent ID of one instance of a feed event.
// The source is part of the name: the same invitation in two members'
// calendars yields two records, which reconciliation then counts as shared.
func OccurrenceID(sourceID, uid, instanceKey string) string {
	return uuid.NewSHA1(occurrenceIDSpace, []byte(sourceID+"\n"+uid+"\n"+instanceKey)).String()
}

// ToRawEvents maps expanded occurrences of src onto RawEvents.
//
// ICS all-day events end at the next midnight (exclusive). RawEvents follow
// the device-calendar convention of ending one second before it, so an
// all-day event occupies exactly its own days.
func ToRawEvents(src Source, occs []Occurrence) []model.RawEvent {
	out := make([]model.RawEvent, 0, len(occs))
	for _, occ := range occs {
		end := occ.End
		if occ.AllDay && end.After(occ.Start) {
			end = end.Add(-time.Second)
		}
		out = append(out, model.RawEvent{
			ID:           OccurrenceID(src.ID, occ.UID, occ.InstanceKey),
			OwnerID:      src.OwnerID,
			GroupID:      src.GroupID,
			Title:        occ.Summary,
			StartAt:      occ.Start,
			EndAt:        end,
			IsAllDay:     occ.AllDay,
			Location:     occ.Location,
			CalendarName: occ.CalendarName,
			EventType:    src.EventType,
		})
	}
	return out
}

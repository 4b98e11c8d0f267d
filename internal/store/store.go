// Package store keeps the raw events ingested from member calendars and
// answers the per-group window queries reconciliation runs on.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"schedulr/internal/model"
)

// GroupQuery selects the events visible to a group: events shared with the
// group plus every member's own events, overlapping [From, To].
// A zero To means no upper bound.
type GroupQuery struct {
	GroupID   string
	MemberIDs []string
	From      time.Time
	To        time.Time
}

// EventStore is the event source reconciliation reads from.
type EventStore interface {
	// ReplaceSource swaps every event of one calendar source for events.
	ReplaceSource(ctx context.Context, sourceID string, events []model.RawEvent) error

	// ListForGroup returns the events matching q ordered by start, then ID.
	ListForGroup(ctx context.Context, q GroupQuery) ([]model.RawEvent, error)
}

// Memory is an in-process EventStore, safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	bySource map[string][]model.RawEvent
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{bySource: make(map[string][]model.RawEvent)}
}

func (m *Memory) ReplaceSource(_ context.Context, sourceID string, events []model.RawEvent) error {
	cp := make([]model.RawEvent, len(events))
	copy(cp, events)

	m.mu.Lock()
	m.bySource[sourceID] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListForGroup(_ context.Context, q GroupQuery) ([]model.RawEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make([]string, 0, len(m.bySource))
	for id := range m.bySource {
		sources = append(sources, id)
	}
	slices.Sort(sources)

	out := make([]model.RawEvent, 0)
	for _, id := range sources {
		for _, ev := range m.bySource[id] {
			if q.matches(ev) {
				out = append(out, ev)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q GroupQuery) matches(ev model.RawEvent) bool {
	inGroup := q.GroupID != "" && ev.GroupID == q.GroupID
	if !inGroup && !slices.Contains(q.MemberIDs, ev.OwnerID) {
		return false
	}
	if !q.From.IsZero() && ev.EndAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ev.StartAt.After(q.To) {
		return false
	}
	return true
}

package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/model"
	"schedulr/internal/reconcile"
)

func date(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

// week of Monday 2025-01-06.
func mondayWeek() []time.Time {
	return reconcile.WeekDays(date(2025, time.January, 8, 15), time.Monday)
}

func display(t *testing.T, events ...model.RawEvent) []model.DisplayEvent {
	t.Helper()
	now := date(2024, time.December, 1, 0)
	return reconcile.BuildDisplayEvents(events, "alice", now, model.DefaultFilters())
}

func TestWeekDays(t *testing.T) {
	days := mondayWeek()

	require.Len(t, days, 7)
	assert.Equal(t, date(2025, time.January, 6, 0), days[0])
	assert.Equal(t, date(2025, time.January, 12, 0), days[6])

	sunday := reconcile.WeekDays(date(2025, time.January, 8, 15), time.Sunday)
	assert.Equal(t, date(2025, time.January, 5, 0), sunday[0])

	onStart := reconcile.WeekDays(date(2025, time.January, 6, 0), time.Monday)
	assert.Equal(t, date(2025, time.January, 6, 0), onStart[0])
}

func TestProjectSegments_InsideWeek(t *testing.T) {
	ev := timed("trip", "alice", "Conference", date(2025, time.January, 7, 10), date(2025, time.January, 9, 12))

	got := reconcile.ProjectSegments(display(t, ev), mondayWeek())

	require.Len(t, got, 1)
	seg := got[0]
	assert.Equal(t, 1, seg.StartIndex)
	assert.Equal(t, 3, seg.EndIndex)
	assert.False(t, seg.ContinuesFromPrevious)
	assert.False(t, seg.ContinuesToNext)
	assert.Equal(t, date(2025, time.January, 6, 0), seg.WeekStart)
}

func TestProjectSegments_SpansWholeWeek(t *testing.T) {
	ev := timed("long", "alice", "Road trip", date(2025, time.January, 3, 9), date(2025, time.January, 13, 18))

	got := reconcile.ProjectSegments(display(t, ev), mondayWeek())

	require.Len(t, got, 1)
	seg := got[0]
	assert.Equal(t, 0, seg.StartIndex)
	assert.Equal(t, 6, seg.EndIndex)
	assert.True(t, seg.ContinuesFromPrevious)
	assert.True(t, seg.ContinuesToNext)
}

func TestProjectSegments_PartialOverlap(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart int
		wantEnd   int
		wantPrev  bool
		wantNext  bool
	}{
		{name: "from previous week", start: date(2025, time.January, 4, 9), end: date(2025, time.January, 7, 9), wantStart: 0, wantEnd: 1, wantPrev: true},
		{name: "into next week", start: date(2025, time.January, 11, 9), end: date(2025, time.January, 14, 9), wantStart: 5, wantEnd: 6, wantNext: true},
		{name: "exactly the week", start: date(2025, time.January, 6, 0), end: date(2025, time.January, 13, 0), wantStart: 0, wantEnd: 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := timed("x", "alice", "X", tc.start, tc.end)

			got := reconcile.ProjectSegments(display(t, ev), mondayWeek())

			require.Len(t, got, 1)
			assert.Equal(t, tc.wantStart, got[0].StartIndex)
			assert.Equal(t, tc.wantEnd, got[0].EndIndex)
			assert.Equal(t, tc.wantPrev, got[0].ContinuesFromPrevious)
			assert.Equal(t, tc.wantNext, got[0].ContinuesToNext)
		})
	}
}

func TestProjectSegments_Skips(t *testing.T) {
	single := timed("single", "alice", "Lunch", date(2025, time.January, 8, 12), date(2025, time.January, 8, 13))
	midnight := timed("midnight", "alice", "Late call", date(2025, time.January, 6, 23), date(2025, time.January, 7, 0))
	before := timed("before", "alice", "Before", date(2024, time.December, 30, 9), date(2025, time.January, 2, 9))
	after := timed("after", "alice", "After", date(2025, time.January, 13, 9), date(2025, time.January, 15, 9))

	got := reconcile.ProjectSegments(display(t, single, midnight, before, after), mondayWeek())

	assert.Empty(t, got)
}

func TestProjectSegments_PreservesInputOrder(t *testing.T) {
	first := timed("first", "alice", "First", date(2025, time.January, 10, 9), date(2025, time.January, 11, 9))
	second := timed("second", "alice", "Second", date(2025, time.January, 6, 9), date(2025, time.January, 7, 9))
	events := display(t, first, second)
	// Reverse the sorted order to make sure the projector does not re-sort.
	events[0], events[1] = events[1], events[0]

	got := reconcile.ProjectSegments(events, mondayWeek())

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Event.Representative.ID)
	assert.Equal(t, "second", got[1].Event.Representative.ID)
}

func TestProjectSegments_AllDayInclusiveEnd(t *testing.T) {
	ev := timed("camp", "alice", "Camp", date(2025, time.January, 8, 0), date(2025, time.January, 9, 0).Add(24*time.Hour-time.Second))
	ev.IsAllDay = true

	got := reconcile.ProjectSegments(display(t, ev), mondayWeek())

	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].StartIndex)
	assert.Equal(t, 3, got[0].EndIndex)
}

func TestProjectSegments_WrongWeekLength(t *testing.T) {
	ev := timed("trip", "alice", "Conference", date(2025, time.January, 7, 10), date(2025, time.January, 9, 12))
	events := display(t, ev)

	assert.Empty(t, reconcile.ProjectSegments(events, nil))
	assert.Empty(t, reconcile.ProjectSegments(events, mondayWeek()[:6]))
	assert.NotNil(t, reconcile.ProjectSegments(events, nil))
}

func TestDayRange_MidnightEnd(t *testing.T) {
	ev := timed("late", "alice", "Late call", date(2025, time.January, 6, 23), date(2025, time.January, 7, 0))

	start, end := reconcile.DayRange(ev, time.UTC)

	assert.Equal(t, date(2025, time.January, 6, 0), start)
	assert.Equal(t, date(2025, time.January, 6, 0), end)
}

func TestDayRange_ZeroLengthAtMidnight(t *testing.T) {
	ev := timed("zero", "alice", "Marker", date(2025, time.January, 7, 0), date(2025, time.January, 7, 0))

	start, end := reconcile.DayRange(ev, time.UTC)

	assert.Equal(t, start, end)
	assert.Equal(t, date(2025, time.January, 7, 0), end)
}

func TestDayRange_TimeZone(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	// 2025-01-06 20:00 UTC is already Tuesday in Seoul.
	ev := timed("tz", "alice", "Call", date(2025, time.January, 6, 20), date(2025, time.January, 6, 21))

	start, _ := reconcile.DayRange(ev, seoul)

	assert.Equal(t, time.January, start.Month())
	assert.Equal(t, 7, start.Day())
}

package reconcile_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"schedulr/internal/model"
	"schedulr/internal/reconcile"
)

func TestNormalizationKey_Timed(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 29, 0, time.UTC)
	end := time.Date(2025, 1, 6, 10, 0, 30, 0, time.UTC)
	ev := model.RawEvent{Title: "  Weekly SYNC ", StartAt: start, EndAt: end}

	got := reconcile.NormalizationKey(ev, time.UTC)

	wantStart := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC).Unix()
	wantEnd := time.Date(2025, 1, 6, 10, 1, 0, 0, time.UTC).Unix() // half a minute rounds up
	assert.Equal(t, "timed:"+strconv.FormatInt(wantStart, 10)+":"+strconv.FormatInt(wantEnd, 10)+":weekly sync", got)
}

func TestNormalizationKey_AllDayUsesViewerCalendar(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	// 16:00 UTC on the 6th is 01:00 on the 7th in Seoul.
	ev := model.RawEvent{Title: "Offsite", IsAllDay: true, StartAt: time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC)}

	got := reconcile.NormalizationKey(ev, seoul)

	day := time.Date(2025, 1, 7, 0, 0, 0, 0, seoul).Unix()
	assert.Equal(t, "allday:"+strconv.FormatInt(day, 10)+":offsite", got)
}

func TestNormalizationKey_EmptyTitle(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	a := model.RawEvent{Title: "", StartAt: start, EndAt: start.Add(time.Hour)}
	b := model.RawEvent{Title: "   ", StartAt: start.Add(10 * time.Second), EndAt: start.Add(time.Hour)}

	assert.Equal(t, reconcile.NormalizationKey(a, time.UTC), reconcile.NormalizationKey(b, time.UTC))
}

func TestNormalizationKey_InvertedRange(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	inverted := model.RawEvent{Title: "x", StartAt: start, EndAt: start.Add(-time.Hour)}
	zero := model.RawEvent{Title: "x", StartAt: start, EndAt: start}

	assert.Equal(t, reconcile.NormalizationKey(zero, time.UTC), reconcile.NormalizationKey(inverted, time.UTC))
}

func TestNormalizationKey_DistinguishesTitles(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	a := model.RawEvent{Title: "Lunch", StartAt: start, EndAt: start.Add(time.Hour)}
	b := model.RawEvent{Title: "Lunch with Bo", StartAt: start, EndAt: start.Add(time.Hour)}

	assert.NotEqual(t, reconcile.NormalizationKey(a, time.UTC), reconcile.NormalizationKey(b, time.UTC))
}

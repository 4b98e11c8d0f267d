package refresh_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/config"
	"schedulr/internal/ics"
	"schedulr/internal/model"
	"schedulr/internal/refresh"
	"schedulr/internal/store"
)

var refreshNow = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

func feed(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//schedulr//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

var aliceFeed = feed(
	"BEGIN:VEVENT",
	"UID:dinner@test",
	"DTSTAMP:20250101T000000Z",
	"DTSTART:20250107T180000Z",
	"DTEND:20250107T200000Z",
	"SUMMARY:Dinner",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:trip@test",
	"DTSTAMP:20250101T000000Z",
	"DTSTART;VALUE=DATE:20250110",
	"DTEND;VALUE=DATE:20250112",
	"SUMMARY:Trip",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:far@test",
	"DTSTAMP:20250101T000000Z",
	"DTSTART:20260107T180000Z",
	"DTEND:20260107T200000Z",
	"SUMMARY:Beyond the horizon",
	"END:VEVENT",
)

func feedServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRefresher(t *testing.T, fetcher refresh.Fetcher, st store.EventStore, sources []ics.Source) (*refresh.Refresher, *refresh.Metrics) {
	t.Helper()
	metrics := refresh.NewMetrics(prometheus.NewRegistry())
	r := refresh.New(fetcher, st, metrics, refresh.Options{
		Sources:      sources,
		Location:     time.UTC,
		HorizonDays:  30,
		BackfillDays: 1,
		Now:          func() time.Time { return refreshNow },
	})
	return r, metrics
}

func TestRunOnce_StoresExpandedEvents(t *testing.T) {
	srv := feedServer(t, map[string]string{"/alice.ics": aliceFeed})
	st := store.NewMemory()
	src := ics.Source{ID: "alice-cal", URL: srv.URL + "/alice.ics", OwnerID: "alice", GroupID: "family", EventType: model.EventTypeGroup}

	r, metrics := newRefresher(t, ics.NewFetcher(t.TempDir(), srv.Client()), st, []ics.Source{src})

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, refresh.Result{Sources: 1, Failed: 0, Events: 2}, res)

	got, err := st.ListForGroup(context.Background(), store.GroupQuery{GroupID: "family"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Dinner", got[0].Title)
	assert.Equal(t, "alice", got[0].OwnerID)
	assert.Equal(t, model.EventTypeGroup, got[0].EventType)

	trip := got[1]
	assert.True(t, trip.IsAllDay)
	assert.True(t, trip.StartAt.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))
	assert.True(t, trip.EndAt.Equal(time.Date(2025, 1, 11, 23, 59, 59, 0, time.UTC)))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Runs))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.IngestedEvents))
	assert.Equal(t, float64(refreshNow.Unix()), promtest.ToFloat64(metrics.LastSuccess))
}

func TestRunOnce_StableIDsAcrossRuns(t *testing.T) {
	srv := feedServer(t, map[string]string{"/alice.ics": aliceFeed})
	st := store.NewMemory()
	src := ics.Source{ID: "alice-cal", URL: srv.URL + "/alice.ics", OwnerID: "alice"}
	r, _ := newRefresher(t, ics.NewFetcher(t.TempDir(), srv.Client()), st, []ics.Source{src})
	q := store.GroupQuery{MemberIDs: []string{"alice"}}

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	first, err := st.ListForGroup(context.Background(), q)
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := st.ListForGroup(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunOnce_FailingSourceIsSkipped(t *testing.T) {
	srv := feedServer(t, map[string]string{"/alice.ics": aliceFeed})
	st := store.NewMemory()

	previous := model.RawEvent{ID: "kept", OwnerID: "bob", Title: "Old", StartAt: refreshNow, EndAt: refreshNow.Add(time.Hour)}
	require.NoError(t, st.ReplaceSource(context.Background(), "bob-cal", []model.RawEvent{previous}))

	sources := []ics.Source{
		{ID: "bob-cal", URL: srv.URL + "/missing.ics", OwnerID: "bob"},
		{ID: "alice-cal", URL: srv.URL + "/alice.ics", OwnerID: "alice"},
	}
	r, metrics := newRefresher(t, ics.NewFetcher(t.TempDir(), srv.Client()), st, sources)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Events)

	bob, err := st.ListForGroup(context.Background(), store.GroupQuery{MemberIDs: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, []model.RawEvent{previous}, bob)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.SourceFailures.WithLabelValues("bob-cal", "fetch")))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.LastSuccess))
}

type fetcherFunc func(ctx context.Context, src ics.Source) (ics.FetchResult, error)

func (f fetcherFunc) FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error) {
	return f(ctx, src)
}

type failingStore struct {
	store.EventStore
}

func (failingStore) ReplaceSource(context.Context, string, []model.RawEvent) error {
	return errors.New("disk full")
}

func TestRunOnce_FailureStages(t *testing.T) {
	okBody := func(context.Context, ics.Source) (ics.FetchResult, error) {
		return ics.FetchResult{Body: []byte(aliceFeed)}, nil
	}

	tests := []struct {
		name    string
		fetcher fetcherFunc
		st      store.EventStore
		stage   string
	}{
		{
			name: "parse",
			fetcher: func(context.Context, ics.Source) (ics.FetchResult, error) {
				return ics.FetchResult{}, nil
			},
			st:    store.NewMemory(),
			stage: "parse",
		},
		{
			name:    "store",
			fetcher: okBody,
			st:      failingStore{store.NewMemory()},
			stage:   "store",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, metrics := newRefresher(t, tc.fetcher, tc.st, []ics.Source{{ID: "s", URL: "http://example.invalid/s.ics"}})

			res, err := r.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Failed)
			assert.Equal(t, 1.0, promtest.ToFloat64(metrics.SourceFailures.WithLabelValues("s", tc.stage)))
		})
	}
}

func TestRunOnce_CanceledContext(t *testing.T) {
	r, _ := newRefresher(t, fetcherFunc(func(context.Context, ics.Source) (ics.FetchResult, error) {
		t.Fatal("fetch must not run after cancellation")
		return ics.FetchResult{}, nil
	}), store.NewMemory(), []ics.Source{{ID: "s", URL: "http://example.invalid/s.ics"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	r, _ := newRefresher(t, fetcherFunc(func(context.Context, ics.Source) (ics.FetchResult, error) {
		return ics.FetchResult{}, nil
	}), store.NewMemory(), nil)

	err := r.Start(context.Background(), "every full moon")
	assert.Error(t, err)
}

func TestStart_StopsWithContext(t *testing.T) {
	r, _ := newRefresher(t, fetcherFunc(func(context.Context, ics.Source) (ics.FetchResult, error) {
		return ics.FetchResult{}, nil
	}), store.NewMemory(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx, "*/5 * * * *"))
	cancel()
}

func TestSourcesFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sources = []config.SourceConfig{
		{ID: "a", URL: "https://example.com/a.ics", Name: "A", OwnerID: "alice", GroupID: "family", EventType: "group"},
		{ID: "b", URL: "https://example.com/b.ics", OwnerID: "bob", EventType: "whatever"},
	}

	got := refresh.SourcesFromConfig(cfg)

	require.Len(t, got, 2)
	assert.Equal(t, ics.Source{ID: "a", URL: "https://example.com/a.ics", Name: "A", OwnerID: "alice", GroupID: "family", EventType: model.EventTypeGroup}, got[0])
	assert.Equal(t, model.EventTypePersonal, got[1].EventType)
}

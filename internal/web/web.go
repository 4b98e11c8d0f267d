// Package web serves the reconciled group calendar over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedulr/internal/config"
	appLog "schedulr/internal/log"
	"schedulr/internal/model"
	"schedulr/internal/reconcile"
	"schedulr/internal/refresh"
	"schedulr/internal/store"
)

const (
	viewerHeader = "X-Viewer-ID"
	dateLayout   = "2006-01-02"
)

// Refresher runs one refresh cycle. *refresh.Refresher implements it.
type Refresher interface {
	RunOnce(ctx context.Context) (refresh.Result, error)
}

// Options carries the optional dependencies of a Server.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time

	// Registerer receives the HTTP collectors and Gatherer backs /metrics.
	// Both default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server provides the group calendar API.
type Server struct {
	cfg       *config.Config
	store     store.EventStore
	refresher Refresher
	loc       *time.Location
	now       func() time.Time
	router    chi.Router
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, st store.EventStore, refresher Refresher, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       cfg,
		store:     st,
		refresher: refresher,
		loc:       ResolveLocationOrLocal(cfg.Timezone),
		now:       opts.Now,
	}
	s.router = s.routes(newHTTPMetrics(opts.Registerer), opts.Gatherer)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(metrics *httpMetrics, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(metrics.middleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(chimiddleware.BasicAuth("schedulr", map[string]string{
				s.cfg.BasicAuth.Username: s.cfg.BasicAuth.Password,
			}))
		}

		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		r.Route("/api", func(r chi.Router) {
			r.Get("/groups/{groupID}/events", s.handleGroupEvents)
			r.Get("/groups/{groupID}/week", s.handleGroupWeek)
			r.Post("/refresh", s.handleRefresh)
		})
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password leaves it off.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGroupEvents returns the upcoming display events of a group.
//
// GET /api/groups/{groupID}/events?hide_holidays=&dedup_all_day=&month=first
func (s *Server) handleGroupEvents(w http.ResponseWriter, r *http.Request) {
	group, ok := s.lookupGroup(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filters, err := s.filtersFromQuery(q.Get("hide_holidays"), q.Get("dedup_all_day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	month := q.Get("month")
	if month != "" && month != "first" {
		writeError(w, http.StatusBadRequest, `month must be "first"`)
		return
	}

	now := s.now().In(s.loc)
	raw, err := s.store.ListForGroup(r.Context(), store.GroupQuery{
		GroupID:   group.ID,
		MemberIDs: group.Members,
		From:      now,
	})
	if err != nil {
		appLog.Error("api events: store query failed", err, "group", group.ID)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	events := reconcile.BuildDisplayEvents(raw, s.viewerID(r, group), now, filters)
	if month == "first" {
		events = reconcile.SameMonthAsFirst(events, s.loc)
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		GroupID:         group.ID,
		DisplayTimeZone: s.loc.String(),
		Events:          toEventDTOs(events),
	})
}

// handleGroupWeek returns one week of a group: its days, the display events
// touching it and the bars of multi-day events.
//
// GET /api/groups/{groupID}/week?date=YYYY-MM-DD
func (s *Server) handleGroupWeek(w http.ResponseWriter, r *http.Request) {
	group, ok := s.lookupGroup(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filters, err := s.filtersFromQuery(q.Get("hide_holidays"), q.Get("dedup_all_day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	anchor := s.now().In(s.loc)
	if v := q.Get("date"); v != "" {
		anchor, err = time.ParseInLocation(dateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	days := reconcile.WeekDays(anchor, s.cfg.WeekStartDay())
	weekStart := days[0]
	weekEnd := days[6].AddDate(0, 0, 1).Add(-time.Nanosecond)

	raw, err := s.store.ListForGroup(r.Context(), store.GroupQuery{
		GroupID:   group.ID,
		MemberIDs: group.Members,
		From:      weekStart,
		To:        weekEnd,
	})
	if err != nil {
		appLog.Error("api week: store query failed", err, "group", group.ID)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	// The week is shown whole, so events are cut off at its first midnight
	// rather than at the current time.
	events := reconcile.BuildDisplayEvents(raw, s.viewerID(r, group), weekStart, filters)
	segments := reconcile.ProjectSegments(events, days)

	resp := weekResponse{
		GroupID:         group.ID,
		DisplayTimeZone: s.loc.String(),
		WeekStart:       weekStart.Format(dateLayout),
		Days:            make([]string, 0, len(days)),
		Events:          toEventDTOs(events),
		Segments:        make([]segmentDTO, 0, len(segments)),
	}
	for _, d := range days {
		resp.Days = append(resp.Days, d.Format(dateLayout))
	}
	for _, seg := range segments {
		resp.Segments = append(resp.Segments, toSegmentDTO(seg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs one refresh cycle and reports its summary.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	res, err := s.refresher.RunOnce(r.Context())
	if err != nil {
		appLog.Error("api refresh: run aborted", err)
		writeError(w, http.StatusServiceUnavailable, "refresh aborted")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) lookupGroup(w http.ResponseWriter, r *http.Request) (config.GroupConfig, bool) {
	id := chi.URLParam(r, "groupID")
	group, ok := s.cfg.Group(id)
	if !ok {
		writeError(w, http.StatusNotFound, "group not found")
		return config.GroupConfig{}, false
	}
	return group, true
}

// viewerID resolves the member a request is rendered for. With basic auth
// on, a username that is a member of the group is the viewer. Otherwise the
// X-Viewer-ID header, then the viewer query parameter, then the configured
// default apply.
//
// The header and query values are trusted as sent: redaction only hides
// personal details from callers that identify honestly, and anyone holding a
// shared credential can read any member's personal titles by naming them.
func (s *Server) viewerID(r *http.Request, group config.GroupConfig) string {
	if s.basicAuthEnabled() {
		if u, _, ok := r.BasicAuth(); ok && slices.Contains(group.Members, u) {
			return u
		}
	}
	if v := r.Header.Get(viewerHeader); v != "" {
		return v
	}
	if v := r.URL.Query().Get("viewer"); v != "" {
		return v
	}
	return s.cfg.ViewerID
}

// filtersFromQuery overrides the configured filters with query values.
func (s *Server) filtersFromQuery(hideHolidays, dedupAllDay string) (model.Filters, error) {
	f := s.cfg.Filters
	if hideHolidays != "" {
		v, err := strconv.ParseBool(hideHolidays)
		if err != nil {
			return f, errors.New("hide_holidays must be a boolean")
		}
		f.HideHolidays = v
	}
	if dedupAllDay != "" {
		v, err := strconv.ParseBool(dedupAllDay)
		if err != nil {
			return f, errors.New("dedup_all_day must be a boolean")
		}
		f.DedupAllDay = v
	}
	return f, nil
}

// ResolveLocationOrLocal loads the named zone, falling back to time.Local.
func ResolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/booking"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/config"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Config    *config.Config
	Generator *slots.Generator
	// Busy is the same merged source the Generator reads.
	Busy     slots.BusySource
	Bookings *booking.Service
	// Metrics, if set, is mounted at /metrics.
	Metrics http.Handler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the HTTP API for slot search and bookings.
type Server struct {
	cfg       *config.Config
	policy    slots.Policy
	generator *slots.Generator
	busy      slots.BusySource
	bookings  *booking.Service
	metrics   http.Handler
	now       func() time.Time
	router    chi.Router
	log       appLog.Logger
}

// NewServer constructs a new Server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Generator == nil || deps.Busy == nil || deps.Bookings == nil {
		return nil, errors.New("web: config, generator, busy source and bookings are required")
	}
	policy, err := deps.Config.Policy()
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		cfg:       deps.Config,
		policy:    policy,
		generator: deps.Generator,
		busy:      deps.Busy,
		bookings:  deps.Bookings,
		metrics:   deps.Metrics,
		now:       deps.Now,
		log:       appLog.With("component", "http"),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="slotcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// /health is always served without auth.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}

		r.Get("/api/slots", s.handleSlots)
		r.Get("/api/busy", s.handleBusy)

		r.Route("/api/bookings", func(r chi.Router) {
			r.Post("/", s.handleCreateBooking)
			r.Get("/{id}", s.handleGetBooking)
			r.Patch("/{id}", s.handleRescheduleBooking)
			r.Delete("/{id}", s.handleCancelBooking)
		})

		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type slotsResponse struct {
	Slots       []model.AvailableSlot `json:"slots"`
	WindowStart time.Time             `json:"window_start"`
	WindowEnd   time.Time             `json:"window_end"`
	Timezone    string                `json:"timezone"`
}

// GET /api/slots?duration=30&count=3&days=14&from=2026-01-05T09:00:00Z
//   - duration: slot length in minutes (default slots.duration_minutes)
//   - count:    number of slots wanted (default slots.count)
//   - days:     search window length from `from` (default slots.horizon_days)
//   - from:     RFC 3339 window start (default now)
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	duration, err := intParam(q.Get("duration"), s.cfg.Slots.DurationMinutes)
	if err != nil {
		s.writeDomainError(w, &slots.InvalidRequestError{Field: "duration", Value: q.Get("duration"), Reason: "must be an integer"})
		return
	}
	count, err := intParam(q.Get("count"), s.cfg.Slots.Count)
	if err != nil {
		s.writeDomainError(w, &slots.InvalidRequestError{Field: "count", Value: q.Get("count"), Reason: "must be an integer"})
		return
	}
	if count > slots.MaxSlotsNeeded {
		s.writeDomainError(w, &slots.InvalidRequestError{Field: "count", Value: count, Reason: fmt.Sprintf("must be at most %d", slots.MaxSlotsNeeded)})
		return
	}
	days, err := intParam(q.Get("days"), s.cfg.Slots.HorizonDays)
	if err != nil || days <= 0 {
		s.writeDomainError(w, &slots.InvalidRequestError{Field: "days", Value: q.Get("days"), Reason: "must be a positive integer"})
		return
	}

	start := s.now()
	if v := q.Get("from"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeDomainError(w, &slots.InvalidRequestError{Field: "from", Value: v, Reason: "must be RFC 3339"})
			return
		}
	}
	start = start.In(s.policy.Location)
	end := start.AddDate(0, 0, days)

	out, err := s.generator.Generate(r.Context(), slots.Request{
		DurationMinutes: duration,
		SlotsNeeded:     count,
		WindowStart:     start,
		WindowEnd:       end,
		Policy:          s.policy,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		Slots:       out,
		WindowStart: start,
		WindowEnd:   end,
		Timezone:    s.policy.Location.String(),
	})
}

type busyDTO struct {
	SourceID string    `json:"source_id"`
	UID      string    `json:"uid,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type busyResponse struct {
	Busy       []busyDTO `json:"busy"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Timezone   string    `json:"timezone"`
}

// GET /api/busy?days=7 returns the merged busy snapshot from now.
func (s *Server) handleBusy(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), 7)
	if err != nil || days <= 0 {
		s.writeDomainError(w, &slots.InvalidRequestError{Field: "days", Value: r.URL.Query().Get("days"), Reason: "must be a positive integer"})
		return
	}

	loc := s.policy.Location
	rangeStart := s.now().In(loc)
	rangeEnd := rangeStart.AddDate(0, 0, days)

	busy, err := s.busy.FetchBusy(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		var gwErr *slots.GatewayError
		if !errors.As(err, &gwErr) {
			err = &slots.GatewayError{Op: "fetch", Timeout: r.Context().Err() != nil, Err: err}
		}
		s.writeDomainError(w, err)
		return
	}

	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	dtos := make([]busyDTO, 0, len(busy))
	for _, b := range busy {
		dtos = append(dtos, busyDTO{
			SourceID: b.SourceID,
			UID:      b.UID,
			Start:    b.Start.In(loc),
			End:      b.End.In(loc),
		})
	}

	writeJSON(w, http.StatusOK, busyResponse{
		Busy:       dtos,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Timezone:   loc.String(),
	})
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.bookings.Book(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.bookings.Reschedule(r.Context(), chi.URLParam(r, "id"), req.Start, req.End)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// writeDomainError maps slot and booking errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var gwErr *slots.GatewayError
	switch {
	case errors.Is(err, slots.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, slots.ErrNoAvailability):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrSlotTaken),
		errors.Is(err, booking.ErrCancelled),
		errors.Is(err, booking.ErrLockBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &gwErr) && gwErr.Timeout:
		writeError(w, http.StatusGatewayTimeout, "calendar backend timed out")
	case errors.As(err, &gwErr):
		// Upstream detail may carry feed names; keep it in the log.
		s.log.Error("calendar gateway failure", err)
		writeError(w, http.StatusBadGateway, "calendar backend unavailable")
	case errors.Is(err, context.Canceled):
		writeError(w, 499, "request cancelled")
	default:
		s.log.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
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

package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/booking"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/config"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/gateway"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/metrics"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

func init() {
	appLog.Setup("test")
}

// Monday 2026-01-05 08:00 UTC.
var now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func at(day, hour, min int) time.Time {
	return time.Date(2026, 1, day, hour, min, 0, 0, time.UTC)
}

type fixture struct {
	srv   *httptest.Server
	store *booking.Store
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Environment = "test"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	return cfg
}

func newFixture(t *testing.T, calendar slots.BusySource) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&model.Booking{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	clock := func() time.Time { return now }
	store := booking.NewStore(db)
	busy := gateway.Multi{calendar, store}
	m := metrics.New()

	n := 0
	gen := slots.NewGenerator(busy,
		slots.WithClock(clock),
		slots.WithIDFunc(func() string { n++; return fmt.Sprintf("slot-%d", n) }),
		slots.WithObserver(m),
	)
	svc := booking.NewService(store, busy, booking.NewMemoryLocker(),
		booking.WithClock(clock),
		booking.WithObserver(m),
	)

	s, err := NewServer(Deps{
		Config:    testConfig(),
		Generator: gen,
		Busy:      busy,
		Bookings:  svc,
		Metrics:   m.Handler(),
		Now:       clock,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store}
}

func meetingAt9() slots.BusySource {
	return slots.BusySourceFunc(func(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
		return []model.BusyInterval{{Interval: model.Interval{Start: at(5, 9, 0), End: at(5, 10, 0)}, SourceID: "work", UID: "standup"}}, nil
	})
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s %s: %v", method, path, err)
	}
	return resp, data
}

func TestHealthSkipsAuth(t *testing.T) {
	f := newFixture(t, meetingAt9())

	resp, body := f.do(t, http.MethodGet, "/health", "", false)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("GET /health = %d %q", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/slots", "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /api/slots without auth = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("401 without WWW-Authenticate header")
	}
}

func TestSlots(t *testing.T) {
	f := newFixture(t, meetingAt9())

	resp, body := f.do(t, http.MethodGet, "/api/slots", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/slots = %d %s", resp.StatusCode, body)
	}
	var got slotsResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []time.Time{at(5, 10, 0), at(5, 10, 15), at(5, 10, 30)}
	if len(got.Slots) != len(want) {
		t.Fatalf("got %d slots, want %d", len(got.Slots), len(want))
	}
	for i, w := range want {
		s := got.Slots[i]
		if !s.Start.Equal(w) || !s.End.Equal(w.Add(30*time.Minute)) {
			t.Errorf("slot %d = [%s, %s), want start %s", i, s.Start, s.End, w)
		}
		if !s.Available || s.DurationMinutes != 30 || s.ID == "" {
			t.Errorf("slot %d = %+v", i, s)
		}
	}
	if got.Timezone != "UTC" {
		t.Errorf("timezone = %q", got.Timezone)
	}
}

func TestSlotsErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		calendar slots.BusySource
		query    string
		want     int
	}{
		{"non-numeric duration", meetingAt9(), "?duration=abc", http.StatusBadRequest},
		{"zero duration", meetingAt9(), "?duration=0", http.StatusBadRequest},
		{"bad from", meetingAt9(), "?from=tomorrow", http.StatusBadRequest},
		{"count above limit", meetingAt9(), "?count=501", http.StatusBadRequest},
		{"huge count", meetingAt9(), "?count=4398046511104", http.StatusBadRequest},
		{"longer than a business day", meetingAt9(), "?duration=600", http.StatusNotFound},
		{
			"gateway failure",
			slots.BusySourceFunc(func(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
				return nil, errors.New("connection refused")
			}),
			"", http.StatusBadGateway,
		},
		{
			"gateway timeout",
			slots.BusySourceFunc(func(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
				return nil, &slots.GatewayError{Op: "fetch", Timeout: true, Err: context.DeadlineExceeded}
			}),
			"", http.StatusGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.calendar)
			resp, body := f.do(t, http.MethodGet, "/api/slots"+tt.query, "", true)
			if resp.StatusCode != tt.want {
				t.Fatalf("GET /api/slots%s = %d %s, want %d", tt.query, resp.StatusCode, body, tt.want)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("error body = %s", body)
			}
		})
	}
}

func TestBookingFlow(t *testing.T) {
	f := newFixture(t, meetingAt9())

	book := `{"summary":"Intro","attendee":"a@example.com","start":"2026-01-05T10:00:00Z","end":"2026-01-05T10:30:00Z"}`
	resp, body := f.do(t, http.MethodPost, "/api/bookings", book, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/bookings = %d %s", resp.StatusCode, body)
	}
	var created model.Booking
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != model.BookingConfirmed {
		t.Fatalf("created = %+v", created)
	}

	resp, body = f.do(t, http.MethodPost, "/api/bookings", book, true)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second POST = %d %s, want 409", resp.StatusCode, body)
	}

	// The booking is now busy time for generation.
	resp, body = f.do(t, http.MethodGet, "/api/slots?count=1", "", true)
	var got slotsResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &got) != nil || len(got.Slots) != 1 {
		t.Fatalf("GET /api/slots = %d %s", resp.StatusCode, body)
	}
	if !got.Slots[0].Start.Equal(at(5, 10, 30)) {
		t.Errorf("first slot after booking = %s, want 10:30", got.Slots[0].Start)
	}

	resp, body = f.do(t, http.MethodGet, "/api/busy?days=1", "", true)
	var busy busyResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &busy) != nil {
		t.Fatalf("GET /api/busy = %d %s", resp.StatusCode, body)
	}
	if len(busy.Busy) != 2 || busy.Busy[0].SourceID != "work" || busy.Busy[1].SourceID != model.BookingSourceID {
		t.Errorf("busy = %+v", busy.Busy)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/bookings/"+created.ID, "", true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET booking = %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPatch, "/api/bookings/"+created.ID, `{"start":"2026-01-05T09:30:00Z","end":"2026-01-05T10:00:00Z"}`, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("PATCH onto meeting = %d %s, want 409", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPatch, "/api/bookings/"+created.ID, `{"start":"2026-01-05T11:00:00Z","end":"2026-01-05T11:30:00Z"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("PATCH = %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodDelete, "/api/bookings/"+created.ID, "", true)
	var cancelled model.Booking
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &cancelled) != nil || cancelled.Status != model.BookingCancelled {
		t.Errorf("DELETE = %d %s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/bookings/nope", "", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing booking = %d, want 404", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/bookings", `{"start":`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST malformed = %d, want 400", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/bookings", `{"start":"2026-01-05T07:00:00Z","end":"2026-01-05T07:30:00Z"}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST in the past = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, meetingAt9())
	f.do(t, http.MethodGet, "/api/slots", "", true)

	resp, body := f.do(t, http.MethodGet, "/metrics", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `slotcal_generate_total{result="ok"} 1`) {
		t.Errorf("metrics missing generate counter:\n%s", body)
	}
}

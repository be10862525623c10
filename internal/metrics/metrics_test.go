package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesObservations(t *testing.T) {
	m := New()
	m.ObserveGenerate("ok", 12, 30*time.Millisecond)
	m.ObserveGenerate("no_availability", 40, 10*time.Millisecond)
	m.ObserveGatewayError(true)
	m.ObserveBooking("book", "taken")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`slotcal_generate_total{result="ok"} 1`,
		`slotcal_generate_total{result="no_availability"} 1`,
		`slotcal_gateway_errors_total{timeout="true"} 1`,
		`slotcal_bookings_total{op="book",result="taken"} 1`,
		`slotcal_candidates_scanned_count 2`,
		`slotcal_generate_duration_seconds_count 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

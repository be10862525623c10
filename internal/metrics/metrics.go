// Package metrics exposes Prometheus collectors for slot generation and
// bookings.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slotcal"

// Metrics holds the collectors on a private registry. It satisfies
// slots.Observer and booking.Observer.
type Metrics struct {
	registry *prometheus.Registry

	generateTotal    *prometheus.CounterVec
	generateDuration prometheus.Histogram
	gatewayErrors    *prometheus.CounterVec
	scanned          prometheus.Histogram
	bookingsTotal    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_total",
			Help:      "Slot generation calls by result.",
		}, []string{"result"}),
		generateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_duration_seconds",
			Help:      "Wall time of slot generation calls, gateway fetch included.",
			Buckets:   prometheus.DefBuckets,
		}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Busy-interval fetch failures.",
		}, []string{"timeout"}),
		scanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_scanned",
			Help:      "Candidates tested against the busy set per call.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking writes by operation and result.",
		}, []string{"op", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generateTotal,
		m.generateDuration,
		m.gatewayErrors,
		m.scanned,
		m.bookingsTotal,
	)
	return m
}

func (m *Metrics) ObserveGenerate(result string, scanned int, elapsed time.Duration) {
	m.generateTotal.WithLabelValues(result).Inc()
	m.generateDuration.Observe(elapsed.Seconds())
	if scanned > 0 {
		m.scanned.Observe(float64(scanned))
	}
}

func (m *Metrics) ObserveGatewayError(timeout bool) {
	m.gatewayErrors.WithLabelValues(strconv.FormatBool(timeout)).Inc()
}

func (m *Metrics) ObserveBooking(op, result string) {
	m.bookingsTotal.WithLabelValues(op, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "festival"

// Metrics holds the collectors for the checkout service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPLatencyMS *prometheus.HistogramVec

	CartOperations   *prometheus.CounterVec
	CheckoutOutcomes *prometheus.CounterVec
	AmountMismatches *prometheus.CounterVec
	GatewayLatencyMS *prometheus.HistogramVec

	ReservationsSwept prometheus.Counter
	SessionsPruned    prometheus.Counter
	OutboxPublished   *prometheus.CounterVec
	OpenFlags         prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		CartOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "operations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"operation", "result"}),
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "outcomes_total",
			Help:      "Checkout confirmations by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		AmountMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "amount_mismatches_total",
			Help:      "Captured amounts that did not equal the server-side total.",
		}, []string{"gateway"}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"gateway", "call"}),
		ReservationsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "swept_total",
			Help:      "Pending basket bookings deleted by the expiry sweeper.",
		}),
		SessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "sessions_pruned_total",
			Help:      "Stale cart sessions deleted by the expiry sweeper.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events handed to the broker by result.",
		}, []string{"result"}),
		OpenFlags: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "open_flags",
			Help:      "Unresolved reconciliation flags seen by the last listing.",
		}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPLatencyMS,
		m.CartOperations,
		m.CheckoutOutcomes,
		m.AmountMismatches,
		m.GatewayLatencyMS,
		m.ReservationsSwept,
		m.SessionsPruned,
		m.OutboxPublished,
		m.OpenFlags,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPLatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) CartOperation(op string, err error) {
	if m == nil {
		return
	}
	m.CartOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) CheckoutOutcome(gateway, outcome string) {
	if m == nil {
		return
	}
	m.CheckoutOutcomes.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) AmountMismatch(gateway string) {
	if m == nil {
		return
	}
	m.AmountMismatches.WithLabelValues(gateway).Inc()
}

func (m *Metrics) GatewayCall(gateway, call string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatencyMS.WithLabelValues(gateway, call).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReservationsSwept.Add(float64(n))
}

func (m *Metrics) SessionsDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsPruned.Add(float64(n))
}

func (m *Metrics) OutboxResult(err error) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) SetOpenFlags(n int) {
	if m == nil {
		return
	}
	m.OpenFlags.Set(float64(n))
}

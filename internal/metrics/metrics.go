// ABOUTME: Prometheus collectors for authentication, login, and HTTP traffic
// ABOUTME: Collectors register on a caller-supplied registry and are served by Handler

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes recorded by LoginResult.
const (
	LoginSuccess   = "success"
	LoginFailed    = "invalid_credentials"
	LoginThrottled = "throttled"
	LoginError     = "error"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	AuthResultsTotal   *prometheus.CounterVec
	LoginAttemptsTotal *prometheus.CounterVec

	HTTPInFlight        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		AuthResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_auth_results_total",
				Help: "Token authentication outcomes by reason.",
			},
			[]string{"reason"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_login_attempts_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	registry.MustRegister(
		m.AuthResultsTotal,
		m.LoginAttemptsTotal,
		m.HTTPInFlight,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// AuthResult counts one authentication outcome. Its signature matches
// auth.WithResultHook.
func (m *Metrics) AuthResult(reason string) {
	m.AuthResultsTotal.WithLabelValues(reason).Inc()
}

// LoginResult counts one login attempt.
func (m *Metrics) LoginResult(outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records request counts, latency, and in-flight requests. Routes
// are labelled by the ServeMux pattern that matched, not the raw path, so
// identifiers in URLs do not explode label cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPInFlight.Inc()
		defer m.HTTPInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grantflow"

// Metrics owns a registry and every collector registered on it.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	storeErrors *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
	steps       *prometheus.CounterVec
	submissions *prometheus.CounterVec
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Failed document store operations by operation.",
		}, []string{"op"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help: "File uploads by kind and result.",
		}, []string{"kind", "result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upload_bytes_total",
			Help: "Bytes stored by successful uploads.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "form_steps_total",
			Help: "Step updates by form and outcome (completed, invalid, skipped).",
		}, []string{"form", "outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "form_submissions_total",
			Help: "Finalized submissions by form.",
		}, []string{"form"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Domain events by type and result.",
		}, []string{"type", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "route_transitions_total",
			Help: "Route transitions by target state and result.",
		}, []string{"state", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.storeErrors, m.uploads, m.uploadBytes,
		m.steps, m.submissions, m.events, m.transitions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by chi route pattern, so path parameters do
// not blow up label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// Upload records one upload attempt; size counts only on success.
func (m *Metrics) Upload(kind string, size int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploads.WithLabelValues(kind, "error").Inc()
		return
	}
	m.uploads.WithLabelValues(kind, "ok").Inc()
	m.uploadBytes.Add(float64(size))
}

func (m *Metrics) Step(formID, outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(formID, outcome).Inc()
}

func (m *Metrics) Submitted(formID string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(formID).Inc()
}

func (m *Metrics) Event(typ string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ, result(err)).Inc()
}

func (m *Metrics) Transition(state string, allowed bool) {
	if m == nil {
		return
	}
	res := "allowed"
	if !allowed {
		res = "denied"
	}
	m.transitions.WithLabelValues(state, res).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

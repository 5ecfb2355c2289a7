// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// intake pipeline, and configures OpenTelemetry tracing.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ward"

// Pipeline outcome labels.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeFailed       = "failed"
	OutcomeNoCandidates = "no_candidates"
	OutcomeSkipped      = "skipped"
)

// HTTP request duration buckets in seconds.
var durationBuckets = []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0}

// Extraction calls are slow; the recognition service routinely takes tens of seconds.
var extractionBuckets = []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120}

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	extractions        *prometheus.CounterVec
	extractionDuration prometheus.Histogram
	duplicateChecks    *prometheus.CounterVec
	commitRecords      *prometheus.CounterVec
	commits            prometheus.Counter
	sessions           *prometheus.CounterVec
}

// NewMetrics registers all collectors, including the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   durationBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "extractions_total",
			Help:      "Document extractions by outcome.",
		}, []string{"outcome"}),
		extractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "extraction_duration_seconds",
			Help:      "Time spent waiting on the recognition service.",
			Buckets:   extractionBuckets,
		}),
		duplicateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "duplicate_checks_total",
			Help:      "Duplicate checks by outcome.",
		}, []string{"outcome"}),
		commitRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "commit_records_total",
			Help:      "Committed candidate records by result.",
		}, []string{"result"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "commits_total",
			Help:      "Completed commit batches.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "sessions_total",
			Help:      "Intake session lifecycle events.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.httpInFlight,
		m.extractions, m.extractionDuration, m.duplicateChecks,
		m.commitRecords, m.commits, m.sessions,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count, latency and in-flight requests. The
// route label uses the registered path pattern so ids do not explode
// cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.httpInFlight.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			return err
		}
	}
}

// ObserveExtraction records one extraction attempt.
func (m *Metrics) ObserveExtraction(outcome string, d time.Duration) {
	m.extractions.WithLabelValues(outcome).Inc()
	m.extractionDuration.Observe(d.Seconds())
}

func (m *Metrics) DuplicateCheck(outcome string) {
	m.duplicateChecks.WithLabelValues(outcome).Inc()
}

// CommitFinished records the per-record results of one commit batch.
func (m *Metrics) CommitFinished(succeeded, failed int) {
	m.commits.Inc()
	m.commitRecords.WithLabelValues("success").Add(float64(succeeded))
	m.commitRecords.WithLabelValues("failure").Add(float64(failed))
}

// SessionEvent counts created, abandoned and expired sessions.
func (m *Metrics) SessionEvent(event string) {
	m.sessions.WithLabelValues(event).Inc()
}

// statusOf resolves the status the error handler will write.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

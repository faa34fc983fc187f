package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	coverageVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_verdicts_total",
			Help: "Coverage resolutions by agreement type and verdict source.",
		},
		[]string{"agreement_type", "source", "covered"},
	)

	releasesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releases_recorded_total",
			Help: "Release ledger entries appended, by release method.",
		},
		[]string{"method"},
	)

	grantActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_grant_actions_total",
			Help: "Access grant mutations by action (grant, revoke, override).",
		},
		[]string{"action"},
	)

	linkOpens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracked_link_opens_total",
		Help: "Tracked link open events recorded.",
	})

	coverageCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_lookups_total",
			Help: "Coverage verdict cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		coverageVerdicts, releasesRecorded, grantActions, linkOpens,
		coverageCache,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCoverage counts a coverage resolution outcome.
func ObserveCoverage(agreementType, source string, covered bool) {
	coverageVerdicts.WithLabelValues(agreementType, source, strconv.FormatBool(covered)).Inc()
}

// ObserveRelease counts an appended release ledger entry.
func ObserveRelease(method string) {
	releasesRecorded.WithLabelValues(method).Inc()
}

// ObserveGrantAction counts a grant mutation.
func ObserveGrantAction(action string) {
	grantActions.WithLabelValues(action).Inc()
}

// ObserveLinkOpen counts a tracked link open.
func ObserveLinkOpen() {
	linkOpens.Inc()
}

// ObserveCoverageCache counts a verdict cache lookup outcome.
func ObserveCoverageCache(result string) {
	coverageCache.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Readiness probe result (1 ready, 0 not ready).",
	})
)

// Event pipeline and claims issuance metrics.
var (
	eventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_appended_total",
			Help: "Domain events committed to the event store.",
		},
		[]string{"stream_type", "outcome"},
	)

	eventRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_retries_total",
			Help: "Administrative retries of failed projection updates.",
		},
		[]string{"outcome"},
	)

	claimsIssuance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_issuance_total",
			Help: "Claims issuance attempts by terminal state.",
		},
		[]string{"outcome"},
	)

	claimsDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "claims_issuance_duration_seconds",
		Help: "Latency of claims computation and signing.",
		// Issuance sits on the authentication hot path, so the buckets skew low.
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		eventsAppended, eventRetries, claimsIssuance, claimsDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness probe result.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveEventAppend counts a committed event; outcome is "processed" or "failed".
func ObserveEventAppend(streamType, outcome string) {
	eventsAppended.WithLabelValues(streamType, outcome).Inc()
}

// ObserveEventRetry counts a retry attempt; outcome is "processed" or "failed".
func ObserveEventRetry(outcome string) {
	eventRetries.WithLabelValues(outcome).Inc()
}

// ObserveClaimsIssuance records one issuance with its terminal state and latency.
func ObserveClaimsIssuance(outcome string, seconds float64) {
	claimsIssuance.WithLabelValues(outcome).Inc()
	claimsDuration.Observe(seconds)
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// CanonicalPath collapses resource identifiers so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/admin/events/"); ok {
		if rest != "failed" && strings.HasSuffix(rest, "/retry") && strings.Count(rest, "/") == 1 {
			return "/v1/admin/events/:id/retry"
		}
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

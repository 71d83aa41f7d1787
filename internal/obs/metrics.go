package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
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
)

// Entitlement engine metrics.
var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_resolutions_total",
			Help: "Entitlement resolutions by resulting tier and matching signal.",
		},
		[]string{"tier", "matched_by"},
	)

	resolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_resolution_duration_seconds",
		Help:    "Entitlement resolution latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	grantsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offsite_grants_created_total",
		Help: "Offsite access grants created by the engine.",
	})

	grantsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offsite_grants_revoked_total",
		Help: "Offsite access grants revoked by administrators.",
	})

	rangeConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ip_range_conflicts_total",
		Help: "IP range writes rejected by the non-overlap invariant.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		resolutionsTotal, resolutionDuration,
		grantsCreated, grantsRevoked, rangeConflicts,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordResolution counts one resolution outcome.
func RecordResolution(tier, matchedBy string, d time.Duration) {
	resolutionsTotal.WithLabelValues(tier, matchedBy).Inc()
	resolutionDuration.Observe(d.Seconds())
}

// RecordGrantCreated counts a freshly minted offsite grant.
func RecordGrantCreated() { grantsCreated.Inc() }

// RecordGrantRevoked counts an administrative grant revocation.
func RecordGrantRevoked() { grantsRevoked.Inc() }

// RecordRangeConflict counts a rejected IP range write.
func RecordRangeConflict() { rangeConflicts.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight accounting.
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

// CanonicalPath collapses per-entity path segments so metric labels stay
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/admin/accounts/{id}/offsite-access and /v1/admin/ip-ranges/{id}
	if len(parts) >= 5 && parts[1] == "v1" && parts[2] == "admin" {
		switch parts[3] {
		case "accounts":
			if len(parts) == 6 && parts[5] == "offsite-access" {
				return "/v1/admin/accounts/:id/offsite-access"
			}
		case "ip-ranges":
			if len(parts) == 5 {
				return "/v1/admin/ip-ranges/:id"
			}
		}
	}
	return p
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

// Package metrics holds the Prometheus collectors shared across the tracking
// edge, the recorder and the aggregator.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var TrackingRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tracking_requests_total",
		Help: "Total number of pixel, redirect and unsubscribe hits",
	},
	[]string{"endpoint"},
)

var CapturesDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tracking_captures_dropped_total",
		Help: "Captures discarded before reaching the recorder",
	},
	[]string{"reason"},
)

// EventsRecordedTotal outcome is one of: recorded, duplicate, unresolved, error.
var EventsRecordedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "engagement_events_total",
		Help: "Engagement events processed by the recorder, by outcome",
	},
	[]string{"event_type", "outcome"},
)

var RecordDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "engagement_record_duration_seconds",
		Help:    "Time spent resolving and persisting one capture",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"event_type"},
)

var RecomputeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analytics_recompute_total",
		Help: "Campaign analytics recomputes, by outcome",
	},
	[]string{"trigger", "outcome"},
)

var RecomputeDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "analytics_recompute_duration_seconds",
		Help:    "Duration of one campaign recompute",
		Buckets: prometheus.DefBuckets,
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method", "status"},
)

// Registry is the registry the /metrics endpoint serves.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		TrackingRequestsTotal,
		CapturesDroppedTotal,
		EventsRecordedTotal,
		RecordDuration,
		RecomputeTotal,
		RecomputeDuration,
		HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware observes request durations. routeFn maps a request to a low
// cardinality route label (e.g. the chi route pattern).
func Middleware(routeFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			HTTPRequestDuration.
				WithLabelValues(routeFn(r), r.Method, fmt.Sprintf("%d", rec.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

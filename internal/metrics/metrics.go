// Package metrics exposes the kernel's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the kernel's collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamekernel",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamekernel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gamekernel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method"},
	)

	// ProjectsLoaded tracks the number of materialized project contexts.
	ProjectsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamekernel",
			Subsystem: "projects",
			Name:      "loaded",
			Help:      "Number of project contexts currently loaded.",
		},
	)

	// ProjectEvictions counts LRU evictions.
	ProjectEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamekernel",
			Subsystem: "projects",
			Name:      "evictions_total",
			Help:      "Total number of project contexts evicted under the LRU bound.",
		},
	)

	// ProjectLoads counts context materializations.
	ProjectLoads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamekernel",
			Subsystem: "projects",
			Name:      "loads_total",
			Help:      "Total number of project context loads.",
		},
	)

	// PluginFailures counts plugins entering the failed state.
	PluginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamekernel",
			Subsystem: "plugins",
			Name:      "failures_total",
			Help:      "Total number of plugin lifecycle failures.",
		},
		[]string{"plugin"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ProjectsLoaded,
		ProjectEvictions,
		ProjectLoads,
		PluginFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps next with request metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

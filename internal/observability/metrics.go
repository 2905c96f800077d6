package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minitel",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently tracked by the server registry.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Connections accepted by the server.",
		},
	)
	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Subsystem: "server",
			Name:      "idle_evictions_total",
			Help:      "Connections closed by the idle reaper.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Name:      "frames_total",
			Help:      "Frames processed, by role, direction and command.",
		},
		[]string{"role", "direction", "command"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Name:      "protocol_errors_total",
			Help:      "Connections dropped, by role and failure kind.",
		},
		[]string{"role", "kind"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Client connect attempts, by outcome.",
		},
		[]string{"success"},
	)
	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minitel",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	adminDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minitel",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		connectionsActive,
		connectionsTotal,
		evictionsTotal,
		framesTotal,
		protocolErrors,
		connectAttempts,
		adminRequests,
		adminDuration,
		collectors.NewGoCollector(),
	)
}

// MetricsHandler exposes the private registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

func ConnectionClosed() {
	connectionsActive.Dec()
}

func RecordEviction() {
	evictionsTotal.Inc()
}

func RecordFrame(role, direction, command string) {
	framesTotal.WithLabelValues(role, direction, command).Inc()
}

func RecordProtocolError(role, kind string) {
	protocolErrors.WithLabelValues(role, kind).Inc()
}

func RecordConnectAttempt(success bool) {
	connectAttempts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordAdminRequest(method, path string, status int, duration time.Duration) {
	adminRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	adminDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

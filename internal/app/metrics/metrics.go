// Package metrics exposes the Prometheus collectors for the banking server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "banca",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Current number of tracked client connections.",
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banca",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of protocol requests handled.",
		},
		[]string{"operation", "codigo"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banca",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Duration of protocol request handling.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"operation"},
	)

	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "banca",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of failed credential or token checks.",
		},
	)
)

func init() {
	Registry.MustRegister(
		activeConnections,
		requestsTotal,
		requestDuration,
		authFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ConnectionOpened and ConnectionClosed track the active connection gauge.
func ConnectionOpened() { activeConnections.Inc() }
func ConnectionClosed() { activeConnections.Dec() }

// RecordRequest records one handled protocol request.
func RecordRequest(operation string, codigo int, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	requestsTotal.WithLabelValues(operation, strconv.Itoa(codigo)).Inc()
	requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthFailure records a failed credential or token check.
func RecordAuthFailure() { authFailures.Inc() }

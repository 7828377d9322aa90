// Package metrics holds the prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "globeview",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	// UpstreamRequests counts calls to the weather/geocoding provider by endpoint and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total requests sent to the weather provider",
	}, []string{"endpoint", "result"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "globeview",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Weather provider request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	ActiveViewports = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "globeview",
		Subsystem: "ws",
		Name:      "active_viewports",
		Help:      "Current number of open viewport sessions",
	})

	ProjectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "geo",
		Name:      "invalid_input_total",
		Help:      "Projection requests rejected for out-of-domain input",
	}, []string{"field"})

	TilesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globeview",
		Subsystem: "loader",
		Name:      "tiles_written_total",
		Help:      "Tiles encoded to disk by the loader",
	}, []string{"layer"})
)

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

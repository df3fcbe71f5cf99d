// Package metrics provides Prometheus instrumentation for the extractor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// Ops server metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Outbound registry metrics
	registryRequestsTotal *prometheus.CounterVec
	registryRetriesTotal  *prometheus.CounterVec
	rateLimitWait         prometheus.Histogram

	// Extraction metrics
	contractsTotal       *prometheus.CounterVec
	chainsTotal          *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
)

// Init initializes the metrics system. It must be called at most once.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the ops server",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Ops server request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_requests_total",
			Help: "Total number of registry HTTP attempts",
		},
		[]string{"path", "result"},
	)

	registryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_retries_total",
			Help: "Total number of registry HTTP retries after a transient failure",
		},
		[]string{"path"},
	)

	rateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	contractsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_contracts_total",
			Help: "Total number of contracts processed",
		},
		[]string{"chain_id", "outcome", "reason"},
	)

	chainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_chains_total",
			Help: "Total number of chain workers finished",
		},
		[]string{"status"},
	)

	verificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_request_duration_seconds",
			Help:    "Verification service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}

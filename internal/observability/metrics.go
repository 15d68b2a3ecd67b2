package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Remote API call rate per operation. Watch for: error vs success ratio.
	APICallsTotal *prometheus.CounterVec

	// Remote API latency per operation. Watch for: p95 growth on create/update (upstream lookup).
	APICallDuration *prometheus.HistogramVec

	// Remote API failures by kind. Watch for: authorization spikes (expired tokens).
	APIErrorsTotal *prometheus.CounterVec

	// Session store writes by action (set, clear). Watch for: login churn.
	SessionWritesTotal *prometheus.CounterVec

	// Local dashboard server request rate.
	HTTPRequestsTotal *prometheus.CounterVec

	// Local dashboard server latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent local requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limit denials on the local server.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiCallsTotal",
			Help: "Total number of SkyWatch API calls",
		},
		[]string{"operation", "status"},
	)
	APICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiCallDurationSeconds",
			Help:    "SkyWatch API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
	APIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiErrorsTotal",
			Help: "Total number of failed SkyWatch API calls by error kind",
		},
		[]string{"kind"},
	)
	SessionWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionWritesTotal",
			Help: "Total number of session store writes",
		},
		[]string{"action"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		APICallsTotal, APICallDuration, APIErrorsTotal,
		SessionWritesTotal,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

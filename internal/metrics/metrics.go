// Package metrics collects and exposes Prometheus metrics for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the API's metric vectors.
type Collector struct {
	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
	workspaceWrites *prometheus.CounterVec
	sideEffectFails *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
}

// NewCollector registers the API metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvas_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_auth_attempts_total",
			Help: "Sign-up and sign-in attempts by outcome.",
		}, []string{"event", "success"}),
		workspaceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_workspace_writes_total",
			Help: "Workspace create, update and delete operations.",
		}, []string{"op"}),
		sideEffectFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_side_effect_failures_total",
			Help: "Background indexing and history failures.",
		}, []string{"kind"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canvas_completion_latency_seconds",
			Help:    "Completion service round trip in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	reg.MustRegister(
		c.requestDuration,
		c.requests,
		c.authAttempts,
		c.workspaceWrites,
		c.sideEffectFails,
		c.upstreamLatency,
	)
	return c
}

func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (c *Collector) RecordAuthAttempt(event string, success bool) {
	c.authAttempts.WithLabelValues(event, strconv.FormatBool(success)).Inc()
}

func (c *Collector) RecordWorkspaceWrite(op string) {
	c.workspaceWrites.WithLabelValues(op).Inc()
}

func (c *Collector) RecordSideEffectFailure(kind string) {
	c.sideEffectFails.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveCompletion(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

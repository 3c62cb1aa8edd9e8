// Package metrics provides custom Prometheus metrics for pipeline operations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics related to the trip
// planning pipeline and its external dependencies. All methods are nil-safe
// so callers can run without a registry.
type PipelineMetrics struct {
	// External API metrics
	APICallsTotal   *prometheus.CounterVec   // API calls by endpoint and status
	APICallDuration *prometheus.HistogramVec // API call latency by endpoint

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec // cache hits by TTL class
	CacheMissesTotal *prometheus.CounterVec // cache misses by TTL class
	StaleServedTotal *prometheus.CounterVec // degraded responses served by endpoint

	// Resilience metrics
	BreakerState       *prometheus.GaugeVec   // breaker state (0=closed, 1=half-open, 2=open) by endpoint
	RetryAttemptsTotal *prometheus.CounterVec // retry attempts by endpoint

	// Pipeline stage metrics
	StageDuration  *prometheus.HistogramVec // stage execution time by stage name
	StageStatus    *prometheus.CounterVec   // stage completions by stage and status
	RouteStopCount prometheus.Histogram     // stops in generated routes

	registry *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics.
// It requires a Prometheus registry to register the metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_api_calls_total",
			Help: "Total number of observation API calls by endpoint and status",
		},
		[]string{"endpoint", "status"}, // status: success, error, timeout, rate_limited
	)

	m.APICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdtrip_api_call_duration_seconds",
			Help:    "Observation API call latency by endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"endpoint"},
	)

	m.CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_cache_hits_total",
			Help: "Total cache hits by TTL class",
		},
		[]string{"class"},
	)

	m.CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_cache_misses_total",
			Help: "Total cache misses by TTL class",
		},
		[]string{"class"},
	)

	m.StaleServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_stale_served_total",
			Help: "Degraded responses served from expired cache entries by endpoint",
		},
		[]string{"endpoint"},
	)

	m.BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdtrip_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) by endpoint",
		},
		[]string{"endpoint"},
	)

	m.RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_retry_attempts_total",
			Help: "Retry attempts by endpoint",
		},
		[]string{"endpoint"},
	)

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdtrip_stage_duration_seconds",
			Help:    "Pipeline stage execution time by stage name",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
		[]string{"stage"},
	)

	m.StageStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdtrip_stage_status_total",
			Help: "Pipeline stage completions by stage name and status",
		},
		[]string{"stage", "status"}, // status: success, partial, failed
	)

	m.RouteStopCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "birdtrip_route_stops",
			Help:    "Number of stops in generated routes",
			Buckets: prometheus.LinearBuckets(0, 1, 13),
		},
	)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.APICallsTotal.Collect(ch)
	m.APICallDuration.Collect(ch)
	m.CacheHitsTotal.Collect(ch)
	m.CacheMissesTotal.Collect(ch)
	m.StaleServedTotal.Collect(ch)
	m.BreakerState.Collect(ch)
	m.RetryAttemptsTotal.Collect(ch)
	m.StageDuration.Collect(ch)
	m.StageStatus.Collect(ch)
	m.RouteStopCount.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.APICallsTotal.Describe(ch)
	m.APICallDuration.Describe(ch)
	m.CacheHitsTotal.Describe(ch)
	m.CacheMissesTotal.Describe(ch)
	m.StaleServedTotal.Describe(ch)
	m.BreakerState.Describe(ch)
	m.RetryAttemptsTotal.Describe(ch)
	m.StageDuration.Describe(ch)
	m.StageStatus.Describe(ch)
	m.RouteStopCount.Describe(ch)
}

// RecordAPICall records an API call outcome and latency.
func (m *PipelineMetrics) RecordAPICall(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APICallsTotal.WithLabelValues(endpoint, status).Inc()
	m.APICallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for a TTL class.
func (m *PipelineMetrics) RecordCacheHit(class string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(class).Inc()
}

// RecordCacheMiss records a cache miss for a TTL class.
func (m *PipelineMetrics) RecordCacheMiss(class string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(class).Inc()
}

// RecordStaleServed records a degraded response served from a stale entry.
func (m *PipelineMetrics) RecordStaleServed(endpoint string) {
	if m == nil {
		return
	}
	m.StaleServedTotal.WithLabelValues(endpoint).Inc()
}

// UpdateBreakerState records the circuit breaker state for an endpoint.
func (m *PipelineMetrics) UpdateBreakerState(endpoint string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordRetry records a retry attempt against an endpoint.
func (m *PipelineMetrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(endpoint).Inc()
}

// RecordStage records a pipeline stage completion.
func (m *PipelineMetrics) RecordStage(stage, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	m.StageStatus.WithLabelValues(stage, status).Inc()
}

// RecordRouteStops records the stop count of a generated route.
func (m *PipelineMetrics) RecordRouteStops(n int) {
	if m == nil {
		return
	}
	m.RouteStopCount.Observe(float64(n))
}

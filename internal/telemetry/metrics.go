// Package telemetry exposes Prometheus metrics for the loom pipeline.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for providers, stages, and the cache.
type Metrics struct {
	// Provider gateway
	ProviderAttemptsTotal *prometheus.CounterVec
	ProviderRetriesTotal  *prometheus.CounterVec

	// Stage execution
	StageDuration       *prometheus.HistogramVec
	StageFallbacksTotal *prometheus.CounterVec

	// Stage cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics.
//
// This function uses sync.Once to ensure metrics are only registered once
// globally, preventing "duplicate metrics collector registration" panics.
//
// All metrics are prefixed with "loom_" for namespacing.
//
// Metrics:
//   - loom_provider_attempts_total{provider,outcome} - generation attempts by outcome
//   - loom_provider_retries_total{provider} - retries after transient failures
//   - loom_stage_duration_seconds{stage} - histogram of stage wall time
//   - loom_stage_fallbacks_total{stage,mode} - non-halting failures by fallback mode
//   - loom_cache_hits_total - stage cache hits
//   - loom_cache_misses_total - stage cache misses
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ProviderAttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loom_provider_attempts_total",
					Help: "Total number of provider generation attempts",
				},
				[]string{"provider", "outcome"}, // "success", "transient", "terminal"
			),

			ProviderRetriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loom_provider_retries_total",
					Help: "Total number of retries after transient provider failures",
				},
				[]string{"provider"},
			),

			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loom_stage_duration_seconds",
					Help:    "Duration of stage execution in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7m
				},
				[]string{"stage"},
			),

			StageFallbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loom_stage_fallbacks_total",
					Help: "Total number of stage failures degraded via fallback",
				},
				[]string{"stage", "mode"},
			),

			CacheHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loom_cache_hits_total",
					Help: "Total number of stage cache hits",
				},
			),

			CacheMissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loom_cache_misses_total",
					Help: "Total number of stage cache misses",
				},
			),
		}
	})
	return globalMetrics
}

// ObserveStageDuration records a stage's wall time.
func (m *Metrics) ObserveStageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAttempt counts one generation attempt.
func (m *Metrics) RecordAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordRetry counts one retry after a transient failure.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.ProviderRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordFallback counts one degraded stage by fallback mode.
func (m *Metrics) RecordFallback(stage, mode string) {
	if m == nil {
		return
	}
	m.StageFallbacksTotal.WithLabelValues(stage, mode).Inc()
}

// RecordCacheHit counts one cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss counts one cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

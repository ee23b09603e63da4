// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// Registry holds all Prometheus metrics for the service. Construct one
// per process; every collector is registered on a private registry so
// tests can build as many as they like.
type Registry struct {
	// HTTP metrics
	HTTPDuration *prometheus.HistogramVec

	// Provider call metrics
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Circuit breaker state per provider
	BreakerState *prometheus.GaugeVec

	// Analysis throughput
	Analyses *prometheus.CounterVec

	// WebSocket clients currently connected
	WSConnections prometheus.Gauge

	registry *prometheus.Registry

	mu         sync.Mutex
	cacheNames map[string]bool
}

// NewRegistry creates a registry with all service metrics registered.
func NewRegistry() *Registry {
	m := &Registry{
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insight_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route, method, and status",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "method", "status"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_provider_requests_total",
				Help: "Total upstream provider requests by provider, endpoint, and result",
			},
			[]string{"provider", "endpoint", "result"},
		),

		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insight_provider_request_duration_seconds",
				Help:    "Duration of upstream provider requests",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider", "endpoint"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "insight_cache_hit_ratio",
				Help: "Current cache hit ratio across all caches (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_cache_hits_total",
				Help: "Total number of cache hits by cache name",
			},
			[]string{"cache"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_cache_misses_total",
				Help: "Total number of cache misses by cache name",
			},
			[]string{"cache"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "insight_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_analyses_total",
				Help: "Total completed analyses by type",
			},
			[]string{"type"},
		),

		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "insight_ws_connections",
				Help: "Number of currently connected WebSocket clients",
			},
		),

		registry:   prometheus.NewRegistry(),
		cacheNames: make(map[string]bool),
	}

	m.registry.MustRegister(
		m.HTTPDuration,
		m.ProviderRequests,
		m.ProviderDuration,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.BreakerState,
		m.Analyses,
		m.WSConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveHTTP records one served request.
func (m *Registry) ObserveHTTP(route, method string, status int, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(status)).
		Observe(duration.Seconds())
}

// RecordProviderRequest records one upstream call.
func (m *Registry) RecordProviderRequest(provider, endpoint, result string, duration time.Duration) {
	m.ProviderRequests.WithLabelValues(provider, endpoint, result).Inc()
	m.ProviderDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the named cache.
func (m *Registry) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
	m.noteCache(cache)
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the named cache.
func (m *Registry) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
	m.noteCache(cache)
	m.updateCacheHitRatio()
}

func (m *Registry) noteCache(cache string) {
	m.mu.Lock()
	m.cacheNames[cache] = true
	m.mu.Unlock()
}

// updateCacheHitRatio recomputes the aggregate ratio by reading the
// counters back through the client_model types.
func (m *Registry) updateCacheHitRatio() {
	m.mu.Lock()
	names := make([]string, 0, len(m.cacheNames))
	for name := range m.cacheNames {
		names = append(names, name)
	}
	m.mu.Unlock()

	var metric io_prometheus_client.Metric
	totalHits := 0.0
	totalMisses := 0.0

	for _, name := range names {
		if counter, err := m.CacheHits.GetMetricWithLabelValues(name); err == nil {
			if err := counter.Write(&metric); err == nil {
				totalHits += metric.GetCounter().GetValue()
			}
		}
		if counter, err := m.CacheMisses.GetMetricWithLabelValues(name); err == nil {
			if err := counter.Write(&metric); err == nil {
				totalMisses += metric.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// SetBreakerState records a provider's breaker state by name.
func (m *Registry) SetBreakerState(provider, state string) {
	m.BreakerState.WithLabelValues(provider).Set(breakerStateValue(state))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	}
	return -1
}

// RecordAnalysis counts one completed analysis.
func (m *Registry) RecordAnalysis(analysisType string) {
	m.Analyses.WithLabelValues(analysisType).Inc()
}

// WSConnected and WSDisconnected track the live client gauge.
func (m *Registry) WSConnected() { m.WSConnections.Inc() }

func (m *Registry) WSDisconnected() { m.WSConnections.Dec() }

// Handler exposes the registry in Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

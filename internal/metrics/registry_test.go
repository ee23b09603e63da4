package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CacheHitRatio(t *testing.T) {
	m := NewRegistry()

	m.RecordCacheHit("market")
	m.RecordCacheHit("market")
	m.RecordCacheHit("sentiment")
	m.RecordCacheMiss("market")

	assert.InDelta(t, 0.75, testutil.ToFloat64(m.CacheHitRatio), 1e-9)

	m.RecordCacheMiss("sentiment")
	assert.InDelta(t, 0.6, testutil.ToFloat64(m.CacheHitRatio), 1e-9)
}

func TestRegistry_BreakerStateMapping(t *testing.T) {
	m := NewRegistry()

	m.SetBreakerState("coingecko", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("coingecko")))

	m.SetBreakerState("coingecko", "half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("coingecko")))

	m.SetBreakerState("coingecko", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("coingecko")))

	m.SetBreakerState("coingecko", "confused")
	assert.Equal(t, -1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("coingecko")))
}

func TestRegistry_AnalysesCounter(t *testing.T) {
	m := NewRegistry()

	m.RecordAnalysis("technical")
	m.RecordAnalysis("technical")
	m.RecordAnalysis("onchain")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Analyses.WithLabelValues("technical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Analyses.WithLabelValues("onchain")))
}

func TestRegistry_WSConnectionGauge(t *testing.T) {
	m := NewRegistry()

	m.WSConnected()
	m.WSConnected()
	m.WSDisconnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
}

func TestRegistry_HandlerExposesMetrics(t *testing.T) {
	m := NewRegistry()
	m.ObserveHTTP("/api/market/summary", http.MethodGet, 200, 42*time.Millisecond)
	m.RecordProviderRequest("coingecko", "simple_price", "success", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "insight_http_request_duration_seconds")
	assert.Contains(t, body, `route="/api/market/summary"`)
	assert.Contains(t, body, "insight_provider_requests_total")
	assert.Contains(t, body, `result="success"`)
}

func TestRegistry_IndependentInstances(t *testing.T) {
	// Two registries must not collide; each owns its collectors.
	a := NewRegistry()
	b := NewRegistry()

	a.RecordAnalysis("sentiment")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Analyses.WithLabelValues("sentiment")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Analyses.WithLabelValues("sentiment")))
}

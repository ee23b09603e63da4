package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{
			providerName: {
				Host:        "test.local",
				BaseURL:     srv.URL,
				RPS:         100,
				Burst:       200,
				DailyBudget: 10000,
				TTLSecs:     60,
				BackoffMS:   config.BackoffConfig{Base: 1, Max: 10},
				Circuit: config.CircuitConfig{
					ErrorRateThreshold:  50,
					ConsecutiveFailures: 10,
					MaxRequests:         1,
					IntervalMS:          1000,
					TimeoutMS:           1000,
					RequestTimeoutMS:    2000,
				},
				Enabled: true,
			},
		},
		Budget: config.BudgetConfig{WarnThreshold: 0.8, ResetHour: 0},
		Global: config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "insight-test/1.0"},
	}

	transport := providers.New(cfg, cache.NewMemory())
	return New(transport, cfg.Providers[providerName], "", 0), srv
}

func TestPing(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.Write([]byte(`{"gecko_says": "(V3) To the Moon!"}`))
	}))

	assert.True(t, client.Ping(context.Background()))
}

func TestSimplePrice(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"bitcoin": {"usd": 64000.1}, "ethereum": {"usd": 3100.5}}`))
	}))

	prices, err := client.SimplePrice(context.Background(), []string{"bitcoin", "ethereum"}, []string{"usd"})
	require.NoError(t, err)
	assert.Equal(t, 64000.1, prices["bitcoin"]["usd"])
	assert.Equal(t, 3100.5, prices["ethereum"]["usd"])
}

func TestGetGlobalDataUnwrapsEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {
			"active_cryptocurrencies": 12000,
			"total_market_cap": {"usd": 2.3e12},
			"market_cap_percentage": {"btc": 52.4, "eth": 17.1},
			"market_cap_change_percentage_24h_usd": -1.2
		}}`))
	}))

	global, err := client.GetGlobalData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12000, global.ActiveCryptocurrencies)
	assert.InDelta(t, 52.4, global.MarketCapPercentage["btc"], 0.01)
	assert.InDelta(t, -1.2, global.MarketCapChangePercentage24hUSD, 0.01)
}

func TestOHLCParsesRows(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/ohlc", r.URL.Path)
		w.Write([]byte(`[[1700000000000, 100, 110, 95, 105], [1700086400000, 105, 120, 104, 118]]`))
	}))

	candles, err := client.OHLC(context.Background(), "bitcoin", "usd", 30)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 118.0, candles[1].Close)
	assert.Equal(t, int64(1700000000000), candles[0].Time.UnixMilli())
}

func TestTrendingFlattensItems(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coins": [
			{"item": {"id": "pepe", "name": "Pepe", "symbol": "PEPE", "market_cap_rank": 40, "score": 0}},
			{"item": {"id": "sui", "name": "Sui", "symbol": "SUI", "market_cap_rank": 20, "score": 1}}
		]}`))
	}))

	trending, err := client.Trending(context.Background())
	require.NoError(t, err)
	require.Len(t, trending, 2)
	assert.Equal(t, "pepe", trending[0].ID)
	assert.Equal(t, 1, trending[1].Score)
}

func TestTopGainersLosersRanksByTimeframe(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		w.Write([]byte(`[
			{"id": "a", "symbol": "a", "current_price": 1, "price_change_percentage_24h": 5, "price_change_percentage_7d_in_currency": 12},
			{"id": "b", "symbol": "b", "current_price": 2, "price_change_percentage_24h": -8, "price_change_percentage_7d_in_currency": -3},
			{"id": "c", "symbol": "c", "current_price": 3, "price_change_percentage_24h": 1, "price_change_percentage_7d_in_currency": null},
			{"id": "d", "symbol": "d", "current_price": 4, "price_change_percentage_24h": 20, "price_change_percentage_7d_in_currency": 2}
		]`))
	}))

	movers, err := client.TopGainersLosers(context.Background(), "usd", "7d", 2)
	require.NoError(t, err)

	// c has no 7d change and must be excluded.
	require.Len(t, movers.Gainers, 2)
	assert.Equal(t, "a", movers.Gainers[0].ID)
	assert.Equal(t, "d", movers.Gainers[1].ID)
	require.Len(t, movers.Losers, 2)
	assert.Equal(t, "b", movers.Losers[0].ID, "worst performer first")
	assert.Equal(t, "d", movers.Losers[1].ID)
}

func TestTopGainersLosersDefaultsTimeframe(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "a", "price_change_percentage_24h": 3}]`))
	}))

	movers, err := client.TopGainersLosers(context.Background(), "usd", "6h", 10)
	require.NoError(t, err)
	assert.Equal(t, "24h", movers.Timeframe)
}

func TestCooldownSpacesNetworkCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"gecko_says": "hi"}`))
	}))
	defer srv.Close()

	cfg := config.ProviderConfig{BaseURL: srv.URL}
	transportCfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{},
		Budget:    config.BudgetConfig{WarnThreshold: 0.8},
		Global:    config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "t"},
	}
	client := New(providers.New(transportCfg, cache.NewMemory()), cfg, "", 40*time.Millisecond)

	start := time.Now()
	client.Ping(context.Background())
	client.waitCooldown(context.Background())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "second network call should wait out the cooldown")
}

func TestAPIKeyAddedAsQueryParam(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("x_cg_pro_api_key")
		w.Write([]byte(`{"gecko_says": "hi"}`))
	}))
	defer srv.Close()

	transportCfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{},
		Budget:    config.BudgetConfig{WarnThreshold: 0.8},
		Global:    config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "t"},
	}
	client := New(providers.New(transportCfg, cache.NewMemory()), config.ProviderConfig{BaseURL: srv.URL}, "sk-test", 0)

	client.Ping(context.Background())
	assert.Equal(t, "sk-test", gotKey)
}

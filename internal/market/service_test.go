package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/cryptopanic"
	"github.com/defiinsight/insight/internal/providers/defillama"
	"github.com/defiinsight/insight/internal/providers/feargreed"
	"github.com/defiinsight/insight/internal/providers/lunarcrush"
)

type stubGlobal struct {
	global      *coingecko.GlobalData
	globalErr   error
	trending    []coingecko.TrendingCoin
	trendingErr error
	movers      *coingecko.Movers
	moversErr   error
}

func (s *stubGlobal) GetGlobalData(context.Context) (*coingecko.GlobalData, error) {
	return s.global, s.globalErr
}

func (s *stubGlobal) GetGlobalDeFiData(context.Context) (*coingecko.DeFiGlobal, error) {
	return nil, errors.New("not used")
}

func (s *stubGlobal) Trending(context.Context) ([]coingecko.TrendingCoin, error) {
	return s.trending, s.trendingErr
}

func (s *stubGlobal) TopGainersLosers(context.Context, string, string, int) (*coingecko.Movers, error) {
	return s.movers, s.moversErr
}

type stubDeFi struct {
	overview *defillama.Overview
	err      error
}

func (s *stubDeFi) MarketOverview(context.Context) (*defillama.Overview, error) {
	return s.overview, s.err
}

type stubFear struct {
	point *feargreed.IndexPoint
	trend *feargreed.Trend
	err   error
}

func (s *stubFear) Current(context.Context) (*feargreed.IndexPoint, error) {
	return s.point, s.err
}

func (s *stubFear) GetTrend(context.Context, int) (*feargreed.Trend, error) {
	return s.trend, s.err
}

type stubNews struct{}

func (stubNews) GetMarketSentiment(context.Context) (*cryptopanic.MarketSentiment, error) {
	return &cryptopanic.MarketSentiment{}, nil
}

type stubSocial struct{}

func (stubSocial) GetMarketSentiment(context.Context, int) (*lunarcrush.MarketSentiment, error) {
	return &lunarcrush.MarketSentiment{}, nil
}

func healthyGlobal() *coingecko.GlobalData {
	return &coingecko.GlobalData{
		ActiveCryptocurrencies:          12000,
		TotalMarketCap:                  map[string]float64{"usd": 2.4e12},
		TotalVolume:                     map[string]float64{"usd": 9.1e10},
		MarketCapPercentage:             map[string]float64{"btc": 52.3, "eth": 17.1},
		MarketCapChangePercentage24hUSD: 1.8,
	}
}

func TestSummaryAllSourcesHealthy(t *testing.T) {
	global := &stubGlobal{
		global:   healthyGlobal(),
		trending: []coingecko.TrendingCoin{{ID: "solana", Symbol: "SOL"}},
		movers: &coingecko.Movers{
			Gainers: []coingecko.MarketRow{{ID: "sui"}},
			Losers:  []coingecko.MarketRow{{ID: "apt"}},
		},
	}
	svc := NewService(global,
		&stubDeFi{overview: &defillama.Overview{CurrentTVL: 9.5e10, DailyChangePercentage: -0.4}},
		&stubFear{point: &feargreed.IndexPoint{Value: 71, Classification: "Greed"}},
		stubNews{}, stubSocial{})

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.4e12, sum.TotalMarketCapUSD)
	assert.Equal(t, 52.3, sum.BTCDominance)
	assert.Equal(t, 9.5e10, sum.DeFiTVL)
	assert.Len(t, sum.TopGainers, 1)
	assert.Len(t, sum.Trending, 1)
	require.NotNil(t, sum.FearGreed)
	assert.Equal(t, 71, sum.FearGreed.Value)
	assert.False(t, sum.FearGreed.Derived)
	assert.False(t, sum.Partial)
	assert.Empty(t, sum.Warnings)
}

func TestSummaryDegradesPerSource(t *testing.T) {
	global := &stubGlobal{
		global:      healthyGlobal(),
		trendingErr: errors.New("trending down"),
		moversErr:   errors.New("markets down"),
	}
	svc := NewService(global,
		&stubDeFi{err: errors.New("llama down")},
		&stubFear{err: errors.New("fng down")},
		stubNews{}, stubSocial{})

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err, "global data alone must be enough")

	assert.True(t, sum.Partial)
	assert.Len(t, sum.Warnings, 4, "defi, trending, movers, feargreed")
	assert.Zero(t, sum.DeFiTVL)
	assert.Empty(t, sum.TopGainers)

	// The index falls back to the derived estimate.
	require.NotNil(t, sum.FearGreed)
	assert.True(t, sum.FearGreed.Derived)
}

func TestSummaryFailsWithoutGlobalData(t *testing.T) {
	global := &stubGlobal{globalErr: errors.New("coingecko down")}
	svc := NewService(global, &stubDeFi{}, &stubFear{err: errors.New("down")}, stubNews{}, stubSocial{})

	_, err := svc.Summary(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global market data unavailable")
}

func TestFearGreedPrefersLiveIndex(t *testing.T) {
	svc := NewService(&stubGlobal{global: healthyGlobal()}, &stubDeFi{},
		&stubFear{point: &feargreed.IndexPoint{Value: 18, Classification: "Extreme Fear"}},
		stubNews{}, stubSocial{})

	status, err := svc.FearGreed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, status.Value)
	assert.False(t, status.Derived)
}

func TestDerivedFearGreedBlend(t *testing.T) {
	// Rising market: dominance factor is inverted (100-52.3), momentum is
	// (1.8+100)/2, trending factor 5*2 capped at 100.
	global := &stubGlobal{
		global:   healthyGlobal(),
		trending: []coingecko.TrendingCoin{{ID: "a"}, {ID: "b"}},
	}
	svc := NewService(global, &stubDeFi{}, &stubFear{err: errors.New("down")}, stubNews{}, stubSocial{})

	status, err := svc.FearGreed(context.Background())
	require.NoError(t, err)
	require.True(t, status.Derived)

	want := (100-52.3)*0.25 + ((1.8+100)/2)*0.5 + 10*0.25
	assert.InDelta(t, want, float64(status.Value), 0.51)
	assert.Equal(t, "Fear", status.Classification)
}

func TestDerivedFearGreedFallingMarket(t *testing.T) {
	global := healthyGlobal()
	global.MarketCapChangePercentage24hUSD = -6.0
	global.MarketCapPercentage["btc"] = 58.0

	// Falling market keeps dominance un-inverted; unknown trending pins its
	// factor at the neutral 50.
	status := deriveFearGreed(global, 0, false)

	want := 58.0*0.25 + ((-6.0+100)/2)*0.5 + 50*0.25
	assert.InDelta(t, want, float64(status.Value), 0.51)
	assert.True(t, status.Derived)
}

func TestClassifyDerivedBands(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{10, "Extreme Fear"},
		{24.9, "Extreme Fear"},
		{25, "Fear"},
		{44.9, "Fear"},
		{50, "Neutral"},
		{60, "Greed"},
		{74.9, "Greed"},
		{75, "Extreme Greed"},
		{95, "Extreme Greed"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyDerived(tc.value), "value %.1f", tc.value)
	}
}

func TestTopMoversDefaultsLimit(t *testing.T) {
	global := &stubGlobal{movers: &coingecko.Movers{Timeframe: "24h"}}
	svc := NewService(global, &stubDeFi{}, &stubFear{}, stubNews{}, stubSocial{})

	movers, err := svc.TopMovers(context.Background(), "24h", 0)
	require.NoError(t, err)
	assert.Equal(t, "24h", movers.Timeframe)
}

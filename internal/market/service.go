// Package market aggregates the upstream data sources into the market-wide
// views served by the API: global summary, movers, trending searches, DeFi
// totals, and the fear/greed reading with its derived fallback.
package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/cryptopanic"
	"github.com/defiinsight/insight/internal/providers/defillama"
	"github.com/defiinsight/insight/internal/providers/feargreed"
	"github.com/defiinsight/insight/internal/providers/lunarcrush"
)

// The service depends on narrow views of the provider clients so tests can
// stub single sources.

type GlobalSource interface {
	GetGlobalData(ctx context.Context) (*coingecko.GlobalData, error)
	GetGlobalDeFiData(ctx context.Context) (*coingecko.DeFiGlobal, error)
	Trending(ctx context.Context) ([]coingecko.TrendingCoin, error)
	TopGainersLosers(ctx context.Context, vsCurrency, timeframe string, limit int) (*coingecko.Movers, error)
}

type DeFiSource interface {
	MarketOverview(ctx context.Context) (*defillama.Overview, error)
}

type FearGreedSource interface {
	Current(ctx context.Context) (*feargreed.IndexPoint, error)
	GetTrend(ctx context.Context, days int) (*feargreed.Trend, error)
}

type NewsSource interface {
	GetMarketSentiment(ctx context.Context) (*cryptopanic.MarketSentiment, error)
}

type SocialSource interface {
	GetMarketSentiment(ctx context.Context, topCoins int) (*lunarcrush.MarketSentiment, error)
}

// Service composes the market-wide data sources.
type Service struct {
	global GlobalSource
	defi   DeFiSource
	fear   FearGreedSource
	news   NewsSource
	social SocialSource
}

func NewService(global GlobalSource, defi DeFiSource, fear FearGreedSource, news NewsSource, social SocialSource) *Service {
	return &Service{global: global, defi: defi, fear: fear, news: news, social: social}
}

// FearGreedStatus is the index reading inside a summary. Derived readings
// are estimated from market data when alternative.me is unreachable.
type FearGreedStatus struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
	Derived        bool   `json:"derived,omitempty"`
}

// Summary is the market-wide snapshot. Sources fail independently; missing
// ones appear in Warnings and leave their fields zeroed.
type Summary struct {
	Timestamp              time.Time               `json:"timestamp"`
	TotalMarketCapUSD      float64                 `json:"total_market_cap_usd"`
	TotalVolumeUSD         float64                 `json:"total_volume_usd"`
	MarketCapChange24h     float64                 `json:"market_cap_change_percentage_24h"`
	BTCDominance           float64                 `json:"btc_dominance"`
	ETHDominance           float64                 `json:"eth_dominance"`
	ActiveCryptocurrencies int                     `json:"active_cryptocurrencies"`
	DeFiTVL                float64                 `json:"defi_tvl"`
	DeFiTVLChange24h       float64                 `json:"defi_tvl_change_24h"`
	FearGreed              *FearGreedStatus        `json:"fear_greed,omitempty"`
	Trending               []coingecko.TrendingCoin `json:"trending,omitempty"`
	TopGainers             []coingecko.MarketRow   `json:"top_gainers,omitempty"`
	TopLosers              []coingecko.MarketRow   `json:"top_losers,omitempty"`
	Warnings               []string                `json:"warnings,omitempty"`
	Partial                bool                    `json:"partial,omitempty"`
}

// Summary builds the market snapshot with all sources fetched in parallel.
// A failed source degrades the summary instead of failing it; the summary
// only errors when global market data itself is unavailable.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var (
		mu       sync.Mutex
		warnings []string

		global   *coingecko.GlobalData
		overview *defillama.Overview
		fear     *feargreed.IndexPoint
		fearErr  error
		trending []coingecko.TrendingCoin
		movers   *coingecko.Movers
	)

	warn := func(source string, err error) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf("%s: %v", source, err))
		mu.Unlock()
		log.Warn().Err(err).Str("source", source).Msg("Market summary source failed")
	}

	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		g, err := s.global.GetGlobalData(ctx)
		if err != nil {
			warn("coingecko global", err)
			return
		}
		global = g
	}()
	go func() {
		defer wg.Done()
		o, err := s.defi.MarketOverview(ctx)
		if err != nil {
			warn("defillama", err)
			return
		}
		overview = o
	}()
	go func() {
		defer wg.Done()
		fear, fearErr = s.fear.Current(ctx)
	}()
	go func() {
		defer wg.Done()
		t, err := s.global.Trending(ctx)
		if err != nil {
			warn("trending", err)
			return
		}
		trending = t
	}()
	go func() {
		defer wg.Done()
		m, err := s.global.TopGainersLosers(ctx, "usd", "24h", 5)
		if err != nil {
			warn("movers", err)
			return
		}
		movers = m
	}()
	wg.Wait()

	if global == nil {
		return nil, fmt.Errorf("market summary: global market data unavailable (%d source warnings)", len(warnings))
	}

	out := &Summary{
		Timestamp:              time.Now().UTC(),
		TotalMarketCapUSD:      global.TotalMarketCap["usd"],
		TotalVolumeUSD:         global.TotalVolume["usd"],
		MarketCapChange24h:     global.MarketCapChangePercentage24hUSD,
		BTCDominance:           global.MarketCapPercentage["btc"],
		ETHDominance:           global.MarketCapPercentage["eth"],
		ActiveCryptocurrencies: global.ActiveCryptocurrencies,
		Trending:               trending,
	}
	if overview != nil {
		out.DeFiTVL = overview.CurrentTVL
		out.DeFiTVLChange24h = overview.DailyChangePercentage
	}
	if movers != nil {
		out.TopGainers = movers.Gainers
		out.TopLosers = movers.Losers
	}

	if fearErr == nil && fear != nil {
		out.FearGreed = &FearGreedStatus{Value: fear.Value, Classification: fear.Classification}
	} else {
		warn("feargreed", fearErr)
		out.FearGreed = deriveFearGreed(global, len(trending), trending != nil)
	}

	out.Warnings = warnings
	out.Partial = len(warnings) > 0
	return out, nil
}

// FearGreed returns the live index reading, falling back to the derived
// estimate when alternative.me is unreachable.
func (s *Service) FearGreed(ctx context.Context) (*FearGreedStatus, error) {
	if point, err := s.fear.Current(ctx); err == nil && point != nil {
		return &FearGreedStatus{Value: point.Value, Classification: point.Classification}, nil
	}
	return s.DerivedFearGreed(ctx)
}

// DerivedFearGreed estimates the index from market structure alone, for when
// alternative.me is down.
func (s *Service) DerivedFearGreed(ctx context.Context) (*FearGreedStatus, error) {
	global, err := s.global.GetGlobalData(ctx)
	if err != nil {
		return nil, fmt.Errorf("derived fear/greed: %w", err)
	}

	trending, terr := s.global.Trending(ctx)
	return deriveFearGreed(global, len(trending), terr == nil), nil
}

// deriveFearGreed blends market cap momentum (half weight) with BTC
// dominance rotation and trending-search activity (a quarter each). Rising
// markets read dominance inverted: money rotating out of BTC into alts is a
// greed signal.
func deriveFearGreed(global *coingecko.GlobalData, trendingCount int, trendingKnown bool) *FearGreedStatus {
	mcapChange := global.MarketCapChangePercentage24hUSD
	btcDominance := global.MarketCapPercentage["btc"]

	btcFactor := btcDominance
	if mcapChange > 0 {
		btcFactor = 100 - btcDominance
	}

	momentum := (mcapChange + 100) / 2

	trendingFactor := 50.0
	if trendingKnown {
		trendingFactor = math.Min(5*float64(trendingCount), 100)
	}

	value := btcFactor*0.25 + momentum*0.5 + trendingFactor*0.25
	value = math.Max(0, math.Min(100, value))

	return &FearGreedStatus{
		Value:          int(math.Round(value)),
		Classification: classifyDerived(value),
		Derived:        true,
	}
}

// classifyDerived bands the derived estimate. The thresholds sit slightly
// off alternative.me's own bands to account for the estimate's center bias.
func classifyDerived(value float64) string {
	switch {
	case value < 25:
		return "Extreme Fear"
	case value < 45:
		return "Fear"
	case value < 55:
		return "Neutral"
	case value < 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

// TopMovers returns the best and worst performers for a timeframe.
func (s *Service) TopMovers(ctx context.Context, timeframe string, limit int) (*coingecko.Movers, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.global.TopGainersLosers(ctx, "usd", timeframe, limit)
}

// Trending returns the coins trending in searches.
func (s *Service) Trending(ctx context.Context) ([]coingecko.TrendingCoin, error) {
	return s.global.Trending(ctx)
}

// DeFiOverview returns TVL totals with the top chains and protocols.
func (s *Service) DeFiOverview(ctx context.Context) (*defillama.Overview, error) {
	return s.defi.MarketOverview(ctx)
}

// FearGreedTrend returns the index direction over the past two weeks.
func (s *Service) FearGreedTrend(ctx context.Context) (*feargreed.Trend, error) {
	return s.fear.GetTrend(ctx, 14)
}

// NewsSentiment returns the vote-derived market mood from news posts.
func (s *Service) NewsSentiment(ctx context.Context) (*cryptopanic.MarketSentiment, error) {
	return s.news.GetMarketSentiment(ctx)
}

// SocialSentiment returns the social-metrics market mood for the top coins.
func (s *Service) SocialSentiment(ctx context.Context) (*lunarcrush.MarketSentiment, error) {
	return s.social.GetMarketSentiment(ctx, 10)
}

// Package coingecko is the CoinGecko v3 API client. It is the primary source
// for prices, market listings, and global data, and the OHLCV fallback for
// the technical agent.
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "coingecko"

// Cache TTLs per data category. Price data goes stale fast, historical
// series barely move.
const (
	ttlPrice      = time.Minute
	ttlCoins      = 15 * time.Minute
	ttlMarkets    = 5 * time.Minute
	ttlHistorical = time.Hour
)

// Client calls the CoinGecko API through the shared guarded transport.
type Client struct {
	transport *providers.Client
	baseURL   string
	apiKey    string
	cooldown  time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// New builds a CoinGecko client. The cooldown spaces out network requests to
// stay inside the free-tier limits; cache hits skip it.
func New(transport *providers.Client, cfg config.ProviderConfig, apiKey string, cooldown time.Duration) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    apiKey,
		cooldown:  cooldown,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, ttl time.Duration, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}

	// The API key stays out of the cache key.
	cacheKey := fmt.Sprintf("cg:%s?%s", path, params.Encode())
	if c.apiKey != "" {
		params.Set("x_cg_pro_api_key", c.apiKey)
	}

	u := c.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	err := c.transport.Fetch(ctx, providers.Request{
		Provider:   providerName,
		URL:        u,
		CacheKey:   cacheKey,
		TTL:        ttl,
		PreRequest: c.waitCooldown,
	}, out)
	if errors.Is(err, providers.ErrDegraded) {
		// Stale but decoded. The transport already logged the downgrade.
		return nil
	}
	return err
}

// waitCooldown enforces the minimum spacing between network requests.
func (c *Client) waitCooldown(ctx context.Context) error {
	if c.cooldown <= 0 {
		return nil
	}

	c.mu.Lock()
	wait := c.cooldown - time.Since(c.lastRequest)
	c.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
	return nil
}

// Ping reports whether the API is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	var resp struct {
		GeckoSays string `json:"gecko_says"`
	}
	if err := c.get(ctx, "ping", nil, ttlPrice, &resp); err != nil {
		return false
	}
	return resp.GeckoSays != ""
}

// Coin is one entry of the full coins list.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// ListCoins returns every coin the API knows about.
func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	var coins []Coin
	if err := c.get(ctx, "coins/list", nil, ttlCoins, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// SearchCoin is one match from the search endpoint.
type SearchCoin struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank int    `json:"market_cap_rank"`
	Thumb         string `json:"thumb"`
}

// Search finds coins by name or symbol.
func (c *Client) Search(ctx context.Context, query string) ([]SearchCoin, error) {
	params := url.Values{"query": {query}}
	var resp struct {
		Coins []SearchCoin `json:"coins"`
	}
	if err := c.get(ctx, "search", params, ttlCoins, &resp); err != nil {
		return nil, err
	}
	return resp.Coins, nil
}

// CoinData is the detail payload for a single coin.
type CoinData struct {
	ID              string            `json:"id"`
	Symbol          string            `json:"symbol"`
	Name            string            `json:"name"`
	Platforms       map[string]string `json:"platforms"`
	MarketCapRank   int               `json:"market_cap_rank"`
	MarketData      *CoinMarketData   `json:"market_data"`
	ContractAddress string            `json:"contract_address"`
}

// CoinMarketData holds the market_data section of a coin detail response.
type CoinMarketData struct {
	CurrentPrice             map[string]float64 `json:"current_price"`
	MarketCap                map[string]float64 `json:"market_cap"`
	TotalVolume              map[string]float64 `json:"total_volume"`
	High24h                  map[string]float64 `json:"high_24h"`
	Low24h                   map[string]float64 `json:"low_24h"`
	PriceChangePercentage24h float64            `json:"price_change_percentage_24h"`
	PriceChangePercentage7d  float64            `json:"price_change_percentage_7d"`
	PriceChangePercentage30d float64            `json:"price_change_percentage_30d"`
	CirculatingSupply        float64            `json:"circulating_supply"`
	TotalSupply              *float64           `json:"total_supply"`
	MaxSupply                *float64           `json:"max_supply"`
}

// GetCoin returns detail data for a coin id, market data included.
func (c *Client) GetCoin(ctx context.Context, id string) (*CoinData, error) {
	params := url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"true"},
		"community_data": {"false"},
		"developer_data": {"false"},
	}
	var coin CoinData
	if err := c.get(ctx, "coins/"+url.PathEscape(id), params, ttlCoins, &coin); err != nil {
		return nil, err
	}
	return &coin, nil
}

// ContractInfo looks a token up by chain platform and contract address.
func (c *Client) ContractInfo(ctx context.Context, chain, address string) (*CoinData, error) {
	path := fmt.Sprintf("coins/%s/contract/%s", url.PathEscape(chain), url.PathEscape(address))
	var coin CoinData
	if err := c.get(ctx, path, nil, ttlCoins, &coin); err != nil {
		return nil, err
	}
	return &coin, nil
}

// SimplePrice returns current prices keyed by coin id then currency.
func (c *Client) SimplePrice(ctx context.Context, ids, vsCurrencies []string) (map[string]map[string]float64, error) {
	params := url.Values{
		"ids":                 {strings.Join(ids, ",")},
		"vs_currencies":       {strings.Join(vsCurrencies, ",")},
		"include_24hr_change": {"true"},
	}
	prices := make(map[string]map[string]float64)
	if err := c.get(ctx, "simple/price", params, ttlPrice, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// MarketChart is a historical series of [timestamp_ms, value] pairs.
type MarketChart struct {
	Prices       [][]float64 `json:"prices"`
	MarketCaps   [][]float64 `json:"market_caps"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// GetMarketChart returns historical prices, market caps, and volumes.
// days accepts a number or "max"; interval may be empty for auto.
func (c *Client) GetMarketChart(ctx context.Context, id, vsCurrency, days, interval string) (*MarketChart, error) {
	params := url.Values{
		"vs_currency": {vsCurrency},
		"days":        {days},
	}
	if interval != "" {
		params.Set("interval", interval)
	}
	var chart MarketChart
	if err := c.get(ctx, "coins/"+url.PathEscape(id)+"/market_chart", params, ttlHistorical, &chart); err != nil {
		return nil, err
	}
	return &chart, nil
}

// Candle is one OHLC row.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// OHLC returns candles for a coin. Valid day ranges: 1/7/14/30/90/180/365.
func (c *Client) OHLC(ctx context.Context, id, vsCurrency string, days int) ([]Candle, error) {
	params := url.Values{
		"vs_currency": {vsCurrency},
		"days":        {fmt.Sprintf("%d", days)},
	}
	var rows [][]float64
	if err := c.get(ctx, "coins/"+url.PathEscape(id)+"/ohlc", params, ttlHistorical, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, Candle{
			Time:  time.UnixMilli(int64(row[0])),
			Open:  row[1],
			High:  row[2],
			Low:   row[3],
			Close: row[4],
		})
	}
	return candles, nil
}

// MarketRow is one row of the coins/markets listing. The nullable change
// fields are pointers so missing timeframes can be filtered out.
type MarketRow struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             float64  `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	MarketCapRank            int      `json:"market_cap_rank"`
	TotalVolume              float64  `json:"total_volume"`
	High24h                  float64  `json:"high_24h"`
	Low24h                   float64  `json:"low_24h"`
	PriceChange24h           float64  `json:"price_change_24h"`
	PriceChangePercentage24h float64  `json:"price_change_percentage_24h"`
	ChangePercentage1h       *float64 `json:"price_change_percentage_1h_in_currency,omitempty"`
	ChangePercentage7d       *float64 `json:"price_change_percentage_7d_in_currency,omitempty"`
	ChangePercentage14d      *float64 `json:"price_change_percentage_14d_in_currency,omitempty"`
	ChangePercentage30d      *float64 `json:"price_change_percentage_30d_in_currency,omitempty"`
	CirculatingSupply        float64  `json:"circulating_supply"`
	LastUpdated              string   `json:"last_updated"`
}

// MarketsQuery narrows a coins/markets request.
type MarketsQuery struct {
	VsCurrency            string
	IDs                   []string
	Category              string
	Order                 string
	PerPage               int
	Page                  int
	PriceChangePercentage string // Comma list: 1h,24h,7d,14d,30d
}

// Markets returns market listings ordered per the query.
func (c *Client) Markets(ctx context.Context, q MarketsQuery) ([]MarketRow, error) {
	if q.VsCurrency == "" {
		q.VsCurrency = "usd"
	}
	if q.Order == "" {
		q.Order = "market_cap_desc"
	}
	if q.PerPage == 0 {
		q.PerPage = 100
	}
	if q.Page == 0 {
		q.Page = 1
	}

	params := url.Values{
		"vs_currency": {q.VsCurrency},
		"order":       {q.Order},
		"per_page":    {fmt.Sprintf("%d", q.PerPage)},
		"page":        {fmt.Sprintf("%d", q.Page)},
	}
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.PriceChangePercentage != "" {
		params.Set("price_change_percentage", q.PriceChangePercentage)
	}

	var rows []MarketRow
	if err := c.get(ctx, "coins/markets", params, ttlMarkets, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GlobalData is the data section of the global endpoint.
type GlobalData struct {
	ActiveCryptocurrencies         int                `json:"active_cryptocurrencies"`
	Markets                        int                `json:"markets"`
	TotalMarketCap                 map[string]float64 `json:"total_market_cap"`
	TotalVolume                    map[string]float64 `json:"total_volume"`
	MarketCapPercentage            map[string]float64 `json:"market_cap_percentage"`
	MarketCapChangePercentage24hUSD float64           `json:"market_cap_change_percentage_24h_usd"`
	UpdatedAt                      int64              `json:"updated_at"`
}

// GetGlobalData returns global market aggregates.
func (c *Client) GetGlobalData(ctx context.Context) (*GlobalData, error) {
	var resp struct {
		Data GlobalData `json:"data"`
	}
	if err := c.get(ctx, "global", nil, ttlMarkets, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// DeFiGlobal is the data section of the DeFi global endpoint. The API
// returns most numbers as strings.
type DeFiGlobal struct {
	DefiMarketCap        string  `json:"defi_market_cap"`
	EthMarketCap         string  `json:"eth_market_cap"`
	DefiToEthRatio       string  `json:"defi_to_eth_ratio"`
	TradingVolume24h     string  `json:"trading_volume_24h"`
	DefiDominance        string  `json:"defi_dominance"`
	TopCoinName          string  `json:"top_coin_name"`
	TopCoinDefiDominance float64 `json:"top_coin_defi_dominance"`
}

// GetGlobalDeFiData returns global DeFi aggregates.
func (c *Client) GetGlobalDeFiData(ctx context.Context) (*DeFiGlobal, error) {
	var resp struct {
		Data DeFiGlobal `json:"data"`
	}
	if err := c.get(ctx, "global/decentralized_finance_defi", nil, ttlMarkets, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// TrendingCoin is one entry of the trending searches list.
type TrendingCoin struct {
	ID            string `json:"id"`
	CoinID        int    `json:"coin_id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank int    `json:"market_cap_rank"`
	Thumb         string `json:"thumb"`
	Score         int    `json:"score"`
}

// Trending returns the coins trending in searches right now.
func (c *Client) Trending(ctx context.Context) ([]TrendingCoin, error) {
	var resp struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := c.get(ctx, "search/trending", nil, ttlMarkets, &resp); err != nil {
		return nil, err
	}

	coins := make([]TrendingCoin, 0, len(resp.Coins))
	for _, wrapped := range resp.Coins {
		coins = append(coins, wrapped.Item)
	}
	return coins, nil
}

// Movers holds the best and worst performers over a timeframe.
type Movers struct {
	Timeframe string      `json:"timeframe"`
	Gainers   []MarketRow `json:"gainers"`
	Losers    []MarketRow `json:"losers"`
}

var timeframeFields = map[string]func(MarketRow) *float64{
	"1h":  func(r MarketRow) *float64 { return r.ChangePercentage1h },
	"24h": func(r MarketRow) *float64 { v := r.PriceChangePercentage24h; return &v },
	"7d":  func(r MarketRow) *float64 { return r.ChangePercentage7d },
	"14d": func(r MarketRow) *float64 { return r.ChangePercentage14d },
	"30d": func(r MarketRow) *float64 { return r.ChangePercentage30d },
}

// TopGainersLosers ranks the top-250 coins by price change over the
// timeframe (1h/24h/7d/14d/30d, default 24h) and returns both tails.
func (c *Client) TopGainersLosers(ctx context.Context, vsCurrency, timeframe string, limit int) (*Movers, error) {
	field, ok := timeframeFields[timeframe]
	if !ok {
		timeframe = "24h"
		field = timeframeFields[timeframe]
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.Markets(ctx, MarketsQuery{
		VsCurrency:            vsCurrency,
		PerPage:               250,
		Page:                  1,
		PriceChangePercentage: "1h,24h,7d,14d,30d",
	})
	if err != nil {
		return nil, err
	}

	valid := make([]MarketRow, 0, len(rows))
	for _, row := range rows {
		if field(row) != nil {
			valid = append(valid, row)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return *field(valid[i]) > *field(valid[j])
	})

	if limit > len(valid) {
		limit = len(valid)
	}

	losers := make([]MarketRow, limit)
	for i := 0; i < limit; i++ {
		losers[i] = valid[len(valid)-1-i]
	}

	return &Movers{
		Timeframe: timeframe,
		Gainers:   append([]MarketRow(nil), valid[:limit]...),
		Losers:    losers,
	}, nil
}

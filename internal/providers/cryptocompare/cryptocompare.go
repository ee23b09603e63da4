// Package cryptocompare is the CryptoCompare min-api client, the primary
// OHLCV source for the technical agent and the social stats source for the
// sentiment agent.
package cryptocompare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "cryptocompare"

const (
	ttlShort = time.Minute
	ttlLong  = time.Hour
)

// MaxHistoryPoints is the API's per-request row limit.
const MaxHistoryPoints = 2000

// APIError is an application-level error in a 200 response; the API signals
// failures through a Response field instead of HTTP status codes.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cryptocompare: %s", e.Message)
}

// Client calls CryptoCompare through the shared guarded transport.
type Client struct {
	transport *providers.Client
	baseURL   string
	apiKey    string
}

func New(transport *providers.Client, cfg config.ProviderConfig, apiKey string) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    apiKey,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, ttl time.Duration, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}

	u := c.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["authorization"] = "Apikey " + c.apiKey
	}

	var raw json.RawMessage
	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      u,
		Headers:  headers,
		CacheKey: fmt.Sprintf("cc:%s?%s", path, params.Encode()),
		TTL:      ttl,
	}, &raw)
	if err != nil && !errors.Is(err, providers.ErrDegraded) {
		return err
	}

	// Errors come back as 200s with Response "Error".
	var envelope struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
	}
	if jerr := json.Unmarshal(raw, &envelope); jerr == nil && envelope.Response == "Error" {
		return &APIError{Message: envelope.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cryptocompare: decoding %s: %w", path, err)
	}
	return nil
}

// PriceMulti returns current prices keyed by from-symbol then to-symbol.
func (c *Client) PriceMulti(ctx context.Context, fsyms, tsyms []string) (map[string]map[string]float64, error) {
	params := url.Values{
		"fsyms": {strings.ToUpper(strings.Join(fsyms, ","))},
		"tsyms": {strings.ToUpper(strings.Join(tsyms, ","))},
	}
	prices := make(map[string]map[string]float64)
	if err := c.get(ctx, "pricemulti", params, ttlShort, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// OHLCVRow is one historical candle with volume in both legs of the pair.
type OHLCVRow struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	VolumeFrom float64 `json:"volumefrom"`
	VolumeTo   float64 `json:"volumeto"`
}

// Interval selects the history resolution.
type Interval string

const (
	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
)

var intervalEndpoints = map[Interval]string{
	IntervalMinute: "histominute",
	IntervalHour:   "histohour",
	IntervalDay:    "histoday",
}

// History returns up to MaxHistoryPoints candles at the given resolution,
// oldest first.
func (c *Client) History(ctx context.Context, fsym, tsym string, interval Interval, limit, aggregate int) ([]OHLCVRow, error) {
	endpoint, ok := intervalEndpoints[interval]
	if !ok {
		return nil, fmt.Errorf("cryptocompare: invalid interval %q", interval)
	}
	if limit > MaxHistoryPoints {
		limit = MaxHistoryPoints
	}
	if limit <= 0 {
		limit = 30
	}
	if aggregate <= 0 {
		aggregate = 1
	}

	params := url.Values{
		"fsym":      {strings.ToUpper(fsym)},
		"tsym":      {strings.ToUpper(tsym)},
		"limit":     {fmt.Sprintf("%d", limit)},
		"aggregate": {fmt.Sprintf("%d", aggregate)},
	}

	var resp struct {
		Data json.RawMessage `json:"Data"`
	}
	if err := c.get(ctx, endpoint, params, ttlLong, &resp); err != nil {
		return nil, err
	}

	// Data is either the row array directly or nested one level deeper
	// depending on API version.
	var rows []OHLCVRow
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		var nested struct {
			Data []OHLCVRow `json:"Data"`
		}
		if err := json.Unmarshal(resp.Data, &nested); err != nil {
			return nil, fmt.Errorf("cryptocompare: decoding %s rows: %w", endpoint, err)
		}
		rows = nested.Data
	}
	return rows, nil
}

// HistoDay returns daily candles.
func (c *Client) HistoDay(ctx context.Context, fsym, tsym string, limit int) ([]OHLCVRow, error) {
	return c.History(ctx, fsym, tsym, IntervalDay, limit, 1)
}

// HistoHour returns hourly candles.
func (c *Client) HistoHour(ctx context.Context, fsym, tsym string, limit int) ([]OHLCVRow, error) {
	return c.History(ctx, fsym, tsym, IntervalHour, limit, 1)
}

// HistoMinute returns minute candles.
func (c *Client) HistoMinute(ctx context.Context, fsym, tsym string, limit int) ([]OHLCVRow, error) {
	return c.History(ctx, fsym, tsym, IntervalMinute, limit, 1)
}

// TopExchange is one venue trading a pair.
type TopExchange struct {
	Exchange   string  `json:"exchange"`
	FromSymbol string  `json:"fromSymbol"`
	ToSymbol   string  `json:"toSymbol"`
	Volume24h  float64 `json:"volume24h"`
	Volume24To float64 `json:"volume24hTo"`
}

// TopExchanges returns the venues with the most volume for a pair.
func (c *Client) TopExchanges(ctx context.Context, fsym, tsym string, limit int) ([]TopExchange, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"fsym":  {strings.ToUpper(fsym)},
		"tsym":  {strings.ToUpper(tsym)},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	var resp struct {
		Data []TopExchange `json:"Data"`
	}
	if err := c.get(ctx, "top/exchanges", params, ttlShort, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// TopPair is one counter-currency for a symbol ranked by volume.
type TopPair struct {
	FromSymbol string  `json:"fromSymbol"`
	ToSymbol   string  `json:"toSymbol"`
	Volume24h  float64 `json:"volume24h"`
}

// TopPairs returns the most traded pairs for a symbol.
func (c *Client) TopPairs(ctx context.Context, fsym string, limit int) ([]TopPair, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"fsym":  {strings.ToUpper(fsym)},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	var resp struct {
		Data []TopPair `json:"Data"`
	}
	if err := c.get(ctx, "top/pairs", params, ttlShort, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CoinListEntry is the static metadata for one listed coin.
type CoinListEntry struct {
	CoinName             string `json:"CoinName"`
	FullName             string `json:"FullName"`
	Algorithm            string `json:"Algorithm"`
	ProofType            string `json:"ProofType"`
	FullyPremined        string `json:"FullyPremined"`
	TotalCoinSupply      string `json:"TotalCoinSupply"`
	BuiltOn              string `json:"BuiltOn"`
	SmartContractAddress string `json:"SmartContractAddress"`
	Description          string `json:"Description"`
	Twitter              string `json:"Twitter"`
	WebsiteURL           string `json:"WebsiteUrl"`
	ImageURL             string `json:"ImageUrl"`
}

// CoinList returns the full coin metadata catalog keyed by symbol.
func (c *Client) CoinList(ctx context.Context) (map[string]CoinListEntry, error) {
	var resp struct {
		Data map[string]CoinListEntry `json:"Data"`
	}
	if err := c.get(ctx, "all/coinlist", nil, ttlLong, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// RawQuote is the numeric quote block of a top market cap row.
type RawQuote struct {
	Price           float64 `json:"PRICE"`
	MarketCap       float64 `json:"MKTCAP"`
	TotalVolume24h  float64 `json:"TOTALVOLUME24H"`
	ChangePct24Hour float64 `json:"CHANGEPCT24HOUR"`
}

// TopMarketCapRow is one coin from the top/mktcapfull listing.
type TopMarketCapRow struct {
	CoinInfo struct {
		Name     string `json:"Name"`
		FullName string `json:"FullName"`
		ImageURL string `json:"ImageUrl"`
	} `json:"CoinInfo"`
	Raw map[string]RawQuote `json:"RAW"`
}

// TopMarketCap returns the largest coins by market cap quoted in tsym.
func (c *Client) TopMarketCap(ctx context.Context, tsym string, limit int) ([]TopMarketCapRow, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"tsym":  {strings.ToUpper(tsym)},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	var resp struct {
		Data []TopMarketCapRow `json:"Data"`
	}
	if err := c.get(ctx, "top/mktcapfull", params, ttlShort, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GlobalStats is the market-wide aggregate block from the global endpoint.
type GlobalStats struct {
	TotalMarketCap float64 `json:"total_market_cap"`
	TotalVolume24h float64 `json:"total_volume_24h"`
	BTCDominance   float64 `json:"btc_dominance"`
}

// GetGlobalStats returns market-wide totals quoted in tsym (defaults to USD).
func (c *Client) GetGlobalStats(ctx context.Context, tsym string) (*GlobalStats, error) {
	if tsym == "" {
		tsym = "USD"
	}
	params := url.Values{"tsym": {strings.ToUpper(tsym)}}
	var resp struct {
		Data GlobalStats `json:"Data"`
	}
	if err := c.get(ctx, "global", params, ttlShort, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SocialStats aggregates community activity counters for a coin.
type SocialStats struct {
	Twitter struct {
		Followers int     `json:"followers"`
		Following int     `json:"following"`
		Statuses  int     `json:"statuses"`
		Points    float64 `json:"Points"`
	} `json:"Twitter"`
	Reddit struct {
		Subscribers    int     `json:"subscribers"`
		ActiveUsers    int     `json:"active_users"`
		PostsPerDay    float64 `json:"posts_per_day"`
		CommentsPerDay float64 `json:"comments_per_day"`
		Points         float64 `json:"Points"`
	} `json:"Reddit"`
	CodeRepository struct {
		Stars        int     `json:"stars"`
		Forks        int     `json:"forks"`
		OpenIssues   int     `json:"open_issues"`
		ClosedIssues int     `json:"closed_issues"`
		Contributors int     `json:"contributors"`
		Points       float64 `json:"Points"`
	} `json:"CodeRepository"`
}

// GetSocialStats returns twitter/reddit/github activity for a coin.
func (c *Client) GetSocialStats(ctx context.Context, coinID string) (*SocialStats, error) {
	params := url.Values{"coinid": {strings.ToUpper(coinID)}}
	var resp struct {
		Data SocialStats `json:"Data"`
	}
	if err := c.get(ctx, "social/coin/latest", params, ttlShort, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

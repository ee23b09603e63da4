// Package lunarcrush is the LunarCrush v2 API client for social sentiment
// metrics. The v2 API multiplexes everything through one endpoint selected
// by the data query param.
package lunarcrush

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "lunarcrush"

const sentimentTTL = 5 * time.Minute

var (
	// ErrNoAPIKey is returned when no key is configured.
	ErrNoAPIKey = errors.New("lunarcrush: api key not configured")
	// ErrAssetNotFound is returned when a symbol has no data.
	ErrAssetNotFound = errors.New("lunarcrush: asset not found")
)

// Client calls LunarCrush through the shared guarded transport.
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

func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	// The API key stays out of the cache key.
	cacheKey := "lc:?" + params.Encode()
	params.Set("key", c.apiKey)

	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      c.baseURL + "/?" + params.Encode(),
		CacheKey: cacheKey,
		TTL:      sentimentTTL,
	}, out)
	if errors.Is(err, providers.ErrDegraded) {
		return nil
	}
	return err
}

// SentimentSplit is the bullish/bearish/neutral post breakdown.
type SentimentSplit struct {
	Bullish int `json:"bullish"`
	Bearish int `json:"bearish"`
	Neutral int `json:"neutral"`
}

// Asset is one coin's social metrics row.
type Asset struct {
	Symbol             string         `json:"symbol"`
	Name               string         `json:"name"`
	GalaxyScore        float64        `json:"galaxy_score"`
	AltRank            int            `json:"alt_rank"`
	SocialScore        float64        `json:"social_score"`
	SocialVolume       float64        `json:"social_volume"`
	SocialImpactScore  float64        `json:"social_impact_score"`
	SocialContributors float64        `json:"social_contributors"`
	AverageSentiment   float64        `json:"average_sentiment"`
	SentimentAbsolute  float64        `json:"sentiment_absolute"`
	Sentiment1d        SentimentSplit `json:"sentiment_1d"`
	TwitterVolume      float64        `json:"twitter_volume"`
	RedditVolume       float64        `json:"reddit_volume"`
	NewsVolume         float64        `json:"news_volume"`
	PriceBTC           float64        `json:"price_btc"`
	PercentChange24h   float64        `json:"percent_change_24h"`
}

// Assets returns the most popular coins by social activity.
func (c *Client) Assets(ctx context.Context, limit, page int) ([]Asset, error) {
	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	params := url.Values{
		"data":  {"market"},
		"limit": {strconv.Itoa(limit)},
		"page":  {strconv.Itoa(page)},
	}
	var resp struct {
		Data []Asset `json:"data"`
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetAsset returns social metrics for one symbol.
func (c *Client) GetAsset(ctx context.Context, symbol string) (*Asset, error) {
	params := url.Values{
		"data":   {"assets"},
		"symbol": {strings.ToUpper(symbol)},
	}
	var resp struct {
		Data []Asset `json:"data"`
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
	}
	return &resp.Data[0], nil
}

// Feed is one social or news item about a coin.
type Feed struct {
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Sentiment float64 `json:"sentiment"`
	URL       string  `json:"url"`
	Time      int64   `json:"time"`
}

// Feeds returns recent social and news items for a symbol.
func (c *Client) Feeds(ctx context.Context, symbol string, limit int) ([]Feed, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"data":   {"feeds"},
		"symbol": {strings.ToUpper(symbol)},
		"limit":  {strconv.Itoa(limit)},
	}
	var resp struct {
		Data []Feed `json:"data"`
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CoinOfTheDay returns the coin with the top galaxy score right now.
func (c *Client) CoinOfTheDay(ctx context.Context) (*Asset, error) {
	params := url.Values{
		"data":  {"market"},
		"type":  {"fast"},
		"sort":  {"galaxy_score"},
		"desc":  {"true"},
		"limit": {"1"},
	}
	var resp struct {
		Data []Asset `json:"data"`
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrAssetNotFound
	}
	return &resp.Data[0], nil
}

// SocialSentiment is the per-token social report.
type SocialSentiment struct {
	Symbol             string    `json:"symbol"`
	Name               string    `json:"name"`
	Timestamp          time.Time `json:"timestamp"`
	AverageSentiment   float64   `json:"average_sentiment"`
	SentimentAbsolute  float64   `json:"sentiment_absolute"`
	BullishSentiment   int       `json:"bullish_sentiment"`
	BearishSentiment   int       `json:"bearish_sentiment"`
	NeutralSentiment   int       `json:"neutral_sentiment"`
	SocialImpactScore  float64   `json:"social_impact_score"`
	SocialScore        float64   `json:"social_score"`
	SocialVolume       float64   `json:"social_volume"`
	SocialContributors float64   `json:"social_contributors"`
	GalaxyScore        float64   `json:"galaxy_score"`
	AltRank            int       `json:"alt_rank"`
	TwitterVolume      float64   `json:"twitter_volume"`
	RedditVolume       float64   `json:"reddit_volume"`
	NewsVolume         float64   `json:"news_volume"`
	RecentFeeds        []Feed    `json:"recent_feeds"`
}

// GetSocialSentiment combines asset metrics with recent feeds for a symbol.
func (c *Client) GetSocialSentiment(ctx context.Context, symbol string) (*SocialSentiment, error) {
	asset, err := c.GetAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}

	feeds, err := c.Feeds(ctx, symbol, 20)
	if err != nil {
		feeds = nil // Asset metrics alone are still useful.
	}
	if len(feeds) > 10 {
		feeds = feeds[:10]
	}

	return &SocialSentiment{
		Symbol:             strings.ToUpper(symbol),
		Name:               asset.Name,
		Timestamp:          time.Now().UTC(),
		AverageSentiment:   asset.AverageSentiment,
		SentimentAbsolute:  asset.SentimentAbsolute,
		BullishSentiment:   asset.Sentiment1d.Bullish,
		BearishSentiment:   asset.Sentiment1d.Bearish,
		NeutralSentiment:   asset.Sentiment1d.Neutral,
		SocialImpactScore:  asset.SocialImpactScore,
		SocialScore:        asset.SocialScore,
		SocialVolume:       asset.SocialVolume,
		SocialContributors: asset.SocialContributors,
		GalaxyScore:        asset.GalaxyScore,
		AltRank:            asset.AltRank,
		TwitterVolume:      asset.TwitterVolume,
		RedditVolume:       asset.RedditVolume,
		NewsVolume:         asset.NewsVolume,
		RecentFeeds:        feeds,
	}, nil
}

// MarketSentiment is the social mood across the top coins.
type MarketSentiment struct {
	Timestamp               time.Time `json:"timestamp"`
	AverageSentiment        float64   `json:"average_sentiment"`
	SentimentClassification string    `json:"sentiment_classification"`
	AverageGalaxyScore      float64   `json:"average_galaxy_score"`
	BullishPercentage       float64   `json:"bullish_percentage"`
	BearishPercentage       float64   `json:"bearish_percentage"`
	NeutralPercentage       float64   `json:"neutral_percentage"`
	CoinsAnalyzed           []Asset   `json:"coins_analyzed"`
	CoinOfDay               *Asset    `json:"coin_of_day,omitempty"`
}

// GetMarketSentiment averages social sentiment over the top coins. Average
// above 60 reads bullish, below 40 bearish.
func (c *Client) GetMarketSentiment(ctx context.Context, topCoins int) (*MarketSentiment, error) {
	if topCoins <= 0 {
		topCoins = 10
	}
	assets, err := c.Assets(ctx, topCoins, 1)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrAssetNotFound
	}

	var sentimentSum, galaxySum float64
	var bullish, bearish, neutral int
	for _, a := range assets {
		sentimentSum += a.AverageSentiment
		galaxySum += a.GalaxyScore
		bullish += a.Sentiment1d.Bullish
		bearish += a.Sentiment1d.Bearish
		neutral += a.Sentiment1d.Neutral
	}

	ms := &MarketSentiment{
		Timestamp:          time.Now().UTC(),
		AverageSentiment:   sentimentSum / float64(len(assets)),
		AverageGalaxyScore: galaxySum / float64(len(assets)),
		CoinsAnalyzed:      assets,
	}

	switch {
	case ms.AverageSentiment > 60:
		ms.SentimentClassification = "bullish"
	case ms.AverageSentiment < 40:
		ms.SentimentClassification = "bearish"
	default:
		ms.SentimentClassification = "neutral"
	}

	if total := bullish + bearish + neutral; total > 0 {
		ms.BullishPercentage = float64(bullish) / float64(total) * 100
		ms.BearishPercentage = float64(bearish) / float64(total) * 100
		ms.NeutralPercentage = float64(neutral) / float64(total) * 100
	}

	if coin, err := c.CoinOfTheDay(ctx); err == nil {
		ms.CoinOfDay = coin
	}
	return ms, nil
}

// Package cryptopanic is the CryptoPanic news API client. Vote counts on
// posts drive the news leg of sentiment analysis.
package cryptopanic

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "cryptopanic"

const newsTTL = 5 * time.Minute

// ErrNoAuthToken is returned when no API token is configured; the posts API
// rejects anonymous requests.
var ErrNoAuthToken = errors.New("cryptopanic: auth token not configured")

// Client calls CryptoPanic through the shared guarded transport.
type Client struct {
	transport *providers.Client
	baseURL   string
	authToken string
}

func New(transport *providers.Client, cfg config.ProviderConfig, authToken string) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: authToken,
	}
}

// Votes are the community reactions on a post.
type Votes struct {
	Negative  int `json:"negative"`
	Positive  int `json:"positive"`
	Important int `json:"important"`
	Liked     int `json:"liked"`
	Disliked  int `json:"disliked"`
	Saved     int `json:"saved"`
	Comments  int `json:"comments"`
}

// CurrencyRef ties a post to a coin.
type CurrencyRef struct {
	Code  string `json:"code"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// Post is one news item.
type Post struct {
	Kind        string        `json:"kind"`
	Domain      string        `json:"domain"`
	Title       string        `json:"title"`
	PublishedAt string        `json:"published_at"`
	URL         string        `json:"url"`
	Votes       Votes         `json:"votes"`
	Currencies  []CurrencyRef `json:"currencies"`
}

// PostsPage is one page of the posts listing.
type PostsPage struct {
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
	Results  []Post `json:"results"`
}

// PostsQuery filters the posts listing.
type PostsQuery struct {
	Currencies string // Comma list of symbols, e.g. "BTC,ETH"
	Regions    string
	Kind       string // news or media
	Filter     string // rising/hot/bullish/bearish/important/saved
	Page       int
}

// Posts fetches news with the given filters.
func (c *Client) Posts(ctx context.Context, q PostsQuery) (*PostsPage, error) {
	if c.authToken == "" {
		return nil, ErrNoAuthToken
	}

	params := url.Values{"public": {"true"}}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Currencies != "" {
		params.Set("currencies", strings.ToUpper(q.Currencies))
	}
	if q.Regions != "" {
		params.Set("regions", q.Regions)
	}
	if q.Kind != "" {
		params.Set("kind", q.Kind)
	}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}

	// The auth token stays out of the cache key.
	cacheKey := "cp:posts?" + params.Encode()
	params.Set("auth_token", c.authToken)

	var page PostsPage
	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      c.baseURL + "/posts/?" + params.Encode(),
		CacheKey: cacheKey,
		TTL:      newsTTL,
	}, &page)
	if err != nil && !errors.Is(err, providers.ErrDegraded) {
		return nil, err
	}
	return &page, nil
}

// NewsItem is a condensed post with its vote-derived lean.
type NewsItem struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at"`
	Sentiment   string   `json:"sentiment"`
	Votes       Votes    `json:"votes"`
	Currencies  []string `json:"currencies,omitempty"`
}

// TokenSentiment summarizes news lean for one token.
type TokenSentiment struct {
	Symbol            string     `json:"symbol"`
	Sentiment         string     `json:"sentiment"`
	BullishPercentage float64    `json:"bullish_percentage"`
	BearishPercentage float64    `json:"bearish_percentage"`
	NeutralPercentage float64    `json:"neutral_percentage"`
	TotalNewsCount    int        `json:"total_news_count"`
	BullishNewsCount  int        `json:"bullish_news_count"`
	BearishNewsCount  int        `json:"bearish_news_count"`
	NeutralNewsCount  int        `json:"neutral_news_count"`
	RecentNews        []NewsItem `json:"recent_news"`
	Timestamp         time.Time  `json:"timestamp"`
}

// GetTokenSentiment counts bullish vs bearish coverage for a symbol.
func (c *Client) GetTokenSentiment(ctx context.Context, symbol string) (*TokenSentiment, error) {
	bullish, err := c.Posts(ctx, PostsQuery{Currencies: symbol, Filter: "bullish"})
	if err != nil {
		return nil, err
	}
	bearish, err := c.Posts(ctx, PostsQuery{Currencies: symbol, Filter: "bearish"})
	if err != nil {
		return nil, err
	}
	all, err := c.Posts(ctx, PostsQuery{Currencies: symbol})
	if err != nil {
		return nil, err
	}

	bullishCount := len(bullish.Results)
	bearishCount := len(bearish.Results)
	allCount := len(all.Results)
	neutralCount := allCount - bullishCount - bearishCount

	ts := &TokenSentiment{
		Symbol:           strings.ToUpper(symbol),
		TotalNewsCount:   allCount,
		BullishNewsCount: bullishCount,
		BearishNewsCount: bearishCount,
		NeutralNewsCount: neutralCount,
		Timestamp:        time.Now().UTC(),
	}
	if allCount > 0 {
		ts.BullishPercentage = float64(bullishCount) / float64(allCount) * 100
		ts.BearishPercentage = float64(bearishCount) / float64(allCount) * 100
		ts.NeutralPercentage = float64(neutralCount) / float64(allCount) * 100
	}
	ts.Sentiment = predominant(ts.BullishPercentage, ts.BearishPercentage, ts.NeutralPercentage)

	for _, post := range firstN(all.Results, 5) {
		ts.RecentNews = append(ts.RecentNews, newsItem(post, false))
	}
	return ts, nil
}

// FearGreed is the news-derived fear/greed estimate.
type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

// MarketSentiment summarizes news lean across the whole market.
type MarketSentiment struct {
	MarketSentiment   string     `json:"market_sentiment"`
	BullishPercentage float64    `json:"bullish_percentage"`
	BearishPercentage float64    `json:"bearish_percentage"`
	NeutralPercentage float64    `json:"neutral_percentage"`
	TotalNewsCount    int        `json:"total_news_count"`
	FearGreedIndex    FearGreed  `json:"fear_greed_index"`
	TrendingNews      []NewsItem `json:"trending_news"`
	Timestamp         time.Time  `json:"timestamp"`
	Source            string     `json:"source"`
}

// GetMarketSentiment aggregates global news lean and derives a fear/greed
// value from it: 50 + (bullish% - bearish%)/2, clamped to 0-100.
func (c *Client) GetMarketSentiment(ctx context.Context) (*MarketSentiment, error) {
	bullish, err := c.Posts(ctx, PostsQuery{Filter: "bullish"})
	if err != nil {
		return nil, err
	}
	bearish, err := c.Posts(ctx, PostsQuery{Filter: "bearish"})
	if err != nil {
		return nil, err
	}
	important, err := c.Posts(ctx, PostsQuery{Filter: "important"})
	if err != nil {
		return nil, err
	}
	all, err := c.Posts(ctx, PostsQuery{})
	if err != nil {
		return nil, err
	}

	bullishCount := len(bullish.Results)
	bearishCount := len(bearish.Results)
	allCount := len(all.Results)
	neutralCount := allCount - bullishCount - bearishCount

	ms := &MarketSentiment{
		TotalNewsCount: allCount,
		Timestamp:      time.Now().UTC(),
		Source:         "CryptoPanic",
	}
	if allCount > 0 {
		ms.BullishPercentage = float64(bullishCount) / float64(allCount) * 100
		ms.BearishPercentage = float64(bearishCount) / float64(allCount) * 100
		ms.NeutralPercentage = float64(neutralCount) / float64(allCount) * 100
	}
	ms.MarketSentiment = predominant(ms.BullishPercentage, ms.BearishPercentage, ms.NeutralPercentage)

	value := 50 + (ms.BullishPercentage-ms.BearishPercentage)/2
	value = math.Max(0, math.Min(100, value))
	ms.FearGreedIndex = FearGreed{
		Value:          int(math.Round(value)),
		Classification: classifyFearGreed(value),
	}

	for _, post := range firstN(important.Results, 5) {
		ms.TrendingNews = append(ms.TrendingNews, newsItem(post, true))
	}
	return ms, nil
}

func newsItem(post Post, withCurrencies bool) NewsItem {
	item := NewsItem{
		Title:       post.Title,
		URL:         post.URL,
		PublishedAt: post.PublishedAt,
		Sentiment:   postSentiment(post.Votes),
		Votes:       post.Votes,
	}
	if withCurrencies {
		for _, cur := range post.Currencies {
			item.Currencies = append(item.Currencies, cur.Code)
		}
	}
	return item
}

func postSentiment(v Votes) string {
	switch {
	case v.Positive > v.Negative:
		return "bullish"
	case v.Negative > v.Positive:
		return "bearish"
	default:
		return "neutral"
	}
}

func predominant(bullish, bearish, neutral float64) string {
	switch {
	case bullish > bearish && bullish > neutral:
		return "bullish"
	case bearish > bullish && bearish > neutral:
		return "bearish"
	default:
		return "neutral"
	}
}

func classifyFearGreed(value float64) string {
	switch {
	case value <= 25:
		return "Extreme Fear"
	case value <= 45:
		return "Fear"
	case value <= 55:
		return "Neutral"
	case value <= 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

func firstN(posts []Post, n int) []Post {
	if len(posts) > n {
		return posts[:n]
	}
	return posts
}

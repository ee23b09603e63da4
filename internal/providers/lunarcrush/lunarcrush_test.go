package lunarcrush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, apiKey string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{
			"lunarcrush": {
				Host:        "api.lunarcrush.com",
				BaseURL:     srv.URL,
				RPS:         100,
				Burst:       100,
				DailyBudget: 10000,
				TTLSecs:     300,
				Circuit: config.CircuitConfig{
					ErrorRateThreshold:  50,
					ConsecutiveFailures: 10,
					MaxRequests:         2,
					IntervalMS:          1000,
					TimeoutMS:           1000,
					RequestTimeoutMS:    5000,
				},
				Enabled: true,
			},
		},
		Budget: config.BudgetConfig{WarnThreshold: 0.8},
		Global: config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "test"},
	}
	transport := providers.New(cfg, cache.NewMemory())
	return New(transport, cfg.Providers["lunarcrush"], apiKey), srv
}

func marketAssets(assets []Asset) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": assets})
	}
}

func TestAssetsRequiresAPIKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the server without a key")
	}, "")

	_, err := client.Assets(context.Background(), 10, 1)
	assert.ErrorIs(t, err, ErrNoAPIKey, "missing key should fail before any network call")
}

func TestAssetsPassesKeyAndPaging(t *testing.T) {
	var gotQuery map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"data":  r.URL.Query().Get("data"),
			"key":   r.URL.Query().Get("key"),
			"limit": r.URL.Query().Get("limit"),
			"page":  r.URL.Query().Get("page"),
		}
		marketAssets([]Asset{{Symbol: "BTC", Name: "Bitcoin", GalaxyScore: 72.5}})(w, r)
	}, "test-key")

	assets, err := client.Assets(context.Background(), 25, 2)
	require.NoError(t, err)
	require.Len(t, assets, 1)

	assert.Equal(t, "market", gotQuery["data"])
	assert.Equal(t, "test-key", gotQuery["key"])
	assert.Equal(t, "25", gotQuery["limit"])
	assert.Equal(t, "2", gotQuery["page"])
	assert.Equal(t, "BTC", assets[0].Symbol)
	assert.InDelta(t, 72.5, assets[0].GalaxyScore, 0.001)
}

func TestGetAssetNotFound(t *testing.T) {
	client, _ := newTestClient(t, marketAssets(nil), "test-key")

	_, err := client.GetAsset(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestGetAssetUppercasesSymbol(t *testing.T) {
	var gotSymbol string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		marketAssets([]Asset{{Symbol: "ETH", Name: "Ethereum", AverageSentiment: 3.8}})(w, r)
	}, "test-key")

	asset, err := client.GetAsset(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, "ETH", gotSymbol)
	assert.Equal(t, "Ethereum", asset.Name)
}

func TestCoinOfTheDaySortsByGalaxyScore(t *testing.T) {
	var gotQuery map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"sort":  r.URL.Query().Get("sort"),
			"desc":  r.URL.Query().Get("desc"),
			"limit": r.URL.Query().Get("limit"),
		}
		marketAssets([]Asset{{Symbol: "SOL", GalaxyScore: 81}})(w, r)
	}, "test-key")

	coin, err := client.CoinOfTheDay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "galaxy_score", gotQuery["sort"])
	assert.Equal(t, "true", gotQuery["desc"])
	assert.Equal(t, "1", gotQuery["limit"])
	assert.Equal(t, "SOL", coin.Symbol)
}

func TestGetSocialSentimentCombinesAssetAndFeeds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("data") {
		case "assets":
			marketAssets([]Asset{{
				Symbol:           "BTC",
				Name:             "Bitcoin",
				AverageSentiment: 3.9,
				GalaxyScore:      74,
				Sentiment1d:      SentimentSplit{Bullish: 120, Bearish: 40, Neutral: 40},
				TwitterVolume:    5000,
			}})(w, r)
		case "feeds":
			json.NewEncoder(w).Encode(map[string]interface{}{"data": []Feed{
				{Type: "news", Title: "BTC breaks out", Sentiment: 4.2},
				{Type: "tweet", Title: "to the moon", Sentiment: 4.8},
			}})
		default:
			t.Fatalf("unexpected data param %q", r.URL.Query().Get("data"))
		}
	}, "test-key")

	ss, err := client.GetSocialSentiment(context.Background(), "btc")
	require.NoError(t, err)

	assert.Equal(t, "BTC", ss.Symbol)
	assert.Equal(t, "Bitcoin", ss.Name)
	assert.Equal(t, 120, ss.BullishSentiment)
	assert.Equal(t, 40, ss.BearishSentiment)
	assert.InDelta(t, 74, ss.GalaxyScore, 0.001)
	assert.Len(t, ss.RecentFeeds, 2)
	assert.Equal(t, "BTC breaks out", ss.RecentFeeds[0].Title)
}

func TestGetMarketSentimentClassification(t *testing.T) {
	cases := []struct {
		name      string
		sentiment float64
		want      string
	}{
		{"bullish above 60", 72, "bullish"},
		{"bearish below 40", 25, "bearish"},
		{"neutral in between", 50, "neutral"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				marketAssets([]Asset{
					{Symbol: "BTC", AverageSentiment: tc.sentiment, GalaxyScore: 70,
						Sentiment1d: SentimentSplit{Bullish: 60, Bearish: 20, Neutral: 20}},
					{Symbol: "ETH", AverageSentiment: tc.sentiment, GalaxyScore: 66,
						Sentiment1d: SentimentSplit{Bullish: 30, Bearish: 10, Neutral: 10}},
				})(w, r)
			}, "test-key")

			ms, err := client.GetMarketSentiment(context.Background(), 2)
			require.NoError(t, err)

			assert.Equal(t, tc.want, ms.SentimentClassification)
			assert.InDelta(t, tc.sentiment, ms.AverageSentiment, 0.001)
			assert.InDelta(t, 68, ms.AverageGalaxyScore, 0.001)
			assert.InDelta(t, 60.0, ms.BullishPercentage, 0.001, "90 of 150 votes are bullish")
			assert.InDelta(t, 20.0, ms.BearishPercentage, 0.001)
			assert.Len(t, ms.CoinsAnalyzed, 2)
		})
	}
}

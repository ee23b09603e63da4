// Package defillama is the DefiLlama API client for DeFi TVL metrics.
package defillama

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "defillama"

const (
	ttlMain       = 5 * time.Minute
	ttlHistorical = time.Hour
)

// Client calls DefiLlama through the shared guarded transport. The API is
// keyless.
type Client struct {
	transport *providers.Client
	baseURL   string
}

func New(transport *providers.Client, cfg config.ProviderConfig) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, ttl time.Duration, out interface{}) error {
	u := c.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      u,
		CacheKey: fmt.Sprintf("llama:%s?%s", path, params.Encode()),
		TTL:      ttl,
	}, out)
	if errors.Is(err, providers.ErrDegraded) {
		return nil
	}
	return err
}

// Protocol is one row of the protocols listing. Change fields are nullable
// in the API.
type Protocol struct {
	Name      string             `json:"name"`
	Slug      string             `json:"slug"`
	Symbol    string             `json:"symbol"`
	Chain     string             `json:"chain"`
	Category  string             `json:"category"`
	Logo      string             `json:"logo"`
	TVL       float64            `json:"tvl"`
	Change1d  *float64           `json:"change_1d"`
	Change7d  *float64           `json:"change_7d"`
	ChainTVLs map[string]float64 `json:"chainTvls"`
}

// Protocols returns every tracked DeFi protocol.
func (c *Client) Protocols(ctx context.Context) ([]Protocol, error) {
	var protocols []Protocol
	if err := c.get(ctx, "protocols", nil, ttlMain, &protocols); err != nil {
		return nil, err
	}
	return protocols, nil
}

// TVLPoint is one step of a TVL time series.
type TVLPoint struct {
	Date              int64   `json:"date"`
	TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
}

// ProtocolDetail is the full payload for a single protocol.
type ProtocolDetail struct {
	Name             string             `json:"name"`
	Slug             string             `json:"slug"`
	Symbol           string             `json:"symbol"`
	Category         string             `json:"category"`
	Chains           []string           `json:"chains"`
	CurrentChainTVLs map[string]float64 `json:"currentChainTvls"`
	TVL              []TVLPoint         `json:"tvl"`
}

// GetProtocol returns full detail, TVL history included, for a slug.
func (c *Client) GetProtocol(ctx context.Context, slug string) (*ProtocolDetail, error) {
	var detail ProtocolDetail
	if err := c.get(ctx, "protocol/"+url.PathEscape(slug), nil, ttlMain, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// TVLHistory returns the global DeFi TVL series, oldest first.
func (c *Client) TVLHistory(ctx context.Context) ([]TVLPoint, error) {
	var points []TVLPoint
	if err := c.get(ctx, "charts", nil, ttlHistorical, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// ChainTVL is the current TVL of one chain.
type ChainTVL struct {
	Name        string  `json:"name"`
	TokenSymbol string  `json:"tokenSymbol"`
	TVL         float64 `json:"tvl"`
	GeckoID     string  `json:"gecko_id"`
}

// ChainTVLs returns per-chain TVL totals.
func (c *Client) ChainTVLs(ctx context.Context) ([]ChainTVL, error) {
	var chains []ChainTVL
	if err := c.get(ctx, "chains", nil, ttlHistorical, &chains); err != nil {
		return nil, err
	}
	return chains, nil
}

// TopProtocols returns the n largest protocols by TVL.
func (c *Client) TopProtocols(ctx context.Context, n int) ([]Protocol, error) {
	if n <= 0 {
		n = 10
	}
	protocols, err := c.Protocols(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(protocols, func(i, j int) bool {
		return protocols[i].TVL > protocols[j].TVL
	})
	if n > len(protocols) {
		n = len(protocols)
	}
	return protocols[:n], nil
}

// Overview summarizes the DeFi market.
type Overview struct {
	CurrentTVL            float64    `json:"current_tvl"`
	DailyChangePercentage float64    `json:"daily_change_percentage"`
	ProtocolsCount        int        `json:"protocols_count"`
	TopChains             []ChainTVL `json:"top_chains"`
	TopProtocols          []Protocol `json:"top_protocols"`
}

// MarketOverview composes the global TVL, its 1-day change, the top chains,
// and the top protocols into one snapshot.
func (c *Client) MarketOverview(ctx context.Context) (*Overview, error) {
	history, err := c.TVLHistory(ctx)
	if err != nil {
		return nil, err
	}

	overview := &Overview{}
	if n := len(history); n > 0 {
		overview.CurrentTVL = history[n-1].TotalLiquidityUSD
		if n > 1 && history[n-2].TotalLiquidityUSD > 0 {
			prev := history[n-2].TotalLiquidityUSD
			overview.DailyChangePercentage = (overview.CurrentTVL - prev) / prev * 100
		}
	}

	protocols, err := c.Protocols(ctx)
	if err != nil {
		return nil, err
	}
	overview.ProtocolsCount = len(protocols)

	sort.SliceStable(protocols, func(i, j int) bool {
		return protocols[i].TVL > protocols[j].TVL
	})
	top := 10
	if top > len(protocols) {
		top = len(protocols)
	}
	overview.TopProtocols = protocols[:top]

	chains, err := c.ChainTVLs(ctx)
	if err == nil {
		sort.SliceStable(chains, func(i, j int) bool {
			return chains[i].TVL > chains[j].TVL
		})
		topChains := 5
		if topChains > len(chains) {
			topChains = len(chains)
		}
		overview.TopChains = chains[:topChains]
	}

	return overview, nil
}

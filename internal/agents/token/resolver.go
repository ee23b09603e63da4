// Package token resolves free-form token references to canonical CoinGecko
// coin ids. A reference may be an id ("bitcoin"), a ticker ("BTC"), a
// contract address, or a coin page URL from CoinGecko, CoinMarketCap, or a
// block explorer.
package token

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/defiinsight/insight/internal/providers/coingecko"
)

// ErrNotFound is returned when a reference cannot be mapped to any coin.
var ErrNotFound = errors.New("token not found")

// Source is the slice of the CoinGecko client the resolver needs.
type Source interface {
	Search(ctx context.Context, query string) ([]coingecko.SearchCoin, error)
	GetCoin(ctx context.Context, id string) (*coingecko.CoinData, error)
	ContractInfo(ctx context.Context, chain, address string) (*coingecko.CoinData, error)
}

// Resolution names a resolved coin and how it was found.
type Resolution struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Method string `json:"method"` // id, symbol, search, contract, url
}

var (
	addressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// URL extraction patterns, tried in order. The contract pattern must
	// run before the plain coins pattern because contract URLs also
	// contain a /coins/ segment.
	contractURLRe   = regexp.MustCompile(`/coins/([a-z0-9-]+)/contract/(0x[a-fA-F0-9]{40})`)
	explorerURLRe   = regexp.MustCompile(`/token/(0x[a-fA-F0-9]{40})`)
	currenciesURLRe = regexp.MustCompile(`/currencies/([a-zA-Z0-9_-]+)`)
	coinsURLRe      = regexp.MustCompile(`/coins/([a-zA-Z0-9_-]+)`)
)

// wellKnown short-circuits the major tickers so they never cost a search
// round trip.
var wellKnown = map[string]string{
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"usdt": "tether",
	"bnb":  "binancecoin",
	"sol":  "solana",
	"xrp":  "ripple",
	"usdc": "usd-coin",
	"ada":  "cardano",
	"doge": "dogecoin",
	"dot":  "polkadot",
}

// cmcSlugs maps CoinMarketCap currency slugs to CoinGecko ids where the two
// disagree; identical slugs fall through to an id lookup.
var cmcSlugs = map[string]string{
	"bnb":          "binancecoin",
	"xrp":          "ripple",
	"polkadot-new": "polkadot",
}

// contractChains are the platforms tried, in order, for bare contract
// addresses with no chain hint.
var contractChains = []string{"ethereum", "binance-smart-chain", "polygon-pos"}

// Resolver resolves references through a CoinGecko source and memoizes
// successful lookups for the life of the process.
type Resolver struct {
	coins Source

	mu   sync.Mutex
	memo map[string]Resolution
}

func NewResolver(coins Source) *Resolver {
	return &Resolver{coins: coins, memo: make(map[string]Resolution)}
}

// Resolve maps input to a coin. Resolution order: URL extraction, contract
// address lookup, well-known ticker, direct id, then search.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	key := strings.ToLower(input)

	r.mu.Lock()
	if res, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return &res, nil
	}
	r.mu.Unlock()

	res, err := r.resolve(ctx, input)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.memo[key] = *res
	r.mu.Unlock()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, input string) (*Resolution, error) {
	if strings.Contains(input, "://") || strings.HasPrefix(strings.ToLower(input), "www.") {
		return r.fromURL(ctx, input)
	}

	ref := strings.ToLower(input)

	if addressRe.MatchString(ref) {
		return r.fromContract(ctx, "", input)
	}

	if id, ok := wellKnown[ref]; ok {
		res, err := r.fromID(ctx, id, "symbol")
		if err == nil {
			return res, nil
		}
	}

	if res, err := r.fromID(ctx, ref, "id"); err == nil {
		return res, nil
	}

	return r.fromSearch(ctx, ref)
}

func (r *Resolver) fromID(ctx context.Context, id, method string) (*Resolution, error) {
	coin, err := r.coins.GetCoin(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return resolution(coin, method), nil
}

// fromSearch prefers an exact symbol match with the best market cap rank and
// falls back to the first search hit.
func (r *Resolver) fromSearch(ctx context.Context, ref string) (*Resolution, error) {
	coins, err := r.coins.Search(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", ref, err)
	}
	if len(coins) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	best := -1
	for i, c := range coins {
		if !strings.EqualFold(c.Symbol, ref) {
			continue
		}
		if best == -1 || betterRank(c.MarketCapRank, coins[best].MarketCapRank) {
			best = i
		}
	}
	if best == -1 {
		best = 0
	}

	c := coins[best]
	return &Resolution{
		ID:     c.ID,
		Symbol: strings.ToUpper(c.Symbol),
		Name:   c.Name,
		Method: "search",
	}, nil
}

func (r *Resolver) fromContract(ctx context.Context, chain, address string) (*Resolution, error) {
	chains := contractChains
	if chain != "" {
		chains = []string{chain}
	}
	for _, ch := range chains {
		coin, err := r.coins.ContractInfo(ctx, ch, address)
		if err != nil {
			continue
		}
		return resolution(coin, "contract"), nil
	}
	return nil, fmt.Errorf("%w: contract %s", ErrNotFound, address)
}

func (r *Resolver) fromURL(ctx context.Context, rawURL string) (*Resolution, error) {
	if m := contractURLRe.FindStringSubmatch(rawURL); m != nil {
		return r.fromContract(ctx, m[1], m[2])
	}
	if m := explorerURLRe.FindStringSubmatch(rawURL); m != nil {
		return r.fromContract(ctx, "", m[1])
	}
	if m := currenciesURLRe.FindStringSubmatch(rawURL); m != nil {
		slug := strings.ToLower(m[1])
		if id, ok := cmcSlugs[slug]; ok {
			slug = id
		}
		if res, err := r.fromID(ctx, slug, "url"); err == nil {
			return res, nil
		}
		return r.fromSearch(ctx, slug)
	}
	if m := coinsURLRe.FindStringSubmatch(rawURL); m != nil {
		return r.fromID(ctx, strings.ToLower(m[1]), "url")
	}
	return nil, fmt.Errorf("%w: unrecognized URL %s", ErrNotFound, rawURL)
}

func resolution(coin *coingecko.CoinData, method string) *Resolution {
	return &Resolution{
		ID:     coin.ID,
		Symbol: strings.ToUpper(coin.Symbol),
		Name:   coin.Name,
		Method: method,
	}
}

// betterRank prefers a real rank over none and a lower rank over a higher
// one.
func betterRank(a, b int) bool {
	if a <= 0 {
		return false
	}
	if b <= 0 {
		return true
	}
	return a < b
}

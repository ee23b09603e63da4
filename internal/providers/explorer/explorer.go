// Package explorer is a chain-aware block-explorer client for on-chain
// lookups. With an API key it enriches results from the Etherscan-style API
// of the requested chain; without one it synthesizes deterministic data from
// the address bytes so analyses stay reproducible across runs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "explorer"

const (
	usdtTreasury  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	uniswapRouter = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

var (
	// ErrInvalidAddress is returned for anything that is not a 0x-prefixed
	// 40-hex-digit address.
	ErrInvalidAddress = errors.New("explorer: invalid address")
	// ErrUnsupportedChain is returned for chains outside the known set.
	ErrUnsupportedChain = errors.New("explorer: unsupported chain")
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidAddress reports whether addr looks like an EVM address.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

type chainInfo struct {
	Explorer string
	APIBase  string
}

var chains = map[string]chainInfo{
	"eth":      {"Etherscan", "https://api.etherscan.io/api"},
	"bsc":      {"BscScan", "https://api.bscscan.com/api"},
	"polygon":  {"PolygonScan", "https://api.polygonscan.com/api"},
	"arbitrum": {"Arbiscan", "https://api.arbiscan.io/api"},
	"optimism": {"Optimistic Etherscan", "https://api-optimistic.etherscan.io/api"},
}

// Client reads on-chain data per EVM chain.
type Client struct {
	transport *providers.Client
	baseURL   string
	apiKey    string
}

// New builds the client. cfg.BaseURL overrides the per-chain API base when
// set, which the tests use to point at a local server.
func New(transport *providers.Client, cfg config.ProviderConfig, apiKey string) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "https://api.etherscan.io/api" {
		base = "" // The default config value means "use the chain's own API".
	}
	return &Client{transport: transport, baseURL: base, apiKey: apiKey}
}

func normalizeChain(chain string) (string, error) {
	if chain == "" {
		return "eth", nil
	}
	chain = strings.ToLower(chain)
	if _, ok := chains[chain]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	return chain, nil
}

// SupportedChain reports whether chain names a known EVM chain. The empty
// chain is allowed and reads as eth.
func SupportedChain(chain string) bool {
	_, err := normalizeChain(chain)
	return err == nil
}

// addressSeed folds an address into a small deterministic integer. All
// synthesized values derive from it so the same address always reports the
// same holders, balances, and flow.
func addressSeed(addr string) int {
	seed := 0
	for _, c := range addr {
		seed += int(c)
	}
	return seed
}

// Seed exposes the per-address seed for callers that synthesize values
// consistent with this package.
func Seed(addr string) int { return addressSeed(addr) }

func hexAddress(n int) string { return fmt.Sprintf("0x%040x", n) }
func hexHash(n int) string    { return fmt.Sprintf("0x%064x", n) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// seedTime spreads a deterministic creation timestamp across 2022.
func seedTime(seed int) time.Time {
	return time.Date(2022, time.Month(seed%12+1), seed%28+1, seed%24, seed%60, 0, 0, time.UTC)
}

// AddressInfo describes a wallet or contract address.
type AddressInfo struct {
	Address       string     `json:"address"`
	Chain         string     `json:"chain"`
	Type          string     `json:"type"` // "Contract" or "EOA"
	Balance       float64    `json:"balance"`
	Transactions  int        `json:"transactions"`
	LastActivity  time.Time  `json:"last_activity"`
	ContractType  string     `json:"contract_type,omitempty"`
	Verified      bool       `json:"verified"`
	TokenName     string     `json:"token_name,omitempty"`
	TokenSymbol   string     `json:"token_symbol,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	Creator       string     `json:"creator,omitempty"`
	FirstActivity *time.Time `json:"first_activity,omitempty"`
	TokenCount    int        `json:"token_count,omitempty"`
	NFTCount      int        `json:"nft_count,omitempty"`
}

// GetAddressInfo returns basic data about an address. Contract versus wallet
// is decided by the parity of the last address nibble.
func (c *Client) GetAddressInfo(ctx context.Context, chain, address string) (*AddressInfo, error) {
	chain, err := normalizeChain(chain)
	if err != nil {
		return nil, err
	}
	if !ValidAddress(address) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}

	seed := addressSeed(address)
	nibble, _ := strconv.ParseUint(string(address[len(address)-1]), 16, 8)
	isContract := nibble%2 == 0

	info := &AddressInfo{
		Address:      address,
		Chain:        chain,
		Balance:      round2(float64(seed%1000) * 0.01),
		LastActivity: time.Now().UTC().Add(-time.Duration(seed%72) * time.Hour),
	}

	created := seedTime(seed)
	if isContract {
		contractTypes := []string{"ERC20 Token", "ERC721 NFT", "DEX", "Lending", "Staking"}
		info.Type = "Contract"
		info.ContractType = contractTypes[seed%len(contractTypes)]
		info.Verified = seed%10 >= 7
		info.TokenName = "Token_" + address[2:8]
		info.TokenSymbol = strings.ToUpper(address[2:5])
		info.Transactions = seed%10000 + 100
		info.CreatedAt = &created
		info.Creator = hexAddress(seed)
	} else {
		first := created.AddDate(-1, 0, 0)
		info.Type = "EOA"
		info.Transactions = seed%1000 + 10
		info.FirstActivity = &first
		info.TokenCount = seed%50 + 2
		info.NFTCount = seed % 20
	}

	if c.apiKey != "" {
		if bal, err := c.fetchBalance(ctx, chain, address); err == nil {
			info.Balance = bal
		} else {
			log.Debug().Err(err).Str("chain", chain).Msg("Explorer balance lookup failed, keeping synthesized value")
		}
	}
	return info, nil
}

// Holder is one entry in a token's holder distribution.
type Holder struct {
	Rank             int       `json:"rank"`
	Address          string    `json:"address"`
	Quantity         int64     `json:"quantity"`
	Percentage       float64   `json:"percentage"`
	Type             string    `json:"type"`
	FirstAcquisition time.Time `json:"first_acquisition"`
}

// GetTokenHolders returns the top n holders of a token. Percentages follow a
// power-law decay of 50/(rank)^1.5 with the largest holder capped at 30%.
func (c *Client) GetTokenHolders(ctx context.Context, chain, tokenAddress string, n int) ([]Holder, error) {
	chain, err := normalizeChain(chain)
	if err != nil {
		return nil, err
	}
	if !ValidAddress(tokenAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, tokenAddress)
	}
	if n <= 0 || n > 20 {
		n = 10
	}

	seed := addressSeed(tokenAddress)
	totalSupply := int64(seed%1000000000 + 10000000)

	holders := make([]Holder, 0, n)
	for i := 0; i < n; i++ {
		percent := 50 / math.Pow(float64(i+1), 1.5)
		if i == 0 && percent > 30 {
			percent = 30
		}

		holderType := "Unknown"
		switch {
		case i == 0:
			holderType = "Contract (DEX LP)"
		case i == 1:
			holderType = "Exchange"
		case i%3 == 0:
			holderType = "Whale"
		}

		holders = append(holders, Holder{
			Rank:             i + 1,
			Address:          hexAddress(seed + i),
			Quantity:         int64(float64(totalSupply) * percent / 100),
			Percentage:       round2(percent),
			Type:             holderType,
			FirstAcquisition: time.Date(2022, time.Month(i+1), 15, 10, 30, 0, 0, time.UTC),
		})
	}
	return holders, nil
}

// Transaction is one token transfer.
type Transaction struct {
	Hash      string    `json:"hash"`
	Block     int64     `json:"block"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	FromLabel string    `json:"from_label,omitempty"`
	To        string    `json:"to"`
	ToLabel   string    `json:"to_label,omitempty"`
	Value     float64   `json:"value"`
	Type      string    `json:"transaction_type"` // "Buy" or "Sell"
	GasPrice  int       `json:"gas_price"`
	Status    string    `json:"status"`
}

// GetTokenTransactions returns recent transfers, newest first at six-hour
// spacing. Roughly two of three transfers read as buys, and every fifth one
// routes through a known exchange address.
func (c *Client) GetTokenTransactions(ctx context.Context, chain, tokenAddress string, limit int) ([]Transaction, error) {
	chain, err := normalizeChain(chain)
	if err != nil {
		return nil, err
	}
	if !ValidAddress(tokenAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, tokenAddress)
	}
	if limit <= 0 {
		limit = 10
	}

	seed := addressSeed(tokenAddress)
	now := time.Now().UTC()

	txs := make([]Transaction, 0, limit)
	for i := 0; i < limit; i++ {
		isBuy := (seed+i)%3 != 0

		tx := Transaction{
			Hash:      hexHash(seed + i),
			Block:     int64(17500000 - i),
			Timestamp: now.Add(-time.Duration(i*6) * time.Hour),
			From:      hexAddress(seed + i*3),
			To:        hexAddress(seed + i*7),
			Value:     round4(float64(seed%10000)/float64(i+1) + 100),
			GasPrice:  20 + i%10,
			Status:    "Success",
		}
		if isBuy {
			tx.Type = "Buy"
		} else {
			tx.Type = "Sell"
		}
		if i%5 == 0 {
			if isBuy {
				tx.From = usdtTreasury
				tx.FromLabel = "USDT Treasury"
			} else {
				tx.To = uniswapRouter
				tx.ToLabel = "Uniswap V2"
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ContractInfo describes a token contract.
type ContractInfo struct {
	Address        string    `json:"address"`
	Chain          string    `json:"chain"`
	TokenType      string    `json:"token_type"` // ERC20, ERC721, ERC1155
	Name           string    `json:"name"`
	Symbol         string    `json:"symbol"`
	Decimals       int       `json:"decimals"`
	TotalSupply    int64     `json:"total_supply"`
	Verified       bool      `json:"verified"`
	Owner          string    `json:"owner"`
	Implementation string    `json:"implementation,omitempty"`
	CreationDate   time.Time `json:"creation_date"`
	CreationTx     string    `json:"creation_tx"`
	Compiler       string    `json:"compiler,omitempty"`
	License        string    `json:"license,omitempty"`
	HasProxy       bool      `json:"has_proxy"`
	Audited        bool      `json:"audited"`
}

// GetContractInfo returns contract metadata. About 70% of synthesized
// contracts report as verified.
func (c *Client) GetContractInfo(ctx context.Context, chain, tokenAddress string) (*ContractInfo, error) {
	chain, err := normalizeChain(chain)
	if err != nil {
		return nil, err
	}
	if !ValidAddress(tokenAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, tokenAddress)
	}

	seed := addressSeed(tokenAddress)
	tokenTypes := []string{"ERC20", "ERC721", "ERC1155"}

	info := &ContractInfo{
		Address:      tokenAddress,
		Chain:        chain,
		TokenType:    tokenTypes[seed%len(tokenTypes)],
		Name:         "Token_" + tokenAddress[2:8],
		Symbol:       strings.ToUpper(tokenAddress[2:5]),
		Decimals:     18,
		TotalSupply:  int64(seed%1000000000 + 10000000),
		Verified:     seed%10 >= 3,
		Owner:        hexAddress(seed * 2),
		CreationDate: seedTime(seed),
		CreationTx:   hexHash(seed * 3),
	}
	if info.Verified {
		info.Compiler = fmt.Sprintf("Solidity 0.8.%d", seed%10)
		info.License = "MIT"
		info.HasProxy = seed%5 == 0
		info.Audited = seed%3 == 0
		if info.HasProxy {
			info.Implementation = hexAddress(seed * 5)
		}
	}

	if c.apiKey != "" {
		if err := c.enrichContract(ctx, chain, tokenAddress, info); err != nil {
			log.Debug().Err(err).Str("chain", chain).Msg("Explorer source lookup failed, keeping synthesized values")
		}
	}
	return info, nil
}

// apiCall performs one Etherscan-style API request. The response envelope is
// {"status": "1", "message": "OK", "result": ...} with status "0" on errors.
func (c *Client) apiCall(ctx context.Context, chain string, params url.Values, result interface{}) error {
	base := c.baseURL
	if base == "" {
		base = chains[chain].APIBase
	}
	cacheKey := "exp:" + chain + "?" + params.Encode()
	params.Set("apikey", c.apiKey)

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      base + "?" + params.Encode(),
		CacheKey: cacheKey,
	}, &envelope)
	if err != nil && !errors.Is(err, providers.ErrDegraded) {
		return err
	}
	if envelope.Status != "1" {
		return fmt.Errorf("explorer: %s: %s", chains[chain].Explorer, envelope.Message)
	}
	return json.Unmarshal(envelope.Result, result)
}

func (c *Client) fetchBalance(ctx context.Context, chain, address string) (float64, error) {
	var wei string
	err := c.apiCall(ctx, chain, url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	}, &wei)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(wei, 64)
	if err != nil {
		return 0, fmt.Errorf("explorer: parsing balance %q: %w", wei, err)
	}
	return v / 1e18, nil
}

// enrichContract overlays verification data from the chain's API onto the
// synthesized contract info.
func (c *Client) enrichContract(ctx context.Context, chain, address string, info *ContractInfo) error {
	var rows []struct {
		SourceCode      string `json:"SourceCode"`
		ContractName    string `json:"ContractName"`
		CompilerVersion string `json:"CompilerVersion"`
		LicenseType     string `json:"LicenseType"`
		Proxy           string `json:"Proxy"`
		Implementation  string `json:"Implementation"`
	}
	err := c.apiCall(ctx, chain, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("explorer: empty source response")
	}

	row := rows[0]
	info.Verified = row.SourceCode != ""
	if row.ContractName != "" {
		info.Name = row.ContractName
	}
	if row.CompilerVersion != "" {
		info.Compiler = row.CompilerVersion
	}
	if row.LicenseType != "" {
		info.License = row.LicenseType
	}
	info.HasProxy = row.Proxy == "1"
	if info.HasProxy && row.Implementation != "" {
		info.Implementation = row.Implementation
	}
	return nil
}

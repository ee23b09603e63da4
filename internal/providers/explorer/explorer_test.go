package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

// Last nibble even means contract, odd means wallet.
const (
	contractAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletAddr   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb1"
)

func newKeylessClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{},
		Budget:    config.BudgetConfig{WarnThreshold: 0.8},
		Global:    config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "insight-test/1.0"},
	}
	return New(providers.New(cfg, cache.NewMemory()), config.ProviderConfig{}, "")
}

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress(contractAddr))
	assert.True(t, ValidAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"))
	assert.False(t, ValidAddress("7a250d5630B4cF539739dF2C5dAcb4c659F2488D"), "missing 0x prefix")
	assert.False(t, ValidAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488"), "39 digits")
	assert.False(t, ValidAddress("0xzz50d5630B4cF539739dF2C5dAcb4c659F2488Dd"), "non-hex digits")
	assert.False(t, ValidAddress(""))
}

func TestGetAddressInfoRejectsBadInput(t *testing.T) {
	client := newKeylessClient(t)

	_, err := client.GetAddressInfo(context.Background(), "eth", "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = client.GetAddressInfo(context.Background(), "dogechain", contractAddr)
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestGetAddressInfoContract(t *testing.T) {
	client := newKeylessClient(t)

	info, err := client.GetAddressInfo(context.Background(), "", contractAddr)
	require.NoError(t, err)

	assert.Equal(t, "eth", info.Chain, "empty chain defaults to eth")
	assert.Equal(t, "Contract", info.Type)
	assert.Equal(t, "Token_aaaaaa", info.TokenName)
	assert.Equal(t, "AAA", info.TokenSymbol)
	assert.NotEmpty(t, info.ContractType)
	assert.NotNil(t, info.CreatedAt)
	assert.NotEmpty(t, info.Creator)
	assert.True(t, strings.HasPrefix(info.Creator, "0x"))
	assert.Zero(t, info.TokenCount, "wallet-only fields stay empty for contracts")
}

func TestGetAddressInfoWallet(t *testing.T) {
	client := newKeylessClient(t)

	info, err := client.GetAddressInfo(context.Background(), "polygon", walletAddr)
	require.NoError(t, err)

	assert.Equal(t, "polygon", info.Chain)
	assert.Equal(t, "EOA", info.Type)
	assert.Empty(t, info.ContractType)
	assert.NotNil(t, info.FirstActivity)
	assert.GreaterOrEqual(t, info.TokenCount, 2)
	assert.GreaterOrEqual(t, info.Transactions, 10)
	assert.True(t, info.LastActivity.Before(time.Now().Add(time.Minute)))
}

func TestGetAddressInfoDeterministic(t *testing.T) {
	client := newKeylessClient(t)

	a, err := client.GetAddressInfo(context.Background(), "eth", contractAddr)
	require.NoError(t, err)
	b, err := client.GetAddressInfo(context.Background(), "eth", contractAddr)
	require.NoError(t, err)

	assert.Equal(t, a.Balance, b.Balance)
	assert.Equal(t, a.Transactions, b.Transactions)
	assert.Equal(t, a.ContractType, b.ContractType)
	assert.Equal(t, a.Creator, b.Creator)
}

func TestGetTokenHoldersDistribution(t *testing.T) {
	client := newKeylessClient(t)

	holders, err := client.GetTokenHolders(context.Background(), "eth", contractAddr, 10)
	require.NoError(t, err)
	require.Len(t, holders, 10)

	assert.InDelta(t, 30.0, holders[0].Percentage, 0.001, "largest holder is capped at 30%")
	assert.InDelta(t, 17.68, holders[1].Percentage, 0.001, "rank 2 follows 50/2^1.5")
	for i := 1; i < len(holders); i++ {
		assert.Less(t, holders[i].Percentage, holders[i-1].Percentage,
			"percentages decay with rank")
		assert.Equal(t, i+1, holders[i].Rank)
	}

	assert.Equal(t, "Contract (DEX LP)", holders[0].Type)
	assert.Equal(t, "Exchange", holders[1].Type)
	assert.Equal(t, "Whale", holders[3].Type)
	for _, h := range holders {
		assert.True(t, ValidAddress(h.Address), "holder %d address %s", h.Rank, h.Address)
		assert.Positive(t, h.Quantity)
	}
}

func TestGetTokenHoldersDefaultsCount(t *testing.T) {
	client := newKeylessClient(t)

	holders, err := client.GetTokenHolders(context.Background(), "eth", contractAddr, 0)
	require.NoError(t, err)
	assert.Len(t, holders, 10)

	holders, err = client.GetTokenHolders(context.Background(), "eth", contractAddr, 100)
	require.NoError(t, err)
	assert.Len(t, holders, 10, "counts above 20 fall back to the default")
}

func TestGetTokenTransactionsFlow(t *testing.T) {
	client := newKeylessClient(t)

	txs, err := client.GetTokenTransactions(context.Background(), "eth", contractAddr, 15)
	require.NoError(t, err)
	require.Len(t, txs, 15)

	buys := 0
	for i, tx := range txs {
		if tx.Type == "Buy" {
			buys++
		}
		assert.Equal(t, "Success", tx.Status)
		assert.Greater(t, tx.Value, 0.0)
		if i > 0 {
			assert.True(t, tx.Timestamp.Before(txs[i-1].Timestamp), "newest first")
		}
	}
	assert.InDelta(t, 10, buys, 1, "about two thirds of transfers are buys")

	// Every fifth transfer routes through a labeled exchange address.
	labeled := txs[0].FromLabel + txs[0].ToLabel
	assert.NotEmpty(t, labeled)
	assert.Empty(t, txs[1].FromLabel+txs[1].ToLabel)
}

func TestGetContractInfo(t *testing.T) {
	client := newKeylessClient(t)

	info, err := client.GetContractInfo(context.Background(), "bsc", contractAddr)
	require.NoError(t, err)

	assert.Equal(t, "bsc", info.Chain)
	assert.Equal(t, 18, info.Decimals)
	assert.Equal(t, "Token_aaaaaa", info.Name)
	assert.Equal(t, "AAA", info.Symbol)
	assert.Contains(t, []string{"ERC20", "ERC721", "ERC1155"}, info.TokenType)
	assert.GreaterOrEqual(t, info.TotalSupply, int64(10000000))
	assert.True(t, info.Verified, "this seed lands in the verified band")
	assert.NotEmpty(t, info.Compiler)
	assert.Equal(t, "MIT", info.License)
}

func TestAPIEnrichment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		switch r.URL.Query().Get("action") {
		case "balance":
			w.Write([]byte(`{"status": "1", "message": "OK", "result": "2500000000000000000"}`))
		case "getsourcecode":
			w.Write([]byte(`{"status": "1", "message": "OK", "result": [{
				"SourceCode": "contract InsightToken {}",
				"ContractName": "InsightToken",
				"CompilerVersion": "v0.8.19+commit.7dd6d404",
				"LicenseType": "MIT",
				"Proxy": "0",
				"Implementation": ""
			}]}`))
		default:
			t.Fatalf("unexpected action %q", r.URL.Query().Get("action"))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{},
		Budget:    config.BudgetConfig{WarnThreshold: 0.8},
		Global:    config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "insight-test/1.0"},
	}
	client := New(providers.New(cfg, cache.NewMemory()),
		config.ProviderConfig{BaseURL: srv.URL}, "test-key")

	info, err := client.GetAddressInfo(context.Background(), "eth", contractAddr)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, info.Balance, 0.0001, "balance comes from the API in wei")

	contract, err := client.GetContractInfo(context.Background(), "eth", contractAddr)
	require.NoError(t, err)
	assert.True(t, contract.Verified)
	assert.Equal(t, "InsightToken", contract.Name)
	assert.Equal(t, "v0.8.19+commit.7dd6d404", contract.Compiler)
	assert.False(t, contract.HasProxy)
}

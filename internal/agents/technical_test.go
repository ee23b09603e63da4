package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/agents/token"
	"github.com/defiinsight/insight/internal/indicators"
	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/cryptocompare"
)

type stubHistory struct {
	rows  []cryptocompare.OHLCVRow
	err   error
	calls int
}

func (s *stubHistory) History(_ context.Context, _, _ string, _ cryptocompare.Interval, _, _ int) ([]cryptocompare.OHLCVRow, error) {
	s.calls++
	return s.rows, s.err
}

type stubCharts struct {
	chart *coingecko.MarketChart
	err   error
	calls int
}

func (s *stubCharts) GetMarketChart(_ context.Context, _, _, _, _ string) (*coingecko.MarketChart, error) {
	s.calls++
	return s.chart, s.err
}

type stubBreakers struct {
	open map[string]bool
}

func (s *stubBreakers) Open(provider string) bool { return s.open[provider] }

func (s *stubBreakers) Fallbacks(string) []string { return []string{"coingecko"} }

func btcResolver() stubResolver {
	return stubResolver{res: &token.Resolution{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}}
}

// risingRows builds n daily candles climbing 1% a day with steady volume.
func risingRows(n int) []cryptocompare.OHLCVRow {
	rows := make([]cryptocompare.OHLCVRow, n)
	price := 100.0
	for i := range rows {
		rows[i] = cryptocompare.OHLCVRow{
			Time:     int64(1700000000 + i*86400),
			Open:     price,
			High:     price * 1.02,
			Low:      price * 0.99,
			Close:    price * 1.01,
			VolumeTo: 1000,
		}
		price *= 1.01
	}
	return rows
}

func risingChart(n int) *coingecko.MarketChart {
	chart := &coingecko.MarketChart{}
	price := 100.0
	for i := 0; i < n; i++ {
		ts := float64(1700000000000 + i*86400000)
		chart.Prices = append(chart.Prices, []float64{ts, price})
		chart.TotalVolumes = append(chart.TotalVolumes, []float64{ts, 1000})
		price *= 1.01
	}
	return chart
}

func TestTechnicalAgentUptrend(t *testing.T) {
	history := &stubHistory{rows: risingRows(100)}
	agent := NewTechnicalAgent(btcResolver(), history, &stubCharts{}, nil)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", res.Token)
	assert.Equal(t, "BTC", res.Symbol)

	report, ok := res.Data.(*TechnicalReport)
	require.True(t, ok)

	assert.Equal(t, "cryptocompare", report.Source)
	assert.Equal(t, 100, report.CandlesAnalyzed)
	assert.Equal(t, "1d", report.Timeframe)
	assert.Equal(t, "uptrend", report.Trend.Direction)
	assert.Greater(t, report.Indicators.RSI, 50.0, "steady climb keeps RSI above 50")
	assert.Equal(t, "buy", report.Signals.SMACross)
	assert.InDelta(t, 1.0, report.PriceChange24h, 0.01)
	assert.Nil(t, report.Indicators.SMA.SMA200, "100 candles cannot fill a 200 average")
	assert.NotEmpty(t, report.Levels.Support)
	assert.NotEmpty(t, report.Levels.Resistance)
}

func TestTechnicalAgentFallsBackToCharts(t *testing.T) {
	history := &stubHistory{err: errors.New("rate limited")}
	charts := &stubCharts{chart: risingChart(100)}
	agent := NewTechnicalAgent(btcResolver(), history, charts, nil)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)

	report := res.Data.(*TechnicalReport)
	assert.Equal(t, "coingecko", report.Source)
	assert.Equal(t, 1, history.calls, "primary source is tried first")
	assert.Equal(t, 1, charts.calls)
}

func TestTechnicalAgentSkipsOpenCircuit(t *testing.T) {
	history := &stubHistory{rows: risingRows(100)}
	charts := &stubCharts{chart: risingChart(100)}
	breakers := &stubBreakers{open: map[string]bool{"cryptocompare": true}}
	agent := NewTechnicalAgent(btcResolver(), history, charts, breakers)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)

	report := res.Data.(*TechnicalReport)
	assert.Equal(t, "coingecko", report.Source)
	assert.Zero(t, history.calls, "an open circuit must not be exercised")
}

func TestTechnicalAgentInsufficientHistory(t *testing.T) {
	history := &stubHistory{rows: risingRows(10)}
	charts := &stubCharts{chart: risingChart(5)}
	agent := NewTechnicalAgent(btcResolver(), history, charts, nil)

	_, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)
}

func TestTechnicalAgentResolveFailure(t *testing.T) {
	agent := NewTechnicalAgent(stubResolver{err: token.ErrNotFound}, &stubHistory{}, &stubCharts{}, nil)

	_, err := agent.Analyze(context.Background(), Request{Token: "nope"})
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestTechnicalAgentValidate(t *testing.T) {
	agent := NewTechnicalAgent(btcResolver(), &stubHistory{}, &stubCharts{}, nil)

	assert.NoError(t, agent.Validate(Request{Token: "btc"}))
	assert.NoError(t, agent.Validate(Request{Token: "btc", Timeframe: "4h"}))

	var verr *ValidationError
	err := agent.Validate(Request{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "token", verr.Field)

	err = agent.Validate(Request{Token: "btc", Timeframe: "13m"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timeframe", verr.Field)
}

func TestSignalHelpers(t *testing.T) {
	assert.Equal(t, "sell", rsiSignal(75))
	assert.Equal(t, "buy", rsiSignal(25))
	assert.Equal(t, "neutral", rsiSignal(50))

	assert.Equal(t, "buy", macdSignal(indicators.MACDResult{MACD: 2, Signal: 1, Histogram: 1}))
	assert.Equal(t, "sell", macdSignal(indicators.MACDResult{MACD: 1, Signal: 2, Histogram: -1}))

	b := indicators.BollingerBands{Upper: 110, Middle: 100, Lower: 90}
	assert.Equal(t, "sell", bollingerSignal(115, b))
	assert.Equal(t, "buy", bollingerSignal(85, b))
	assert.Equal(t, "neutral", bollingerSignal(100, b))

	long := 80.0
	assert.Equal(t, "buy", smaSignal(100, 90, &long))
	assert.Equal(t, "sell", smaSignal(80, 90, nil))

	assert.Equal(t, "buy", overallSignal(SignalSet{RSI: "buy", MACD: "buy", Bollinger: "neutral", SMACross: "sell"}))
	assert.Equal(t, "neutral", overallSignal(SignalSet{RSI: "buy", MACD: "sell", Bollinger: "neutral", SMACross: "neutral"}))

	assert.Equal(t, "high", volumeLevel(1.6))
	assert.Equal(t, "low", volumeLevel(0.4))
	assert.Equal(t, "normal", volumeLevel(1.0))
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/indicators"
	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/cryptocompare"
)

const (
	sourceCryptoCompare = "cryptocompare"
	sourceCoinGecko     = "coingecko"

	// minCandles is the shortest series the indicators can be trusted on;
	// MACD(12/26/9) is the binding constraint.
	minCandles = 30

	historyLimit = 100
)

// HistorySource is the slice of the CryptoCompare client the technical
// agent needs.
type HistorySource interface {
	History(ctx context.Context, fsym, tsym string, interval cryptocompare.Interval, limit, aggregate int) ([]cryptocompare.OHLCVRow, error)
}

// ChartSource is the CoinGecko fallback for price history.
type ChartSource interface {
	GetMarketChart(ctx context.Context, id, vsCurrency, days, interval string) (*coingecko.MarketChart, error)
}

// BreakerView exposes the circuit state used to pick the OHLCV source. A
// nil view means "always try the primary first".
type BreakerView interface {
	Open(provider string) bool
	Fallbacks(provider string) []string
}

// timeframe maps a user-facing candle size onto both history sources.
type timeframe struct {
	label     string
	interval  cryptocompare.Interval
	aggregate int

	// Chart fallback parameters: the window requested and the sampling
	// step that thins it to the requested candle size.
	chartDays     string
	chartInterval string
	step          int

	// candles spanning 24 hours, for the change calculation.
	daySpan int
}

var timeframes = map[string]timeframe{
	"1h": {"1h", cryptocompare.IntervalHour, 1, "14", "", 1, 24},
	"4h": {"4h", cryptocompare.IntervalHour, 4, "30", "", 4, 6},
	"1d": {"1d", cryptocompare.IntervalDay, 1, "100", "daily", 1, 1},
	"1w": {"1w", cryptocompare.IntervalDay, 7, "365", "daily", 7, 1},
}

// TechnicalReport is the technical agent's payload.
type TechnicalReport struct {
	Token           string       `json:"token"`
	CoinID          string       `json:"coin_id"`
	Timeframe       string       `json:"timeframe"`
	LastPrice       float64      `json:"last_price"`
	PriceChange24h  float64      `json:"price_change_24h"`
	Indicators      IndicatorSet `json:"indicators"`
	Signals         SignalSet    `json:"signals"`
	Trend           TrendInfo    `json:"trend"`
	Levels          LevelSet     `json:"support_resistance"`
	CandlesAnalyzed int          `json:"candles_analyzed"`
	Source          string       `json:"source"`
}

type IndicatorSet struct {
	RSI       float64                   `json:"rsi"`
	MACD      indicators.MACDResult     `json:"macd"`
	Bollinger indicators.BollingerBands `json:"bollinger"`
	SMA       SMASet                    `json:"sma"`
	Volume    VolumeInfo                `json:"volume"`
}

type SMASet struct {
	SMA20  float64  `json:"sma_20"`
	SMA50  float64  `json:"sma_50"`
	SMA200 *float64 `json:"sma_200,omitempty"`
}

type VolumeInfo struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Ratio   float64 `json:"ratio"`
	Level   string  `json:"level"` // high, normal, low
}

type SignalSet struct {
	RSI       string `json:"rsi"`
	MACD      string `json:"macd"`
	Bollinger string `json:"bollinger"`
	SMACross  string `json:"sma_cross"`
	Overall   string `json:"overall"`
}

type TrendInfo struct {
	Direction string `json:"direction"` // uptrend, downtrend, sideways
	Strength  string `json:"strength"`  // strong, moderate, weak
}

type LevelSet struct {
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
}

// TechnicalAgent computes indicator-based signals from price history.
// CryptoCompare is the primary history source; when it fails or its circuit
// is open the agent walks the configured fallback chain to CoinGecko.
type TechnicalAgent struct {
	resolver Resolver
	history  HistorySource
	charts   ChartSource
	breakers BreakerView
}

func NewTechnicalAgent(resolver Resolver, history HistorySource, charts ChartSource, breakers BreakerView) *TechnicalAgent {
	return &TechnicalAgent{
		resolver: resolver,
		history:  history,
		charts:   charts,
		breakers: breakers,
	}
}

func (a *TechnicalAgent) Name() string { return "technical" }

func (a *TechnicalAgent) Validate(req Request) error {
	if strings.TrimSpace(req.Token) == "" {
		return &ValidationError{Field: "token", Reason: "token reference is required"}
	}
	if req.Timeframe != "" {
		if _, ok := timeframes[strings.ToLower(req.Timeframe)]; !ok {
			return &ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unsupported timeframe %q", req.Timeframe)}
		}
	}
	return nil
}

func (a *TechnicalAgent) Analyze(ctx context.Context, req Request) (*Result, error) {
	res, err := a.resolver.Resolve(ctx, req.Token)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", req.Token, err)
	}

	tf := timeframes["1d"]
	if req.Timeframe != "" {
		tf = timeframes[strings.ToLower(req.Timeframe)]
	}

	s, err := a.fetchSeries(ctx, res.Symbol, res.ID, tf)
	if err != nil {
		return nil, fmt.Errorf("fetching %s history for %s: %w", tf.label, res.ID, err)
	}

	report, err := buildTechnicalReport(res.Symbol, res.ID, tf, s)
	if err != nil {
		return nil, err
	}

	return &Result{Token: res.ID, Symbol: res.Symbol, Data: report}, nil
}

// series is a normalized price history, oldest first. Highs and lows are
// only present when the source delivers real candles.
type series struct {
	closes   []float64
	volumes  []float64
	lastHigh float64
	lastLow  float64
	hasRange bool
	source   string
}

func (a *TechnicalAgent) fetchSeries(ctx context.Context, symbol, coinID string, tf timeframe) (*series, error) {
	order := []string{sourceCryptoCompare, sourceCoinGecko}
	if a.breakers != nil {
		order = append([]string{sourceCryptoCompare}, a.breakers.Fallbacks(sourceCryptoCompare)...)
	}

	var lastErr error
	for _, name := range order {
		if a.breakers != nil && a.breakers.Open(name) {
			log.Debug().Str("provider", name).Msg("Skipping open circuit for history fetch")
			continue
		}

		s, err := a.fetchFrom(ctx, name, symbol, coinID, tf)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("provider", name).Str("token", coinID).Msg("History source failed")
			continue
		}
		if len(s.closes) < minCandles {
			lastErr = fmt.Errorf("%w: %d candles from %s", indicators.ErrInsufficientData, len(s.closes), name)
			continue
		}
		return s, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no history source available for %s", coinID)
	}
	return nil, lastErr
}

func (a *TechnicalAgent) fetchFrom(ctx context.Context, source, symbol, coinID string, tf timeframe) (*series, error) {
	switch source {
	case sourceCryptoCompare:
		if a.history == nil {
			return nil, fmt.Errorf("history source %s not configured", source)
		}
		rows, err := a.history.History(ctx, symbol, "USD", tf.interval, historyLimit, tf.aggregate)
		if err != nil {
			return nil, err
		}
		return seriesFromRows(rows), nil

	case sourceCoinGecko:
		if a.charts == nil {
			return nil, fmt.Errorf("history source %s not configured", source)
		}
		chart, err := a.charts.GetMarketChart(ctx, coinID, "usd", tf.chartDays, tf.chartInterval)
		if err != nil {
			return nil, err
		}
		return seriesFromChart(chart, tf.step), nil

	default:
		return nil, fmt.Errorf("history source %s not configured", source)
	}
}

// seriesFromRows drops the zero-filled padding CryptoCompare emits before a
// coin's first trade.
func seriesFromRows(rows []cryptocompare.OHLCVRow) *series {
	s := &series{source: sourceCryptoCompare, hasRange: true}
	for _, r := range rows {
		if r.Close == 0 && r.Open == 0 && r.VolumeTo == 0 {
			continue
		}
		s.closes = append(s.closes, r.Close)
		s.volumes = append(s.volumes, r.VolumeTo)
		s.lastHigh, s.lastLow = r.High, r.Low
	}
	return s
}

func seriesFromChart(chart *coingecko.MarketChart, step int) *series {
	if step < 1 {
		step = 1
	}
	s := &series{source: sourceCoinGecko}
	n := len(chart.Prices)
	if len(chart.TotalVolumes) < n {
		n = len(chart.TotalVolumes)
	}
	for i := 0; i < n; i += step {
		if len(chart.Prices[i]) < 2 || len(chart.TotalVolumes[i]) < 2 {
			continue
		}
		s.closes = append(s.closes, chart.Prices[i][1])
		s.volumes = append(s.volumes, chart.TotalVolumes[i][1])
	}
	return s
}

func buildTechnicalReport(symbol, coinID string, tf timeframe, s *series) (*TechnicalReport, error) {
	closes := s.closes
	last := closes[len(closes)-1]

	rsi, err := indicators.RSI(closes, 14)
	if err != nil {
		return nil, err
	}
	macd, err := indicators.MACD(closes, 12, 26, 9)
	if err != nil {
		return nil, err
	}
	boll, err := indicators.Bollinger(closes, 20, 2)
	if err != nil {
		return nil, err
	}
	sma20, err := indicators.SMA(closes, 20)
	if err != nil {
		return nil, err
	}

	sma50 := sma20
	if v, err := indicators.SMA(closes, 50); err == nil {
		sma50 = v
	}
	var sma200 *float64
	if v, err := indicators.SMA(closes, 200); err == nil {
		sma200 = &v
	}

	volNow := s.volumes[len(s.volumes)-1]
	volAvg, err := indicators.SMA(s.volumes, 20)
	if err != nil || volAvg == 0 {
		volAvg = volNow
	}
	volRatio := 1.0
	if volAvg > 0 {
		volRatio = volNow / volAvg
	}

	signals := SignalSet{
		RSI:       rsiSignal(rsi),
		MACD:      macdSignal(macd),
		Bollinger: bollingerSignal(last, boll),
		SMACross:  smaSignal(sma20, sma50, sma200),
	}
	signals.Overall = overallSignal(signals)

	high, low := s.lastHigh, s.lastLow
	if !s.hasRange {
		// Close-only series: approximate the last session's range from
		// the trailing week of closes.
		high, low = rangeOf(tail(closes, 7))
	}
	piv := indicators.PivotPoints(high, low, last)

	levels := LevelSet{}
	if last > piv.Pivot {
		levels.Support = []float64{piv.Pivot, piv.S1}
		levels.Resistance = []float64{piv.R1, piv.R2}
	} else {
		levels.Support = []float64{piv.S1, piv.S2}
		levels.Resistance = []float64{piv.Pivot, piv.R1}
	}

	return &TechnicalReport{
		Token:          symbol,
		CoinID:         coinID,
		Timeframe:      tf.label,
		LastPrice:      last,
		PriceChange24h: changeOver(closes, tf.daySpan),
		Indicators: IndicatorSet{
			RSI:       rsi,
			MACD:      macd,
			Bollinger: boll,
			SMA:       SMASet{SMA20: sma20, SMA50: sma50, SMA200: sma200},
			Volume: VolumeInfo{
				Current: volNow,
				Average: volAvg,
				Ratio:   volRatio,
				Level:   volumeLevel(volRatio),
			},
		},
		Signals:         signals,
		Trend:           trendOf(sma20, sma50, rsi, macd),
		Levels:          levels,
		CandlesAnalyzed: len(closes),
		Source:          s.source,
	}, nil
}

func rsiSignal(rsi float64) string {
	switch {
	case rsi > 70:
		return "sell"
	case rsi < 30:
		return "buy"
	default:
		return "neutral"
	}
}

func macdSignal(m indicators.MACDResult) string {
	switch {
	case m.Histogram > 0 && m.MACD > m.Signal:
		return "buy"
	case m.Histogram < 0 && m.MACD < m.Signal:
		return "sell"
	default:
		return "neutral"
	}
}

func bollingerSignal(price float64, b indicators.BollingerBands) string {
	switch {
	case price > b.Upper:
		return "sell"
	case price < b.Lower:
		return "buy"
	default:
		return "neutral"
	}
}

// smaSignal requires the full golden ordering when the long average is
// known and falls back to the short pair otherwise.
func smaSignal(sma20, sma50 float64, sma200 *float64) string {
	if sma200 != nil {
		switch {
		case sma20 > sma50 && sma50 > *sma200:
			return "buy"
		case sma20 < sma50 && sma50 < *sma200:
			return "sell"
		default:
			return "neutral"
		}
	}
	switch {
	case sma20 > sma50:
		return "buy"
	case sma20 < sma50:
		return "sell"
	default:
		return "neutral"
	}
}

func overallSignal(s SignalSet) string {
	buys, sells := 0, 0
	for _, sig := range []string{s.RSI, s.MACD, s.Bollinger, s.SMACross} {
		switch sig {
		case "buy":
			buys++
		case "sell":
			sells++
		}
	}
	switch {
	case buys > sells:
		return "buy"
	case sells > buys:
		return "sell"
	default:
		return "neutral"
	}
}

func volumeLevel(ratio float64) string {
	switch {
	case ratio > 1.5:
		return "high"
	case ratio < 0.5:
		return "low"
	default:
		return "normal"
	}
}

func trendOf(sma20, sma50, rsi float64, macd indicators.MACDResult) TrendInfo {
	t := TrendInfo{Direction: "sideways"}
	switch {
	case sma20 > sma50 && rsi > 50:
		t.Direction = "uptrend"
	case sma20 < sma50 && rsi < 50:
		t.Direction = "downtrend"
	}

	h := macd.Histogram
	if h < 0 {
		h = -h
	}
	switch {
	case h > 0.5:
		t.Strength = "strong"
	case h > 0.2:
		t.Strength = "moderate"
	default:
		t.Strength = "weak"
	}
	return t
}

func changeOver(closes []float64, span int) float64 {
	if span < 1 || len(closes) <= span {
		return 0
	}
	prev := closes[len(closes)-1-span]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1] - prev) / prev * 100
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func rangeOf(values []float64) (high, low float64) {
	if len(values) == 0 {
		return 0, 0
	}
	high, low = values[0], values[0]
	for _, v := range values[1:] {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return high, low
}

// Package indicators implements the technical indicators used by the
// analysis agents as pure functions over price series. Inputs are ordered
// oldest to newest. Short series return an error instead of NaN so callers
// can degrade per indicator.
package indicators

import (
	"errors"
	"fmt"
	"math"
)

// ErrInsufficientData is returned when a series is too short for the
// requested period.
var ErrInsufficientData = errors.New("indicators: insufficient data")

func need(want, have int) error {
	return fmt.Errorf("%w: need %d points, have %d", ErrInsufficientData, want, have)
}

// SMA returns the simple moving average over the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("indicators: period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, need(period, len(values))
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average of the series with smoothing
// 2/(period+1), seeded from the first value.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("indicators: period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, need(period, len(values))
	}
	s := ewm(values, period)
	return s[len(s)-1], nil
}

// ewm is the recursive EMA series: y[0] = x[0], then
// y[i] = alpha*x[i] + (1-alpha)*y[i-1].
func ewm(values []float64, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index with Wilder smoothing. A period
// of zero or less defaults to 14. All-gain series return 100, all-loss
// series return 0.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(closes) < period+1 {
		return 0, need(period+1, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDResult carries the three MACD lines at the latest bar.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD returns moving average convergence divergence. Zero periods default
// to the standard 12/26/9.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	if fast >= slow {
		return MACDResult{}, fmt.Errorf("indicators: fast period %d must be below slow period %d", fast, slow)
	}
	if len(closes) < slow {
		return MACDResult{}, need(slow, len(closes))
	}

	fastS := ewm(closes, fast)
	slowS := ewm(closes, slow)
	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = fastS[i] - slowS[i]
	}
	signalS := ewm(macdLine, signal)

	last := len(closes) - 1
	return MACDResult{
		MACD:      macdLine[last],
		Signal:    signalS[last],
		Histogram: macdLine[last] - signalS[last],
	}, nil
}

// BollingerBands holds the band levels at the latest bar.
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger returns bands at mult sample standard deviations around the
// period SMA. Zero arguments default to 20 and 2.0.
func Bollinger(closes []float64, period int, mult float64) (BollingerBands, error) {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}
	if period < 2 {
		return BollingerBands{}, fmt.Errorf("indicators: bollinger period must be at least 2, got %d", period)
	}
	if len(closes) < period {
		return BollingerBands{}, need(period, len(closes))
	}

	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(period-1))

	return BollingerBands{
		Upper:  mean + mult*std,
		Middle: mean,
		Lower:  mean - mult*std,
	}, nil
}

// PivotLevels holds classic floor-trader pivot levels.
type PivotLevels struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	S1    float64 `json:"s1"`
	R2    float64 `json:"r2"`
	S2    float64 `json:"s2"`
}

// PivotPoints returns pivot levels from the latest bar's high, low, and
// close.
func PivotPoints(high, low, close float64) PivotLevels {
	pivot := (high + low + close) / 3
	return PivotLevels{
		Pivot: pivot,
		R1:    2*pivot - low,
		S1:    2*pivot - high,
		R2:    pivot + (high - low),
		S2:    pivot - (high - low),
	}
}

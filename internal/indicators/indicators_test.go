package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wilderSeries is the classic 14-period RSI worked example. The first
// fourteen changes seed the averages at RSI 70.46.
var wilderSeries = []float64{
	44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
	45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28,
}

func TestSMA(t *testing.T) {
	v, err := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v, 1e-9)

	v, err = SMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-9, "only the trailing window counts")
}

func TestSMAErrors(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = SMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	// alpha = 0.5 for span 3: 2, then 3, then 4.5.
	v, err := EMA([]float64{2, 4, 6}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-9)

	_, err = EMA([]float64{2, 4}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRSIWilderSeed(t *testing.T) {
	v, err := RSI(wilderSeries, 14)
	require.NoError(t, err)
	assert.InDelta(t, 70.46, v, 0.01)
}

func TestRSIWilderSmoothing(t *testing.T) {
	series := append(append([]float64{}, wilderSeries...), 46.00)
	v, err := RSI(series, 14)
	require.NoError(t, err)
	assert.InDelta(t, 66.25, v, 0.01, "the next bar is smoothed, not re-seeded")
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := range up {
		up[i] = float64(i + 1)
		down[i] = float64(len(down) - i)
	}

	v, err := RSI(up, 14)
	require.NoError(t, err)
	assert.InDelta(t, 100, v, 1e-9)

	v, err = RSI(down, 14)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-9)
}

func TestRSIDefaultsPeriod(t *testing.T) {
	_, err := RSI(wilderSeries[:10], 0)
	assert.ErrorIs(t, err, ErrInsufficientData, "default period 14 needs 15 closes")

	v, err := RSI(wilderSeries, 0)
	require.NoError(t, err)
	assert.InDelta(t, 70.46, v, 0.01)
}

func TestMACDFlatSeries(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	m, err := MACD(closes, 12, 26, 9)
	require.NoError(t, err)
	assert.InDelta(t, 0, m.MACD, 1e-9)
	assert.InDelta(t, 0, m.Signal, 1e-9)
	assert.InDelta(t, 0, m.Histogram, 1e-9)
}

func TestMACDUptrend(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m, err := MACD(closes, 0, 0, 0)
	require.NoError(t, err)
	assert.Greater(t, m.MACD, 0.0, "fast EMA leads in a rising market")
	assert.Greater(t, m.Histogram, 0.0)
}

func TestMACDErrors(t *testing.T) {
	_, err := MACD(make([]float64, 20), 12, 26, 9)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = MACD(make([]float64, 40), 26, 12, 9)
	assert.Error(t, err, "fast period above slow period is rejected")
}

func TestBollinger(t *testing.T) {
	closes := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	b, err := Bollinger(closes, 8, 2.0)
	require.NoError(t, err)

	// Sample deviation: variance 32/7.
	assert.InDelta(t, 5.0, b.Middle, 1e-9)
	assert.InDelta(t, 9.2762, b.Upper, 0.001)
	assert.InDelta(t, 0.7238, b.Lower, 0.001)
}

func TestBollingerDefaults(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 50
	}
	b, err := Bollinger(closes, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 50, b.Upper, 1e-9, "flat series collapses the bands")
	assert.InDelta(t, 50, b.Lower, 1e-9)

	_, err = Bollinger(closes[:10], 0, 0)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPivotPoints(t *testing.T) {
	p := PivotPoints(10, 6, 8)
	assert.InDelta(t, 8.0, p.Pivot, 1e-9)
	assert.InDelta(t, 10.0, p.R1, 1e-9)
	assert.InDelta(t, 6.0, p.S1, 1e-9)
	assert.InDelta(t, 12.0, p.R2, 1e-9)
	assert.InDelta(t, 4.0, p.S2, 1e-9)
}

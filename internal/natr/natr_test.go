package natr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/model"
)

func TestUpdateSeedsThenPublishes(t *testing.T) {
	c := New(3)

	candles := []model.Candle{
		{High: 102, Low: 98, Close: 100},
		{High: 103, Low: 99, Close: 101},
		{High: 104, Low: 100, Close: 102},
	}

	_, ok := c.Update("btc", candles[0])
	assert.False(t, ok, "must not publish before seed period is reached")
	_, ok = c.Update("btc", candles[1])
	assert.False(t, ok)

	natr, ok := c.Update("btc", candles[2])
	require.True(t, ok, "third candle completes the seed window")

	// Seed ATR is the mean of the three TRs: first candle TR=high-low=4,
	// then TR uses prevClose.
	tr1 := 102.0 - 98.0
	tr2 := max(103-99, max(abs(103-100), abs(99-100)))
	tr3 := max(104-100, max(abs(104-101), abs(100-101)))
	wantAtr := (tr1 + tr2 + tr3) / 3
	wantNatr := wantAtr / 102 * 100
	assert.InDelta(t, wantNatr, natr, 1e-9)
}

func TestUpdateSteadyStateWilderSmoothing(t *testing.T) {
	c := New(2)
	c.Update("ETH", model.Candle{High: 10, Low: 8, Close: 9})
	seedNatr, ok := c.Update("ETH", model.Candle{High: 11, Low: 9, Close: 10})
	require.True(t, ok)

	next, ok := c.Update("ETH", model.Candle{High: 12, Low: 10, Close: 11})
	require.True(t, ok)
	assert.NotEqual(t, seedNatr, next)

	got, ok := c.GetNatr("eth")
	require.True(t, ok, "coin key must be case-insensitive")
	assert.InDelta(t, next, got, 1e-9)
}

func TestGetNatrUnknownCoin(t *testing.T) {
	c := New(5)
	_, ok := c.GetNatr("DOGE")
	assert.False(t, ok)
}

func TestUpdateSuppressesNonPositiveClose(t *testing.T) {
	c := New(1)
	_, ok := c.Update("XRP", model.Candle{High: 1, Low: 0.5, Close: 0})
	assert.False(t, ok)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

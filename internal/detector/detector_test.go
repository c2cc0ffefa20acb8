package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/model"
)

func scenarioASnapshot() model.OrderBookSnapshot {
	return model.OrderBookSnapshot{
		Coin: "BTC",
		Bids: []model.Level{{Price: 50000, Size: 60}, {Price: 49995, Size: 1}},
		Asks: []model.Level{{Price: 50010, Size: 1}, {Price: 50015, Size: 1}},
	}
}

func TestDetectScenarioA(t *testing.T) {
	th := Thresholds{DefaultMinOrderSizeUsd: 2_000_000, MaxDistancePercent: 0.2}
	got := Detect(scenarioASnapshot(), th)

	require.Len(t, got, 1)
	lo := got[0]
	assert.Equal(t, "BTC", lo.Coin)
	assert.Equal(t, model.SideBid, lo.Side)
	assert.Equal(t, 50000.0, lo.Price)
	assert.Equal(t, 60.0, lo.Size)
	assert.InDelta(t, 3_000_000, lo.ValueUsd, 1e-6)
	assert.InDelta(t, 5.0/50005*100, lo.DistancePercent, 1e-9)
}

func TestDetectEmptySideEmitsNothing(t *testing.T) {
	snap := model.OrderBookSnapshot{Coin: "BTC", Bids: nil, Asks: []model.Level{{Price: 100, Size: 1}}}
	got := Detect(snap, Thresholds{MaxDistancePercent: 1})
	assert.Nil(t, got)
}

func TestDetectRespectsPerCoinOverride(t *testing.T) {
	th := Thresholds{
		DefaultMinOrderSizeUsd: 1_000_000,
		PerCoinMinOrderSizeUsd: map[string]float64{"ETH": 10},
		MaxDistancePercent:     1,
	}
	snap := model.OrderBookSnapshot{
		Coin: "ETH",
		Bids: []model.Level{{Price: 3000, Size: 1}},
		Asks: []model.Level{{Price: 3001, Size: 1}},
	}
	got := Detect(snap, th)
	require.Len(t, got, 2)
}

func TestDetectRejectsBeyondMaxDistance(t *testing.T) {
	th := Thresholds{DefaultMinOrderSizeUsd: 0, MaxDistancePercent: 0.001}
	got := Detect(scenarioASnapshot(), th)
	assert.Empty(t, got)
}

func TestDetectBoundaryAtExactDistanceIsIncluded(t *testing.T) {
	snap := model.OrderBookSnapshot{
		Coin: "BTC",
		Bids: []model.Level{{Price: 99, Size: 100}},
		Asks: []model.Level{{Price: 101, Size: 100}},
	}
	// mid=100, bid distance = (100-99)/100*100 = 1.0
	th := Thresholds{DefaultMinOrderSizeUsd: 0, MaxDistancePercent: 1.0}
	got := Detect(snap, th)
	require.Len(t, got, 2)
}

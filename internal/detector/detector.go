// Package detector emits a LargeOrder event for every resting book level
// that clears configurable value and distance thresholds, adapted from the
// threshold-and-emit shape of the teacher's whale/iceberg detection in
// main.go's Analyzer.Analyze.
package detector

import (
	"strings"
	"time"

	"densityradar/internal/model"
)

// Thresholds supplies the per-coin minimum USD value and the shared
// maximum distance-from-mid percentage.
type Thresholds struct {
	DefaultMinOrderSizeUsd float64
	PerCoinMinOrderSizeUsd map[string]float64
	MaxDistancePercent     float64
}

// MinFor returns the effective minimum order size for coin, honoring a
// per-coin override when present.
func (t Thresholds) MinFor(coin string) float64 {
	if v, ok := t.PerCoinMinOrderSizeUsd[strings.ToUpper(coin)]; ok {
		return v
	}
	return t.DefaultMinOrderSizeUsd
}

// Detect scans a snapshot's bid and ask sides and returns every level that
// clears the value/distance gate. Requires non-empty bids and asks;
// returns nil otherwise.
func Detect(snapshot model.OrderBookSnapshot, thresholds Thresholds) []model.LargeOrder {
	mid, ok := snapshot.Mid()
	if !ok {
		return nil
	}

	minUsd := thresholds.MinFor(snapshot.Coin)
	var out []model.LargeOrder

	for _, lvl := range snapshot.Bids {
		distance := (mid - lvl.Price) / mid * 100
		if lo, ok := evaluate(snapshot, lvl, model.SideBid, mid, distance, minUsd, thresholds.MaxDistancePercent); ok {
			out = append(out, lo)
		}
	}
	for _, lvl := range snapshot.Asks {
		distance := (lvl.Price - mid) / mid * 100
		if lo, ok := evaluate(snapshot, lvl, model.SideAsk, mid, distance, minUsd, thresholds.MaxDistancePercent); ok {
			out = append(out, lo)
		}
	}
	return out
}

func evaluate(snapshot model.OrderBookSnapshot, lvl model.Level, side model.Side, mid, distance, minUsd, maxDistance float64) (model.LargeOrder, bool) {
	valueUsd := lvl.Price * lvl.Size
	if valueUsd < minUsd {
		return model.LargeOrder{}, false
	}
	if distance < 0 || distance > maxDistance {
		return model.LargeOrder{}, false
	}
	ts := snapshot.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return model.LargeOrder{
		Coin:            snapshot.Coin,
		Side:            side,
		Price:           lvl.Price,
		Size:            lvl.Size,
		ValueUsd:        valueUsd,
		DistancePercent: distance,
		Timestamp:       ts,
	}, true
}

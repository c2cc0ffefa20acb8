package model

import (
	"fmt"
	"math"
	"time"
)

// anchorRoundingUnit is the canonical price rounding used for anchor
// identity, so that 50000.00001 and 50000.0 collapse to the same anchor.
const anchorRoundingUnit = 1e-4

// RoundAnchorPrice rounds a price to the canonical anchor-identity grid.
func RoundAnchorPrice(price float64) float64 {
	return math.Round(price/anchorRoundingUnit) * anchorRoundingUnit
}

// AnchorId identifies a resting density anchor by coin, rounded price and
// side. Equality is structural on these three fields.
type AnchorId struct {
	Coin  string
	Price float64
	Side  Side
}

// NewAnchorId builds an AnchorId with the canonical price rounding applied.
func NewAnchorId(coin string, price float64, side Side) AnchorId {
	return AnchorId{Coin: coin, Price: RoundAnchorPrice(price), Side: side}
}

// Key renders a stable map/persistence key for the anchor.
func (a AnchorId) Key() string {
	return fmt.Sprintf("%s|%.4f|%s", a.Coin, a.Price, a.Side)
}

// AnchorStats is the persisted per-anchor trade record.
type AnchorStats struct {
	AnchorId      AnchorId  `json:"anchorId"`
	TotalTrades   int       `json:"totalTrades"`
	WinTrades     int       `json:"winTrades"`
	LossTrades    int       `json:"lossTrades"`
	FirstTradeAt  time.Time `json:"firstTradeAt"`
	LastTradeAt   time.Time `json:"lastTradeAt"`
	TotalPnlUsd   float64   `json:"totalPnlUsd"`
	AvgPnlPercent float64   `json:"avgPnlPercent"`
	LastTradeSize float64   `json:"lastTradeSize"`
}

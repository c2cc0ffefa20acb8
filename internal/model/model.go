// Package model holds the data shapes shared across every density-anchor
// component: order book levels, large-order signals, candles, positions and
// their ledger bookkeeping. Nothing in here talks to the network or disk.
package model

import "time"

// Side of a resting book level or a position.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PositionSide is the directional side of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OrderSide is the side of a live exchange order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// Level is a single resting order book entry.
type Level struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is an L2 book for one coin. Bids are sorted descending
// by price, asks ascending, matching exchange order.
type OrderBookSnapshot struct {
	Coin  string
	Time  time.Time
	Bids  []Level
	Asks  []Level
}

// BestBid returns the first (highest) bid level, or false if empty.
func (s OrderBookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the first (lowest) ask level, or false if empty.
func (s OrderBookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Mid returns (bestBid+bestAsk)/2, or false if either side is empty.
func (s OrderBookSnapshot) Mid() (float64, bool) {
	bb, ok := s.BestBid()
	if !ok {
		return 0, false
	}
	ba, ok := s.BestAsk()
	if !ok {
		return 0, false
	}
	return (bb.Price + ba.Price) / 2, true
}

// Trade is a single executed trade tick delivered by the stream client.
type Trade struct {
	Coin      string
	Price     float64
	Size      float64
	Side      Side
	Timestamp time.Time
}

// LargeOrder is the ephemeral signal C4 emits for a resting level that
// clears the value/distance thresholds.
type LargeOrder struct {
	Coin            string
	Side            Side
	Price           float64
	Size            float64
	ValueUsd        float64
	DistancePercent float64
	Timestamp       time.Time
}

// Candle is a closed 5-minute OHLC bar.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
}

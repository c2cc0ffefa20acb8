package model

import "time"

// OrderPurpose distinguishes entry-ladder limits from take-profit limits.
type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "entry"
	PurposeTP    OrderPurpose = "tp"
)

// LimitOrderState tracks a single resting limit order placed by C9, either
// part of the entry ladder or the TP ladder. Filled and Cancelled are
// terminal, mutually exclusive and sticky once set.
type LimitOrderState struct {
	OrderId     string
	Coin        string
	Price       float64
	SizeUsd     float64
	Contracts   float64
	Side        OrderSide
	Purpose     OrderPurpose
	PlacedAt    time.Time
	Filled      bool
	FilledAt    time.Time
	Cancelled   bool
	CancelledAt time.Time
}

// IsTerminal reports whether the order has reached a sticky end state.
func (o *LimitOrderState) IsTerminal() bool {
	return o.Filled || o.Cancelled
}

// MarkFilled transitions the order to filled, if not already terminal.
func (o *LimitOrderState) MarkFilled(at time.Time) {
	if o.IsTerminal() {
		return
	}
	o.Filled = true
	o.FilledAt = at
}

// MarkCancelled transitions the order to cancelled, if not already terminal.
// Calling this on an already-cancelled order is a no-op, matching the
// idempotent-cancel invariant.
func (o *LimitOrderState) MarkCancelled(at time.Time) {
	if o.IsTerminal() {
		return
	}
	o.Cancelled = true
	o.CancelledAt = at
}

// TPTarget is one rung of a market-on-touch take-profit ladder.
type TPTarget struct {
	Price   float64
	SizeUsd float64
	Hit     bool
}

// ExecutedTrade is one fill (entry or exit) recorded against a position.
type ExecutedTrade struct {
	Price     float64
	SizeUsd   float64
	Timestamp time.Time
}

// PositionState is the full ledger record for one open density-anchor
// position. sizeUsd is monotonically non-increasing after creation.
type PositionState struct {
	Id                    string
	Coin                  string
	Side                  PositionSide
	EntryPrice            float64
	SizeUsd               float64
	SizeContracts         float64
	InitialSizeUsd        float64
	OpenedAt              time.Time
	AnchorSide            Side
	AnchorPrice           float64
	AnchorInitialValueUsd float64
	AnchorMinValueUsd     float64
	TpTargets             []*TPTarget
	EntryLimitOrders      []*LimitOrderState
	TpLimitOrders         []*LimitOrderState
	MarketFilledSizeUsd   float64
	LimitFilledSizeUsd    float64
	EntryTrades           []ExecutedTrade
	ExitTrades            []ExecutedTrade

	// NatrAtEntry is the NATR% observed when the position was opened; the
	// TP/entry ladders are scaled from it.
	NatrAtEntry float64
}

// ActiveEntryLimitOrders returns entry-ladder orders still live.
func (p *PositionState) ActiveEntryLimitOrders() []*LimitOrderState {
	var out []*LimitOrderState
	for _, o := range p.EntryLimitOrders {
		if !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// ActiveTpLimitOrders returns TP-ladder orders still live.
func (p *PositionState) ActiveTpLimitOrders() []*LimitOrderState {
	var out []*LimitOrderState
	for _, o := range p.TpLimitOrders {
		if !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// ClosedTrade is the flattened record C11 appends once a position (or a
// partial slice of it) is closed.
type ClosedTrade struct {
	Timestamp         time.Time
	Coin              string
	Side              PositionSide
	AnchorPrice       float64
	EntryPrice        float64
	ExitPrice         float64
	SizeUsd           float64
	PnlUsd            float64
	PnlPercent        float64
	Reason            string
	AnchorTotalTrades int
	AnchorWinTrades   int
}

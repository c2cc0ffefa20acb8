package ledger

import (
	"context"
	"time"

	"densityradar/internal/model"
	"densityradar/internal/policy"
)

// OnSnapshot updates the last-seen mid for the snapshot's coin and, if a
// position is open for it, runs the anchor-visibility decision tree, the
// entry-limit ladder fill simulation and the TP ladder checks, in that
// order, per §4.9.
func (l *Ledger) OnSnapshot(ctx context.Context, snapshot model.OrderBookSnapshot) {
	if mid, ok := snapshot.Mid(); ok {
		l.lastMid[snapshot.Coin] = mid
	}

	pos, ok := l.positions[snapshot.Coin]
	if !ok {
		return
	}

	if l.checkAnchorVisibility(ctx, pos, snapshot) {
		return // position closed this tick
	}

	l.simulateEntryFills(ctx, pos, snapshot)
	if _, stillOpen := l.positions[snapshot.Coin]; !stillOpen {
		return
	}

	l.checkTpLadder(ctx, pos, snapshot)
}

// checkAnchorVisibility implements the §4.9 decision tree. Returns true
// if the position was closed.
func (l *Ledger) checkAnchorVisibility(ctx context.Context, pos *model.PositionState, snapshot model.OrderBookSnapshot) bool {
	levels := snapshot.Bids
	if pos.AnchorSide == model.SideAsk {
		levels = snapshot.Asks
	}
	if len(levels) == 0 {
		return false // empty side: skip this snapshot, no false close
	}

	var minVisible, maxVisible float64
	if pos.AnchorSide == model.SideBid {
		maxVisible = levels[0].Price
		minVisible = levels[len(levels)-1].Price
	} else {
		minVisible = levels[0].Price
		maxVisible = levels[len(levels)-1].Price
	}

	anchorInRange := pos.AnchorPrice >= minVisible && pos.AnchorPrice <= maxVisible

	if !anchorInRange {
		adverse := (pos.AnchorSide == model.SideBid && pos.AnchorPrice > maxVisible) ||
			(pos.AnchorSide == model.SideAsk && pos.AnchorPrice < minVisible)
		if adverse {
			l.closeAndRemove(ctx, pos, l.lastMid[pos.Coin], ReasonAnchorLostOutOfViewAgainst)
			return true
		}
		return false
	}

	var currentValueUsd float64
	found := false
	for _, lvl := range levels {
		if lvl.Price == pos.AnchorPrice {
			currentValueUsd = lvl.Price * lvl.Size
			found = true
			break
		}
	}

	if !found {
		for _, o := range pos.ActiveEntryLimitOrders() {
			_ = l.engine.CancelLimitOrder(ctx, o)
		}
		l.closeAndRemove(ctx, pos, l.lastMid[pos.Coin], ReasonAnchorRemovedInView)
		return true
	}

	if currentValueUsd <= pos.AnchorMinValueUsd {
		l.closeAndRemove(ctx, pos, l.lastMid[pos.Coin], ReasonAnchorValueBelowThreshold)
		return true
	}

	if pos.AnchorInitialValueUsd > 0 && currentValueUsd/pos.AnchorInitialValueUsd*100 < l.cfg.EntryLimitDensityMinPercent {
		for _, o := range pos.ActiveEntryLimitOrders() {
			_ = l.engine.CancelLimitOrder(ctx, o)
		}
	}

	return false
}

// simulateEntryFills marks any entry-limit order filled whose price the
// current mid has crossed in the order's favor, and installs the TP
// ladder on the very first such fill if none exists yet (LIMIT mode).
func (l *Ledger) simulateEntryFills(ctx context.Context, pos *model.PositionState, snapshot model.OrderBookSnapshot) {
	mid, ok := snapshot.Mid()
	if !ok {
		return
	}

	filledAny := false
	for _, order := range pos.ActiveEntryLimitOrders() {
		favorable := (order.Side == model.OrderBuy && mid <= order.Price) ||
			(order.Side == model.OrderSell && mid >= order.Price)
		if !favorable {
			continue
		}
		order.MarkFilled(time.Now())
		contracts := order.Contracts
		if contracts == 0 && order.Price > 0 {
			contracts = order.SizeUsd / order.Price
		}
		pos.LimitFilledSizeUsd += order.SizeUsd
		pos.SizeUsd += order.SizeUsd
		pos.SizeContracts += contracts
		pos.EntryTrades = append(pos.EntryTrades, model.ExecutedTrade{Price: order.Price, SizeUsd: order.SizeUsd, Timestamp: time.Now()})
		filledAny = true
	}

	if !filledAny {
		return
	}
	recomputeEntryPrice(pos)

	if len(pos.TpLimitOrders) == 0 && len(pos.TpTargets) == 0 {
		mult := l.tpMultipliers[pos.Coin]
		if mult <= 0 {
			mult = 1
		}
		l.installTpLadder(ctx, pos, policy.Decision{TpNatrMultiplier: mult, SlNatrMultiplier: 1})
	}
}

func recomputeEntryPrice(pos *model.PositionState) {
	var totalSize, weighted float64
	for _, t := range pos.EntryTrades {
		totalSize += t.SizeUsd
		weighted += t.Price * t.SizeUsd
	}
	if totalSize > 0 {
		pos.EntryPrice = weighted / totalSize
	}
}

// checkTpLadder evaluates limit-based and market-on-touch TP fills against
// the current mid, closing the remainder once sizeUsd is exhausted.
func (l *Ledger) checkTpLadder(ctx context.Context, pos *model.PositionState, snapshot model.OrderBookSnapshot) {
	mid, ok := snapshot.Mid()
	if !ok {
		return
	}

	usedLimitTps := len(pos.TpLimitOrders) > 0
	for _, order := range pos.ActiveTpLimitOrders() {
		favorable := (order.Side == model.OrderSell && mid >= order.Price) ||
			(order.Side == model.OrderBuy && mid <= order.Price)
		if !favorable {
			continue
		}
		order.MarkFilled(time.Now())
		contracts := order.Contracts
		if contracts == 0 && order.Price > 0 {
			contracts = order.SizeUsd / order.Price
		}
		pos.SizeUsd -= order.SizeUsd
		pos.SizeContracts -= contracts
		pos.ExitTrades = append(pos.ExitTrades, model.ExecutedTrade{Price: order.Price, SizeUsd: order.SizeUsd, Timestamp: time.Now()})
	}

	for _, target := range pos.TpTargets {
		if target.Hit {
			continue
		}
		hit := (pos.Side == model.PositionLong && mid >= target.Price) ||
			(pos.Side == model.PositionShort && mid <= target.Price)
		if !hit {
			continue
		}
		contracts := 0.0
		if pos.SizeUsd > 0 {
			contracts = pos.SizeContracts * (target.SizeUsd / pos.SizeUsd)
		}
		if err := l.engine.ClosePosition(ctx, pos.Coin, pos.Side, contracts, ReasonTpHit); err != nil {
			l.logger.Printf("⚠️ ledger: tp partial close %s failed: %v", pos.Coin, err)
			continue
		}
		target.Hit = true
		pos.SizeUsd -= target.SizeUsd
		pos.SizeContracts -= contracts
		pos.ExitTrades = append(pos.ExitTrades, model.ExecutedTrade{Price: target.Price, SizeUsd: target.SizeUsd, Timestamp: time.Now()})
	}

	if pos.SizeUsd <= 0 && len(pos.ExitTrades) > 0 {
		reason := ReasonTpAllHit
		if usedLimitTps {
			reason = ReasonTpLimitAllHit
		}
		l.closeAndRemove(ctx, pos, mid, reason)
	}
}

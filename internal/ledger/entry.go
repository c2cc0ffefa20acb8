package ledger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"densityradar/internal/execution"
	"densityradar/internal/model"
	"densityradar/internal/policy"
)

// OpenEntry sizes and stages a new position off a detected LargeOrder,
// branching on the configured entry mode. Returns false if the entry was
// abstained (no NATR, policy veto, normalization collapse).
func (l *Ledger) OpenEntry(ctx context.Context, order model.LargeOrder) bool {
	if l.HasPosition(order.Coin) {
		return false
	}

	natr, ok := l.natr.GetNatr(order.Coin)
	if !ok {
		l.logger.Printf("ledger: %s natr unknown, abstaining", order.Coin)
		return false
	}

	side := model.PositionLong
	if order.Side == model.SideAsk {
		side = model.PositionShort
	}

	anchorId := model.NewAnchorId(order.Coin, order.Price, order.Side)
	decision := l.policyDecision(anchorId, order.Coin, natr, time.Now())
	if !decision.AllowTrade {
		l.logger.Printf("ledger: %s entry vetoed by policy reason=%s", order.Coin, decision.Reason)
		return false
	}

	baseSize := l.baseSize(natr)
	finalSize := baseSize * decision.SizeMultiplier
	if finalSize <= 0 {
		return false
	}

	pos := &model.PositionState{
		Id:                    uuid.NewString(),
		Coin:                  order.Coin,
		Side:                  side,
		AnchorSide:            order.Side,
		AnchorPrice:           order.Price,
		AnchorInitialValueUsd: order.ValueUsd,
		AnchorMinValueUsd:     math.Max(order.ValueUsd*l.cfg.AnchorMinValueFraction, l.cfg.AnchorMinValueUsd),
		InitialSizeUsd:        finalSize,
		NatrAtEntry:           natr,
		OpenedAt:              time.Now(),
	}

	switch l.cfg.EntryMode {
	case EntryLimit:
		tpMult := decision.TpNatrMultiplier
		if tpMult <= 0 {
			tpMult = 1
		}
		l.tpMultipliers[order.Coin] = tpMult
		l.openLimitEntry(ctx, pos, finalSize, natr)
	case EntryMixed:
		l.openMixedEntry(ctx, pos, finalSize, natr, decision)
	default:
		l.openMarketEntry(ctx, pos, finalSize, natr, decision)
	}

	if pos.SizeUsd == 0 && len(pos.EntryLimitOrders) == 0 {
		// Nothing filled and no resting entry orders were placed: abstain.
		return false
	}

	l.positions[order.Coin] = pos
	return true
}

func (l *Ledger) policyDecision(anchorId model.AnchorId, coin string, natr float64, now time.Time) policy.Decision {
	stats, known := l.anchors.Get(anchorId)
	feat := policy.Features{
		Shock30mNatr:        l.features.CalculateNatrShock(coin, 30*60*1000, now),
		Shock60mNatr:        l.features.CalculateNatrShock(coin, 60*60*1000, now),
		TimeInAnchorZoneMin: 0,
		TimeSinceEntryMin:   0,
		TpHitsCount:         0,
	}
	if known {
		feat.AnchorTradeCount = float64(stats.TotalTrades)
		feat.AnchorWinCount = float64(stats.WinTrades)
		if !stats.LastTradeAt.IsZero() {
			feat.AnchorLastTradeAgoMin = now.Sub(stats.LastTradeAt).Minutes()
		}
	}
	if !l.anchors.CanTrade(anchorId, l.cfg.MaxAnchorWins) {
		return policy.Decision{AllowTrade: false, Reason: "anchor_max_wins_exceeded"}
	}
	return l.policy.Evaluate(policy.ScopeNewEntry, feat)
}

func (l *Ledger) baseSize(natr float64) float64 {
	if l.cfg.MaxRiskPerTrade > 0 && natr > 0 {
		denom := natr * l.cfg.RiskNatrMultiplier / 100
		if denom > 0 {
			return l.cfg.MaxRiskPerTrade / denom
		}
	}
	return l.cfg.PositionSizeUsd
}

func (l *Ledger) openMarketEntry(ctx context.Context, pos *model.PositionState, sizeUsd, natr float64, decision policy.Decision) {
	result, ok := l.engine.OpenPosition(ctx, execution.Signal{
		Coin:        pos.Coin,
		Side:        pos.Side,
		SizeUsd:     sizeUsd,
		AnchorSide:  pos.AnchorSide,
		AnchorPrice: pos.AnchorPrice,
		NatrAtEntry: natr,
	})
	if !ok {
		return
	}
	pos.EntryPrice = result.ExecutedPrice
	pos.SizeContracts = result.Contracts
	pos.SizeUsd = result.ExecutedSize
	pos.MarketFilledSizeUsd = result.ExecutedSize
	pos.EntryTrades = append(pos.EntryTrades, model.ExecutedTrade{Price: result.ExecutedPrice, SizeUsd: result.ExecutedSize, Timestamp: time.Now()})
	l.installTpLadder(ctx, pos, decision)
}

func (l *Ledger) openLimitEntry(ctx context.Context, pos *model.PositionState, sizeUsd, natr float64) {
	pos.EntryPrice = pos.AnchorPrice
	prices := ladderPrices(pos.AnchorPrice, natr, pos.Side, l.cfg.EntryLimitNatrMin, l.cfg.EntryLimitNatrMax, len(l.cfg.EntryLimitProportions))
	for i, price := range prices {
		if i >= len(l.cfg.EntryLimitProportions) {
			break
		}
		orderSizeUsd := sizeUsd * l.cfg.EntryLimitProportions[i]
		orderSide := model.OrderBuy
		if pos.Side == model.PositionShort {
			orderSide = model.OrderSell
		}
		order, ok := l.engine.PlaceLimitOrder(ctx, pos.Coin, orderSide, price, orderSizeUsd, model.PurposeEntry)
		if !ok {
			continue
		}
		pos.EntryLimitOrders = append(pos.EntryLimitOrders, order)
	}
}

func (l *Ledger) openMixedEntry(ctx context.Context, pos *model.PositionState, sizeUsd, natr float64, decision policy.Decision) {
	marketPart := sizeUsd * l.cfg.EntryMarketPercent / 100
	limitPart := sizeUsd * l.cfg.EntryLimitPercent / 100

	if marketPart > 0 {
		result, ok := l.engine.OpenPosition(ctx, execution.Signal{
			Coin:        pos.Coin,
			Side:        pos.Side,
			SizeUsd:     marketPart,
			AnchorSide:  pos.AnchorSide,
			AnchorPrice: pos.AnchorPrice,
			NatrAtEntry: natr,
		})
		if ok {
			pos.EntryPrice = result.ExecutedPrice
			pos.SizeContracts = result.Contracts
			pos.SizeUsd = result.ExecutedSize
			pos.MarketFilledSizeUsd = result.ExecutedSize
			pos.EntryTrades = append(pos.EntryTrades, model.ExecutedTrade{Price: result.ExecutedPrice, SizeUsd: result.ExecutedSize, Timestamp: time.Now()})
		}
	}
	if pos.EntryPrice == 0 {
		pos.EntryPrice = pos.AnchorPrice
	}

	if limitPart > 0 {
		prices := ladderPrices(pos.AnchorPrice, natr, pos.Side, l.cfg.EntryLimitNatrMin, l.cfg.EntryLimitNatrMax, len(l.cfg.EntryLimitProportions))
		for i, price := range prices {
			if i >= len(l.cfg.EntryLimitProportions) {
				break
			}
			orderSizeUsd := limitPart * l.cfg.EntryLimitProportions[i]
			orderSide := model.OrderBuy
			if pos.Side == model.PositionShort {
				orderSide = model.OrderSell
			}
			order, ok := l.engine.PlaceLimitOrder(ctx, pos.Coin, orderSide, price, orderSizeUsd, model.PurposeEntry)
			if !ok {
				continue
			}
			pos.EntryLimitOrders = append(pos.EntryLimitOrders, order)
		}
	}

	l.installTpLadder(ctx, pos, decision)
}

// ladderPrices implements the §4.9 "limit-price ladder formula": for
// n proportions, spreads offsets linearly between minNatr and maxNatr
// (the midpoint when n=1), applied above the anchor for a long and below
// it for a short. Non-finite or non-positive prices are dropped.
func ladderPrices(anchorPrice, natr float64, side model.PositionSide, minNatr, maxNatr float64, n int) []float64 {
	if n <= 0 || natr <= 0 {
		return nil
	}
	natrStep := anchorPrice * natr / 100
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		var offset float64
		if n == 1 {
			offset = (minNatr + maxNatr) / 2
		} else {
			offset = minNatr + (maxNatr-minNatr)*float64(i)/float64(n-1)
		}
		var price float64
		if side == model.PositionLong {
			price = anchorPrice + natrStep*offset
		} else {
			price = anchorPrice - natrStep*offset
		}
		if !isFinitePositive(price) {
			continue
		}
		out = append(out, price)
	}
	return out
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// installTpLadder installs either the limit-based TP ladder (preferred
// when tpLimitProportions is configured) or the market-on-touch tpTargets,
// applying the policy's TP NATR multiplier.
func (l *Ledger) installTpLadder(ctx context.Context, pos *model.PositionState, decision policy.Decision) {
	if pos.InitialSizeUsd <= 0 || pos.EntryPrice <= 0 {
		return
	}
	tpMultiplier := decision.TpNatrMultiplier
	if tpMultiplier <= 0 {
		tpMultiplier = 1
	}
	natr := pos.NatrAtEntry * tpMultiplier

	if len(l.cfg.TpLimitProportions) > 0 {
		l.installLimitTps(ctx, pos, natr)
		return
	}
	l.installMarketOnTouchTps(pos, natr)
}

func (l *Ledger) installLimitTps(ctx context.Context, pos *model.PositionState, natr float64) {
	orderSide := model.OrderSell
	if pos.Side == model.PositionShort {
		orderSide = model.OrderBuy
	}
	for i, level := range l.cfg.TpNatrLevels {
		if i >= len(l.cfg.TpPercents) {
			break
		}
		price := tpPrice(pos.EntryPrice, natr, level, pos.Side)
		if !isFinitePositive(price) {
			continue
		}
		levelSizeUsd := pos.InitialSizeUsd * l.cfg.TpPercents[i] / 100
		for _, proportion := range l.cfg.TpLimitProportions {
			orderSizeUsd := levelSizeUsd * proportion
			order, ok := l.engine.PlaceLimitOrder(ctx, pos.Coin, orderSide, price, orderSizeUsd, model.PurposeTP)
			if !ok {
				continue
			}
			pos.TpLimitOrders = append(pos.TpLimitOrders, order)
		}
	}
}

func (l *Ledger) installMarketOnTouchTps(pos *model.PositionState, natr float64) {
	for i, level := range l.cfg.TpNatrLevels {
		if i >= len(l.cfg.TpPercents) {
			break
		}
		price := tpPrice(pos.EntryPrice, natr, level, pos.Side)
		if !isFinitePositive(price) {
			continue
		}
		pos.TpTargets = append(pos.TpTargets, &model.TPTarget{
			Price:   price,
			SizeUsd: pos.InitialSizeUsd * l.cfg.TpPercents[i] / 100,
		})
	}
}

func tpPrice(entryPrice, natr, level float64, side model.PositionSide) float64 {
	offset := entryPrice * natr / 100 * level
	if side == model.PositionLong {
		return entryPrice + offset
	}
	return entryPrice - offset
}

package ledger

import (
	"context"
	"fmt"
)

// RunPnlSupervisor iterates every open position and market-closes any
// whose unrealized PnL has breached -maxRiskPerTrade, using the last mid
// price observed for its coin. Mirrors §4.9's PnL supervisor timer.
func (l *Ledger) RunPnlSupervisor(ctx context.Context, maxRiskPerTrade float64) {
	if maxRiskPerTrade <= 0 {
		return
	}
	for coin, pos := range l.positions {
		mid, ok := l.lastMid[coin]
		if !ok || pos.EntryPrice == 0 {
			continue
		}
		pnlUsd, _ := positionPnl(pos, mid)
		if pnlUsd >= -maxRiskPerTrade {
			continue
		}
		for _, o := range pos.ActiveEntryLimitOrders() {
			_ = l.engine.CancelLimitOrder(ctx, o)
		}
		for _, o := range pos.ActiveTpLimitOrders() {
			_ = l.engine.CancelLimitOrder(ctx, o)
		}
		reason := fmt.Sprintf("%s_pnl=%.2f", ReasonEmergencyStopLoss, pnlUsd)
		l.logger.Printf("🚨 ledger: %s emergency stop loss pnlUsd=%.2f", coin, pnlUsd)
		l.closeAndRemove(ctx, pos, mid, reason)
	}
}

package ledger

import (
	"context"
	"log"
	"time"

	"densityradar/internal/execution"
	"densityradar/internal/model"
	"densityradar/internal/policy"
)

// Close reasons, mirrored verbatim into trade-log records.
const (
	ReasonAnchorLostOutOfViewAgainst = "anchor_lost_out_of_view_against"
	ReasonAnchorRemovedInView        = "anchor_removed_from_book_in_view"
	ReasonAnchorValueBelowThreshold  = "anchor_value_below_threshold"
	ReasonTpHit                      = "tp_hit"
	ReasonTpAllHit                   = "tp_all_hit"
	ReasonTpLimitAllHit              = "tp_limit_all_hit"
	ReasonEmergencyStopLoss          = "emergency_stop_loss"
)

// NatrSource supplies the last published NATR% for a coin.
type NatrSource interface {
	GetNatr(coin string) (float64, bool)
}

// FeatureSource supplies rolling NATR-shock features for a coin.
type FeatureSource interface {
	CalculateNatrShock(coin string, windowMs int64, now time.Time) float64
}

// AnchorSource is the slice of anchor.Memory the ledger depends on.
type AnchorSource interface {
	Get(id model.AnchorId) (model.AnchorStats, bool)
	RecordTrade(id model.AnchorId, pnlUsd, size float64, closedAtMs int64)
	CanTrade(id model.AnchorId, maxWins int) bool
}

// TradeSink receives a flattened record for every closed position/partial.
type TradeSink interface {
	RecordClosedTrade(trade model.ClosedTrade)
}

// Ledger owns every open position's lifecycle: anchor visibility, ladder
// fills, TP ladders and the PnL supervisor, generalized from
// predator_engine.go's single in-flight-trade bookkeeping into a per-coin
// map of PositionState.
type Ledger struct {
	cfg      Config
	engine   execution.Engine
	policy   *policy.Engine
	anchors  AnchorSource
	natr     NatrSource
	features FeatureSource
	logger   *log.Logger
	tradeLog TradeSink

	positions     map[string]*model.PositionState // coin -> position
	lastMid       map[string]float64
	tpMultipliers map[string]float64 // coin -> policy tpNatrMultiplier captured at entry, for LIMIT-mode deferred TP install
}

// New constructs a Ledger. tradeLog may be nil (closed trades are simply
// not recorded).
func New(cfg Config, engine execution.Engine, pol *policy.Engine, anchors AnchorSource, natr NatrSource, features FeatureSource, tradeLog TradeSink, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		cfg:       cfg,
		engine:    engine,
		policy:    pol,
		anchors:   anchors,
		natr:      natr,
		features:  features,
		tradeLog:  tradeLog,
		logger:    logger,
		positions:     make(map[string]*model.PositionState),
		lastMid:       make(map[string]float64),
		tpMultipliers: make(map[string]float64),
	}
}

// HasPosition reports whether coin already has an open (or pending-fill)
// position.
func (l *Ledger) HasPosition(coin string) bool {
	_, ok := l.positions[coin]
	return ok
}

// OpenPositionsCount returns the number of coins with a live position.
func (l *Ledger) OpenPositionsCount() int {
	return len(l.positions)
}

// Position returns the live position for coin, if any.
func (l *Ledger) Position(coin string) (*model.PositionState, bool) {
	p, ok := l.positions[coin]
	return p, ok
}

// OnTrade refreshes the last-seen mid for a coin from a live trade tick,
// giving the PnL supervisor a tighter price between order-book snapshots.
// Only coins with an open position are tracked.
func (l *Ledger) OnTrade(trade model.Trade) {
	if _, ok := l.positions[trade.Coin]; !ok {
		return
	}
	l.lastMid[trade.Coin] = trade.Price
}

func (l *Ledger) closeAndRemove(ctx context.Context, pos *model.PositionState, exitPrice float64, reason string) {
	side := pos.Side
	if pos.SizeContracts != 0 {
		if err := l.engine.ClosePosition(ctx, pos.Coin, side, pos.SizeContracts, reason); err != nil {
			l.logger.Printf("⚠️ ledger: close %s failed: %v", pos.Coin, err)
		}
	}
	for _, o := range pos.ActiveEntryLimitOrders() {
		_ = l.engine.CancelLimitOrder(ctx, o)
	}
	for _, o := range pos.ActiveTpLimitOrders() {
		_ = l.engine.CancelLimitOrder(ctx, o)
	}

	pnlUsd, pnlPercent := positionPnl(pos, exitPrice)
	anchorId := model.NewAnchorId(pos.Coin, pos.AnchorPrice, pos.AnchorSide)
	l.anchors.RecordTrade(anchorId, pnlUsd, pos.SizeUsd, 0)

	if l.tradeLog != nil {
		stats, _ := l.anchors.Get(anchorId)
		l.tradeLog.RecordClosedTrade(model.ClosedTrade{
			Coin:              pos.Coin,
			Side:              pos.Side,
			AnchorPrice:       pos.AnchorPrice,
			EntryPrice:        pos.EntryPrice,
			ExitPrice:         exitPrice,
			SizeUsd:           pos.SizeUsd,
			PnlUsd:            pnlUsd,
			PnlPercent:        pnlPercent,
			Reason:            reason,
			AnchorTotalTrades: stats.TotalTrades,
			AnchorWinTrades:   stats.WinTrades,
		})
	}

	l.logger.Printf("ledger: closed %s %s reason=%s pnlUsd=%.2f", pos.Coin, pos.Side, reason, pnlUsd)
	delete(l.positions, pos.Coin)
}

func positionPnl(pos *model.PositionState, exitPrice float64) (pnlUsd, pnlPercent float64) {
	if pos.EntryPrice == 0 {
		return 0, 0
	}
	var priceDiff float64
	if pos.Side == model.PositionLong {
		priceDiff = exitPrice - pos.EntryPrice
	} else {
		priceDiff = pos.EntryPrice - exitPrice
	}
	pnlPercent = priceDiff / pos.EntryPrice * 100
	pnlUsd = pos.SizeUsd * pnlPercent / 100
	return pnlUsd, pnlPercent
}

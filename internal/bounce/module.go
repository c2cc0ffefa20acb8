// Package bounce orchestrates the density-anchor bounce strategy: it gates
// incoming LargeOrder signals, owns the pending-coin re-entrancy guard, and
// drives the ledger's per-snapshot updates and PnL supervisor off the
// single scheduler, adapted from predator_engine.go's PredatorEngine/
// GlobalExposureGuard gate sequence.
package bounce

import (
	"context"
	"log"
	"sync"
	"time"

	"densityradar/internal/ledger"
	"densityradar/internal/model"
	"densityradar/internal/scheduler"
)

// Mode mirrors the tradeMode configuration value.
type Mode string

const (
	ModeScreenOnly  Mode = "SCREEN_ONLY"
	ModeTradePaper  Mode = "TRADE_PAPER"
	ModeTradeLive   Mode = "TRADE_LIVE"
)

// Config carries the gating/sizing parameters owned at the module level.
type Config struct {
	TradeEnabled      bool
	Mode              Mode
	MaxOpenPositions  int
	MaxRiskPerTrade   float64
	PnlCheckInterval  time.Duration
}

// NatrSource supplies the last published NATR% for a coin.
type NatrSource interface {
	GetNatr(coin string) (float64, bool)
}

// TradeSubscriber is the market-data client's capability to stream trade
// ticks for one coin on demand, injected at construction per §9's note on
// breaking the cyclic coupling between the trading module and the book
// client rather than wiring a back-reference after the fact. It is
// satisfied by a small adapter over orderbook.Client rather than the
// client type directly, so this package never imports orderbook.
type TradeSubscriber interface {
	SubscribeTrades(coin string, cb func(model.Trade))
}

// Module gates and executes the bounce strategy on top of a Ledger.
type Module struct {
	cfg    Config
	ledger *ledger.Ledger
	natr   NatrSource
	trades TradeSubscriber
	sched  *scheduler.Scheduler
	logger *log.Logger

	mu               sync.Mutex
	pendingCoins     map[string]bool
	tradeSubscribed  map[string]bool
}

// New constructs a Module. sched may be nil, in which case HandleLargeOrder
// and HandleSnapshot run synchronously on the caller's goroutine (used by
// tests and by the scheduler's own handler dispatch). trades may also be
// nil, in which case the module never subscribes to trade ticks.
func New(cfg Config, led *ledger.Ledger, natr NatrSource, trades TradeSubscriber, sched *scheduler.Scheduler, logger *log.Logger) *Module {
	if logger == nil {
		logger = log.Default()
	}
	return &Module{
		cfg:             cfg,
		ledger:          led,
		natr:            natr,
		trades:          trades,
		sched:           sched,
		logger:          logger,
		pendingCoins:    make(map[string]bool),
		tradeSubscribed: make(map[string]bool),
	}
}

// Enqueue posts msg onto the module's scheduler, if one is configured;
// otherwise it dispatches synchronously, which is how tests exercise the
// gating logic without standing up a goroutine.
func (m *Module) Enqueue(ctx context.Context, msg scheduler.Message) {
	if m.sched == nil {
		m.Dispatch(ctx, msg)
		return
	}
	m.sched.Send(msg)
}

// Dispatch routes one scheduler message to the matching handler; this is
// the function passed to scheduler.Run by the process supervisor.
func (m *Module) Dispatch(ctx context.Context, msg scheduler.Message) {
	switch msg.Kind {
	case scheduler.KindOpenRequest:
		m.HandleLargeOrder(ctx, msg.LargeOrder)
	case scheduler.KindSnapshot:
		m.HandleSnapshot(ctx, msg.Snapshot)
	case scheduler.KindPnlTick:
		m.ledger.RunPnlSupervisor(ctx, m.cfg.MaxRiskPerTrade)
	case scheduler.KindTrade:
		m.ledger.OnTrade(msg.Trade)
	}
}

// ensureTradeSubscription subscribes to coin's trade stream the first time
// it's seen, so the ledger's PnL supervisor has tick-level pricing on a
// position's coin instead of only the book-snapshot cadence.
func (m *Module) ensureTradeSubscription(coin string) {
	if m.trades == nil {
		return
	}
	m.mu.Lock()
	if m.tradeSubscribed[coin] {
		m.mu.Unlock()
		return
	}
	m.tradeSubscribed[coin] = true
	m.mu.Unlock()

	m.trades.SubscribeTrades(coin, func(t model.Trade) {
		m.Enqueue(context.Background(), scheduler.Message{Kind: scheduler.KindTrade, Trade: t})
	})
}

func (m *Module) tradingEnabled() bool {
	return m.cfg.TradeEnabled && m.cfg.Mode != ModeScreenOnly
}

func (m *Module) acquirePending(coin string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingCoins[coin] {
		return false
	}
	m.pendingCoins[coin] = true
	return true
}

func (m *Module) releasePending(coin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingCoins, coin)
}

// HandleLargeOrder is the gate sequence from a detected LargeOrder through
// to a ledger entry: trading-enabled check, pending/duplicate guard, NATR
// availability, open-position cap, then the scoped entry attempt.
func (m *Module) HandleLargeOrder(ctx context.Context, order model.LargeOrder) {
	if !m.tradingEnabled() {
		return
	}
	if m.ledger.HasPosition(order.Coin) {
		return
	}
	if !m.acquirePending(order.Coin) {
		return
	}
	defer m.releasePending(order.Coin)

	if _, ok := m.natr.GetNatr(order.Coin); !ok {
		return
	}
	if m.cfg.MaxOpenPositions > 0 && m.ledger.OpenPositionsCount() >= m.cfg.MaxOpenPositions {
		m.logger.Printf("ledger: %s entry skipped, max open positions reached", order.Coin)
		return
	}

	if ok := m.ledger.OpenEntry(ctx, order); ok {
		m.logger.Printf("🚀 bounce: opened %s %s @ %.6f", order.Coin, order.Side, order.Price)
		m.ensureTradeSubscription(order.Coin)
	}
}

// HandleSnapshot forwards a book snapshot to the ledger's per-position
// update path.
func (m *Module) HandleSnapshot(ctx context.Context, snapshot model.OrderBookSnapshot) {
	m.ledger.OnSnapshot(ctx, snapshot)
}

// RunPnlSupervisorLoop ticks the ledger's PnL supervisor at the configured
// interval until ctx is cancelled. Intended to run on its own goroutine,
// feeding pnl-tick messages into the scheduler rather than touching ledger
// state directly.
func (m *Module) RunPnlSupervisorLoop(ctx context.Context) {
	interval := m.cfg.PnlCheckInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Enqueue(ctx, scheduler.Message{Kind: scheduler.KindPnlTick})
		}
	}
}

// Shutdown logs the number of positions left open. It closes no
// positions, for any venue.
func (m *Module) Shutdown() {
	count := m.ledger.OpenPositionsCount()
	if count > 0 {
		m.logger.Printf("bounce: shutdown with %d open position(s) outstanding", count)
	}
}

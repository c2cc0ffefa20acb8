package bounce

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densityradar/internal/anchor"
	"densityradar/internal/execution"
	"densityradar/internal/features"
	"densityradar/internal/ledger"
	"densityradar/internal/model"
	"densityradar/internal/policy"
	"densityradar/internal/scheduler"
)

type fakeEngine struct {
	openCalls int
	openOk    bool
}

func (f *fakeEngine) OpenPosition(ctx context.Context, signal execution.Signal) (execution.OpenResult, bool) {
	f.openCalls++
	if !f.openOk {
		return execution.OpenResult{}, false
	}
	return execution.OpenResult{ExecutedPrice: signal.AnchorPrice, ExecutedSize: signal.SizeUsd, Contracts: 1}, true
}
func (f *fakeEngine) ClosePosition(ctx context.Context, coin string, side model.PositionSide, contracts float64, reason string) error {
	return nil
}
func (f *fakeEngine) PlaceLimitOrder(ctx context.Context, coin string, side model.OrderSide, price, sizeUsd float64, purpose model.OrderPurpose) (*model.LimitOrderState, bool) {
	return nil, false
}
func (f *fakeEngine) CancelLimitOrder(ctx context.Context, order *model.LimitOrderState) error {
	return nil
}
func (f *fakeEngine) CheckLimitOrderStatus(ctx context.Context, order *model.LimitOrderState) error {
	return nil
}
func (f *fakeEngine) SyncOpenPositions(ctx context.Context) ([]execution.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeEngine) GetPositionContracts(ctx context.Context, coin string) (float64, error) {
	return 0, nil
}

var _ execution.Engine = (*fakeEngine)(nil)

type fakeNatr struct {
	known bool
	value float64
}

func (n fakeNatr) GetNatr(coin string) (float64, bool) { return n.value, n.known }

type fakeTradeSubscriber struct {
	subscribedCoins []string
	cbs             map[string]func(model.Trade)
}

func (f *fakeTradeSubscriber) SubscribeTrades(coin string, cb func(model.Trade)) {
	f.subscribedCoins = append(f.subscribedCoins, coin)
	if f.cbs == nil {
		f.cbs = make(map[string]func(model.Trade))
	}
	f.cbs[coin] = cb
}

func newTestModuleWithTrades(t *testing.T, cfg Config, eng execution.Engine, natrKnown bool, trades TradeSubscriber) (*Module, *ledger.Ledger) {
	t.Helper()
	pol := policy.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	am := anchor.New(filepath.Join(t.TempDir(), "anchors.json"), nil)
	fh := features.New()
	natr := fakeNatr{known: natrKnown, value: 1.0}
	led := ledger.New(ledger.Config{EntryMode: ledger.EntryMarket, PositionSizeUsd: 1000, AnchorMinValueFraction: 0.1, AnchorMinValueUsd: 100}, eng, pol, am, natr, fh, nil, nil)
	mod := New(cfg, led, natr, trades, nil, nil)
	return mod, led
}

func newTestModule(t *testing.T, cfg Config, eng execution.Engine, natrKnown bool) (*Module, *ledger.Ledger) {
	t.Helper()
	return newTestModuleWithTrades(t, cfg, eng, natrKnown, nil)
}

func sampleOrder() model.LargeOrder {
	return model.LargeOrder{Coin: "BTC", Side: model.SideBid, Price: 50000, Size: 60, ValueUsd: 3_000_000}
}

func TestHandleLargeOrderOpensWhenGatesPass(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, led := newTestModule(t, Config{TradeEnabled: true, Mode: ModeTradePaper, MaxOpenPositions: 2}, eng, true)

	mod.HandleLargeOrder(context.Background(), sampleOrder())

	assert.True(t, led.HasPosition("BTC"))
	assert.Equal(t, 1, eng.openCalls)
}

func TestHandleLargeOrderSkipsWhenTradingDisabled(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, led := newTestModule(t, Config{TradeEnabled: false, Mode: ModeTradePaper, MaxOpenPositions: 2}, eng, true)

	mod.HandleLargeOrder(context.Background(), sampleOrder())

	assert.False(t, led.HasPosition("BTC"))
	assert.Equal(t, 0, eng.openCalls)
}

func TestHandleLargeOrderSkipsInScreenOnlyMode(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, led := newTestModule(t, Config{TradeEnabled: true, Mode: ModeScreenOnly, MaxOpenPositions: 2}, eng, true)

	mod.HandleLargeOrder(context.Background(), sampleOrder())

	assert.False(t, led.HasPosition("BTC"))
}

func TestHandleLargeOrderAbstainsOnUnknownNatr(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, led := newTestModule(t, Config{TradeEnabled: true, Mode: ModeTradePaper, MaxOpenPositions: 2}, eng, false)

	mod.HandleLargeOrder(context.Background(), sampleOrder())

	assert.False(t, led.HasPosition("BTC"))
	assert.Equal(t, 0, eng.openCalls)
}

func TestHandleLargeOrderRespectsMaxOpenPositions(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, led := newTestModule(t, Config{TradeEnabled: true, Mode: ModeTradePaper, MaxOpenPositions: 1}, eng, true)

	mod.HandleLargeOrder(context.Background(), sampleOrder())
	require.True(t, led.HasPosition("BTC"))

	other := model.LargeOrder{Coin: "ETH", Side: model.SideBid, Price: 3000, Size: 1000, ValueUsd: 3_000_000}
	mod.HandleLargeOrder(context.Background(), other)

	assert.False(t, led.HasPosition("ETH"))
}

// Re-entrancy guard: the pendingCoins set prevents a second concurrent
// entry attempt for a coin already mid-flight, satisfying the
// no-two-openPosition-calls-overlap invariant.
func TestAcquirePendingGuardsReentrantEntry(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, _ := newTestModule(t, Config{TradeEnabled: true, Mode: ModeTradePaper, MaxOpenPositions: 2}, eng, true)

	require.True(t, mod.acquirePending("BTC"))
	assert.False(t, mod.acquirePending("BTC"))
	mod.releasePending("BTC")
	assert.True(t, mod.acquirePending("BTC"))
}

// Opening a position subscribes to that coin's trade stream exactly once;
// a trade tick is then delivered through the callback and through Dispatch
// as a KindTrade message.
func TestHandleLargeOrderSubscribesToTradesOnOpen(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	trades := &fakeTradeSubscriber{}
	mod, led := newTestModuleWithTrades(t, Config{TradeEnabled: true, Mode: ModeTradePaper, MaxOpenPositions: 2}, eng, true, trades)

	mod.HandleLargeOrder(context.Background(), sampleOrder())
	require.True(t, led.HasPosition("BTC"))
	require.Equal(t, []string{"BTC"}, trades.subscribedCoins)

	cb, ok := trades.cbs["BTC"]
	require.True(t, ok)
	cb(model.Trade{Coin: "BTC", Price: 50500})

	mod.Dispatch(context.Background(), scheduler.Message{Kind: scheduler.KindTrade, Trade: model.Trade{Coin: "BTC", Price: 50750}})

	// A second large order for the same coin must not resubscribe.
	mod.HandleLargeOrder(context.Background(), sampleOrder())
	assert.Equal(t, []string{"BTC"}, trades.subscribedCoins)
}

func TestRunPnlSupervisorLoopStopsOnContextCancel(t *testing.T) {
	eng := &fakeEngine{openOk: true}
	mod, _ := newTestModule(t, Config{TradeEnabled: true, Mode: ModeTradePaper, PnlCheckInterval: 5 * time.Millisecond}, eng, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mod.RunPnlSupervisorLoop(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPnlSupervisorLoop did not exit after context cancellation")
	}
}

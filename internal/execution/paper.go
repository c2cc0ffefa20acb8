package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"densityradar/internal/model"
)

// MidPriceSource supplies the last-seen mid price for a coin, used by the
// paper engine to fill a market entry/close at a realistic price instead
// of the requested anchor price.
type MidPriceSource interface {
	LastMid(coin string) (float64, bool)
}

// PaperEngine replaces network calls with in-memory bookkeeping; limit
// order fill detection is left to the ledger's own mid-price simulation
// (SPEC_FULL §4.8/§4.9), so PlaceLimitOrder here only records the order.
type PaperEngine struct {
	mu     sync.Mutex
	mids   MidPriceSource
	logger *log.Logger
	open   map[string]float64 // coin -> signed contracts (positive long, negative short)
}

// NewPaper creates a PaperEngine reading prices from mids.
func NewPaper(mids MidPriceSource, logger *log.Logger) *PaperEngine {
	if logger == nil {
		logger = log.Default()
	}
	return &PaperEngine{mids: mids, logger: logger, open: make(map[string]float64)}
}

func (p *PaperEngine) OpenPosition(ctx context.Context, signal Signal) (OpenResult, bool) {
	mid, ok := p.mids.LastMid(signal.Coin)
	if !ok {
		p.logger.Printf("⚠️ paper engine: no mid price for %s, abstaining", signal.Coin)
		return OpenResult{}, false
	}
	if signal.SizeUsd <= 0 {
		return OpenResult{}, false
	}

	contracts := signal.SizeUsd / mid
	p.mu.Lock()
	if signal.Side == model.PositionShort {
		p.open[signal.Coin] -= contracts
	} else {
		p.open[signal.Coin] += contracts
	}
	p.mu.Unlock()

	return OpenResult{ExecutedPrice: mid, ExecutedSize: signal.SizeUsd, Contracts: contracts}, true
}

func (p *PaperEngine) ClosePosition(ctx context.Context, coin string, side model.PositionSide, contracts float64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if side == model.PositionShort {
		p.open[coin] += contracts
	} else {
		p.open[coin] -= contracts
	}
	p.logger.Printf("paper engine: closed %s %s contracts=%.6f reason=%s", coin, side, contracts, reason)
	return nil
}

func (p *PaperEngine) PlaceLimitOrder(ctx context.Context, coin string, side model.OrderSide, price, sizeUsd float64, purpose model.OrderPurpose) (*model.LimitOrderState, bool) {
	if price <= 0 || sizeUsd <= 0 {
		return nil, false
	}
	return &model.LimitOrderState{
		OrderId:  uuid.NewString(),
		Coin:     coin,
		Price:    price,
		SizeUsd:  sizeUsd,
		Side:     side,
		Purpose:  purpose,
		PlacedAt: time.Now(),
	}, true
}

func (p *PaperEngine) CancelLimitOrder(ctx context.Context, order *model.LimitOrderState) error {
	order.MarkCancelled(time.Now())
	return nil
}

func (p *PaperEngine) CheckLimitOrderStatus(ctx context.Context, order *model.LimitOrderState) error {
	return nil
}

func (p *PaperEngine) SyncOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	return nil, nil
}

func (p *PaperEngine) GetPositionContracts(ctx context.Context, coin string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[coin], nil
}

var _ Engine = (*PaperEngine)(nil)

package execution

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"densityradar/internal/model"
)

// closeSafetyMultiplier and emergencyCloseSafetyMultiplier are the
// escalating reduce-only over-close factors required by SPEC_FULL §4.8:
// first attempt at 110% of the requested contracts, a further emergency
// attempt at 120% if a remainder is observed after the first.
const (
	closeSafetyMultiplier          = 1.10
	emergencyCloseSafetyMultiplier = 1.20
	reconciliationDelay            = 1500 * time.Millisecond
)

// BinanceEngine executes against Binance USDⓈ-M futures, normalizing every
// price/quantity to the cached exchangeInfo filters, following the
// tick/step caching pattern of execution_service.go's FetchExchangeInfo.
type BinanceEngine struct {
	client  *futures.Client
	logger  *log.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	filters map[string]SymbolFilters
}

// NewBinance creates a BinanceEngine. requestsPerSecond bounds outbound
// signed REST calls ahead of Binance's own rate limits.
func NewBinance(client *futures.Client, requestsPerSecond float64, logger *log.Logger) *BinanceEngine {
	if logger == nil {
		logger = log.Default()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 8
	}
	return &BinanceEngine{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		filters: make(map[string]SymbolFilters),
	}
}

func (b *BinanceEngine) wait(ctx context.Context) {
	_ = b.limiter.Wait(ctx)
}

// LoadExchangeInfo fetches and caches LOT_SIZE/PRICE_FILTER for every
// symbol; call once at startup.
func (b *BinanceEngine) LoadExchangeInfo(ctx context.Context) error {
	b.wait(ctx)
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("execution: exchangeInfo: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range info.Symbols {
		var f SymbolFilters
		for _, raw := range sym.Filters {
			switch raw["filterType"] {
			case "PRICE_FILTER":
				f.TickSize = parseDecimal(fmt.Sprint(raw["tickSize"]))
			case "LOT_SIZE":
				f.StepSize = parseDecimal(fmt.Sprint(raw["stepSize"]))
				f.MinQty = parseDecimal(fmt.Sprint(raw["minQty"]))
			}
		}
		b.filters[sym.Symbol] = f
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (b *BinanceEngine) filtersFor(symbol string) SymbolFilters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filters[symbol]
}

func isUnknownOrderErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "-2011") || strings.Contains(msg, "-2013") || strings.Contains(msg, "Unknown order")
}

func (b *BinanceEngine) OpenPosition(ctx context.Context, signal Signal) (OpenResult, bool) {
	symbol := signal.Coin
	filters := b.filtersFor(symbol)

	mark, err := b.markPrice(ctx, symbol)
	if err != nil {
		b.logger.Printf("⚠️ execution: mark price unavailable for %s: %v", symbol, err)
		return OpenResult{}, false
	}
	contracts := RoundToLot(signal.SizeUsd/mark, filters.StepSize, filters.MinQty)
	if contracts.IsZero() {
		b.logger.Printf("execution: %s normalized qty collapsed to zero, abstaining", symbol)
		return OpenResult{}, false
	}

	side := futures.SideTypeBuy
	if signal.Side == model.PositionShort {
		side = futures.SideTypeSell
	}

	b.wait(ctx)
	order, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(contracts.String()).
		NewClientOrderId(uuid.NewString()).
		Do(ctx)
	if err != nil {
		b.logger.Printf("⚠️ execution: open %s rejected: %v", symbol, err)
		return OpenResult{}, false
	}

	executedPrice := mark
	if p, perr := strconv.ParseFloat(order.AvgPrice, 64); perr == nil && p > 0 {
		executedPrice = p
	}
	executedQty := contracts.InexactFloat64()
	if q, qerr := strconv.ParseFloat(order.ExecutedQuantity, 64); qerr == nil && q > 0 {
		executedQty = q
	}

	return OpenResult{
		ExecutedPrice: executedPrice,
		ExecutedSize:  executedPrice * executedQty,
		Contracts:     executedQty,
	}, true
}

func (b *BinanceEngine) markPrice(ctx context.Context, symbol string) (float64, error) {
	b.wait(ctx)
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil || len(prices) == 0 {
		return 0, fmt.Errorf("mark price: %w", err)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// ClosePosition sends a reduce-only market close at closeSafetyMultiplier
// of the requested contracts, then reconciles; if a remainder survives it
// escalates to emergencyCloseSafetyMultiplier and logs loudly if that
// still leaves a residual.
func (b *BinanceEngine) ClosePosition(ctx context.Context, coin string, side model.PositionSide, contracts float64, reason string) error {
	if err := b.reduceOnlyClose(ctx, coin, side, contracts*closeSafetyMultiplier, reason); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reconciliationDelay):
	}

	remaining, err := b.GetPositionContracts(ctx, coin)
	if err != nil {
		return fmt.Errorf("execution: reconciliation read failed for %s: %w", coin, err)
	}
	if remaining == 0 {
		return nil
	}

	b.logger.Printf("⚠️ execution: %s residual %.8f after close, emergency reduce-only close", coin, remaining)
	if err := b.reduceOnlyClose(ctx, coin, side, math.Abs(remaining)*emergencyCloseSafetyMultiplier, "emergency_"+reason); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reconciliationDelay):
	}
	finalRemaining, err := b.GetPositionContracts(ctx, coin)
	if err != nil {
		return fmt.Errorf("execution: final reconciliation read failed for %s: %w", coin, err)
	}
	if finalRemaining != 0 {
		return fmt.Errorf("execution: %s requires manual intervention, residual=%.8f after emergency close", coin, finalRemaining)
	}
	return nil
}

func (b *BinanceEngine) reduceOnlyClose(ctx context.Context, coin string, side model.PositionSide, contracts float64, reason string) error {
	filters := b.filtersFor(coin)
	qty := RoundToLot(contracts, filters.StepSize, filters.MinQty)
	if qty.IsZero() {
		return nil
	}

	closeSide := futures.SideTypeSell
	if side == model.PositionShort {
		closeSide = futures.SideTypeBuy
	}

	b.wait(ctx)
	_, err := b.client.NewCreateOrderService().
		Symbol(coin).
		Side(closeSide).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(true).
		NewClientOrderId(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("execution: reduce-only close %s (%s) failed: %w", coin, reason, err)
	}
	return nil
}

func (b *BinanceEngine) PlaceLimitOrder(ctx context.Context, coin string, side model.OrderSide, price, sizeUsd float64, purpose model.OrderPurpose) (*model.LimitOrderState, bool) {
	filters := b.filtersFor(coin)
	roundedPrice := RoundToTick(price, filters.TickSize)
	if roundedPrice.IsZero() {
		return nil, false
	}
	qty := RoundToLot(sizeUsd/roundedPrice.InexactFloat64(), filters.StepSize, filters.MinQty)
	if qty.IsZero() {
		return nil, false
	}

	orderSide := futures.SideTypeBuy
	if side == model.OrderSell {
		orderSide = futures.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(coin).
		Side(orderSide).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(roundedPrice.String()).
		Quantity(qty.String()).
		NewClientOrderId(uuid.NewString())
	if purpose == model.PurposeTP {
		svc = svc.ReduceOnly(true)
	}

	b.wait(ctx)
	order, err := svc.Do(ctx)
	if err != nil {
		b.logger.Printf("⚠️ execution: limit order %s@%s rejected: %v", coin, roundedPrice.String(), err)
		return nil, false
	}

	return &model.LimitOrderState{
		OrderId:   strconv.FormatInt(order.OrderID, 10),
		Coin:      coin,
		Price:     roundedPrice.InexactFloat64(),
		SizeUsd:   sizeUsd,
		Contracts: qty.InexactFloat64(),
		Side:      side,
		Purpose:   purpose,
		PlacedAt:  time.Now(),
	}, true
}

func (b *BinanceEngine) CancelLimitOrder(ctx context.Context, order *model.LimitOrderState) error {
	if order.IsTerminal() {
		return nil
	}
	orderID, err := strconv.ParseInt(order.OrderId, 10, 64)
	if err != nil {
		order.MarkCancelled(time.Now())
		return nil
	}

	b.wait(ctx)
	_, err = b.client.NewCancelOrderService().Symbol(order.Coin).OrderID(orderID).Do(ctx)
	if err != nil && !isUnknownOrderErr(err) {
		return fmt.Errorf("execution: cancel %s order %s failed: %w", order.Coin, order.OrderId, err)
	}
	order.MarkCancelled(time.Now())
	return nil
}

func (b *BinanceEngine) CheckLimitOrderStatus(ctx context.Context, order *model.LimitOrderState) error {
	orderID, err := strconv.ParseInt(order.OrderId, 10, 64)
	if err != nil {
		return nil
	}
	b.wait(ctx)
	result, err := b.client.NewGetOrderService().Symbol(order.Coin).OrderID(orderID).Do(ctx)
	if err != nil {
		if isUnknownOrderErr(err) {
			order.MarkCancelled(time.Now())
			return nil
		}
		return fmt.Errorf("execution: order status %s/%s: %w", order.Coin, order.OrderId, err)
	}
	switch result.Status {
	case futures.OrderStatusTypeFilled:
		order.MarkFilled(time.Now())
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		order.MarkCancelled(time.Now())
	}
	return nil
}

func (b *BinanceEngine) SyncOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	b.wait(ctx)
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("execution: positionRisk: %w", err)
	}
	var out []ExchangePosition
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		side := model.PositionLong
		if amt < 0 {
			side = model.PositionShort
		}
		out = append(out, ExchangePosition{Coin: r.Symbol, Contracts: amt, Side: side})
	}
	return out, nil
}

func (b *BinanceEngine) GetPositionContracts(ctx context.Context, coin string) (float64, error) {
	b.wait(ctx)
	risks, err := b.client.NewGetPositionRiskService().Symbol(coin).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("execution: positionRisk for %s: %w", coin, err)
	}
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err == nil {
			return amt, nil
		}
	}
	return 0, nil
}

var _ Engine = (*BinanceEngine)(nil)

package execution

import (
	"github.com/shopspring/decimal"
)

// SymbolFilters mirrors the LOT_SIZE/PRICE_FILTER pair returned by the
// exchange's exchangeInfo endpoint, cached for process lifetime by the
// live engine the same way execution_service.go's FetchExchangeInfo does.
type SymbolFilters struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// RoundToTick rounds price down to the nearest tickSize multiple, using
// exact decimal arithmetic instead of the teacher's
// math.Floor(value/tick+0.5)*tick float rounding, so repeated rounding
// never drifts from floating-point error. A zero tickSize returns price
// unchanged; a price below one tick rounds down to zero.
func RoundToTick(price float64, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return decimal.NewFromFloat(price)
	}
	p := decimal.NewFromFloat(price)
	steps := p.DivRound(tick, 16).Floor()
	return steps.Mul(tick)
}

// RoundToLot rounds qty down to the nearest stepSize multiple and zeros it
// out if it falls below minQty.
func RoundToLot(qty float64, step, minQty decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return decimal.NewFromFloat(qty)
	}
	q := decimal.NewFromFloat(qty)
	steps := q.DivRound(step, 16).Floor()
	rounded := steps.Mul(step)
	if rounded.LessThan(minQty) {
		return decimal.Zero
	}
	return rounded
}

// Package execution defines the abstract order-execution contract and
// provides a paper (in-memory) and a binance (live futures) implementation,
// adapted from execution_service.go's tick/lot normalization and
// escalating reduce-only close path.
package execution

import (
	"context"
	"errors"

	"densityradar/internal/model"
)

// ErrUnknownOrder names the exchange's unknown-order condition. The engines
// in this package do not return it: BinanceEngine recognizes that condition
// from the exchange's error text and treats the cancel as already done.
var ErrUnknownOrder = errors.New("execution: unknown order")

// Signal is the input to openPosition: a concrete directional entry
// request derived from a LargeOrder plus sizing/anchor context.
type Signal struct {
	Coin        string
	Side        model.PositionSide
	SizeUsd     float64
	AnchorSide  model.Side
	AnchorPrice float64
	NatrAtEntry float64
}

// OpenResult is what openPosition returns on a successful entry: the
// actual executed price/size, which may differ from the requested size
// under partial fills.
type OpenResult struct {
	ExecutedPrice float64
	ExecutedSize  float64 // USD notional actually filled
	Contracts     float64
}

// Engine is the abstract execution contract every venue must satisfy.
type Engine interface {
	// OpenPosition submits a market-equivalent entry. Returns false on
	// rejection/validation failure (never an error for ordinary abstain
	// paths — those are logged by the implementation and reported as a
	// zero-value, false result).
	OpenPosition(ctx context.Context, signal Signal) (OpenResult, bool)

	// ClosePosition sends a reduce-only market close for reason, applying
	// the escalating safety-multiplier protocol described in SPEC_FULL §4.8.
	ClosePosition(ctx context.Context, coin string, side model.PositionSide, contracts float64, reason string) error

	// PlaceLimitOrder normalizes price/size to the exchange's tick/lot
	// filters and returns the resulting order, or false if normalization
	// collapsed either to zero.
	PlaceLimitOrder(ctx context.Context, coin string, side model.OrderSide, price, sizeUsd float64, purpose model.OrderPurpose) (*model.LimitOrderState, bool)

	// CancelLimitOrder is idempotent: "unknown order" is treated as
	// success and the local state transitions to cancelled.
	CancelLimitOrder(ctx context.Context, order *model.LimitOrderState) error

	// CheckLimitOrderStatus optionally polls remote state; paper engines
	// may no-op since paper fills are simulated by the ledger.
	CheckLimitOrderStatus(ctx context.Context, order *model.LimitOrderState) error

	// SyncOpenPositions is a read-only startup reconciliation; it never
	// mutates exchange-side positions the core doesn't own.
	SyncOpenPositions(ctx context.Context) ([]ExchangePosition, error)

	// GetPositionContracts returns current on-exchange size for coin, for
	// reconciliation after a close.
	GetPositionContracts(ctx context.Context, coin string) (float64, error)
}

// ExchangePosition is a read-only reconciliation record of a position the
// core does not own.
type ExchangePosition struct {
	Coin      string
	Contracts float64
	Side      model.PositionSide
}

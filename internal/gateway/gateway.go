// Package gateway defines the execution gateway contract: the single
// boundary through which the pipeline touches a broker. A failed gateway
// call aborts the attempt; the caller must never be left holding a trade
// the broker does not know about.
package gateway

import (
	"context"
	"time"

	"github.com/moznion/go-optional"

	"github.com/helio-lab/helio-trading/internal/types"
)

// OrderRequest asks the gateway to open a position.
type OrderRequest struct {
	Symbol string     `validate:"required"`
	Side   types.Side `validate:"required,oneof=buy sell"`
	Volume float64    `validate:"gt=0"`
	// Price is the reference price at decision time. Market execution may
	// fill away from it; the fill price in the result is authoritative.
	Price      float64 `validate:"gt=0"`
	StopLoss   float64 `validate:"gt=0"`
	TakeProfit optional.Option[float64]
	// Comment tags the order at the broker for reconciliation.
	Comment string
}

// OrderResult reports a confirmed fill.
type OrderResult struct {
	OrderID      string
	FilledPrice  float64
	FilledVolume float64
	ExecutedAt   time.Time
}

// CloseRequest asks the gateway to close all or part of a position.
type CloseRequest struct {
	OrderID string  `validate:"required"`
	Volume  float64 `validate:"gt=0"`
	// Price is the reference price at decision time.
	Price float64 `validate:"gt=0"`
}

// CloseResult reports a confirmed close.
type CloseResult struct {
	OrderID         string
	ClosedVolume    float64
	ClosePrice      float64
	RemainingVolume float64
	ExecutedAt      time.Time
}

// Position is a live broker-side position.
type Position struct {
	OrderID    string
	Symbol     string
	Side       types.Side
	Volume     float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit optional.Option[float64]
	Comment    string
	OpenedAt   time.Time
}

// ExecutionGateway is the broker boundary. Every method either succeeds
// fully or returns an error with no broker-side effect the caller has to
// guess about; Positions is the source of truth for reconciliation.
type ExecutionGateway interface {
	// PlaceOrder opens a position and returns the confirmed fill.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CloseOrder closes volume of an open position.
	CloseOrder(ctx context.Context, req CloseRequest) (CloseResult, error)
	// ModifyStops replaces the stop loss (and optionally take profit) of an
	// open position.
	ModifyStops(ctx context.Context, orderID string, stopLoss float64, takeProfit optional.Option[float64]) error
	// Positions lists all open positions at the broker.
	Positions(ctx context.Context) ([]Position, error)
}

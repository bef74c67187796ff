package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus tracks the lifecycle of a trade.
type TradeStatus string

const (
	// TradeStatusPending is a trade recorded locally but not yet confirmed
	// by the execution gateway. Reconciliation resolves these at startup.
	TradeStatusPending TradeStatus = "pending"
	TradeStatusOpen    TradeStatus = "open"
	TradeStatusClosed  TradeStatus = "closed"
	TradeStatusRejected TradeStatus = "rejected"
)

// Trade is an executed (or executing) position born from a signal.
type Trade struct {
	ID         string                  `yaml:"id" json:"id" validate:"required"`
	SignalID   string                  `yaml:"signal_id" json:"signal_id" validate:"required"`
	OrderID    string                  `yaml:"order_id" json:"order_id"`
	Symbol     string                  `yaml:"symbol" json:"symbol" validate:"required"`
	Scenario   string                  `yaml:"scenario" json:"scenario" validate:"required"`
	Side       Side                    `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	EntryPrice float64                 `yaml:"entry_price" json:"entry_price" validate:"gt=0"`
	StopLoss   float64                 `yaml:"stop_loss" json:"stop_loss" validate:"gt=0"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	Size       float64                 `yaml:"size" json:"size" validate:"gt=0"`
	// RiskAmount is the account currency at risk between entry and stop.
	// Trade outcomes are later expressed as multiples of this amount (R).
	RiskAmount float64                  `yaml:"risk_amount" json:"risk_amount" validate:"gte=0"`
	Status     TradeStatus              `yaml:"status" json:"status" validate:"required,oneof=pending open closed rejected"`
	Regime     RegimeName               `yaml:"regime" json:"regime"`
	OpenedAt   time.Time                `yaml:"opened_at" json:"opened_at" validate:"required"`
	ClosedAt   optional.Option[time.Time] `yaml:"closed_at" json:"closed_at"`
}

// Validate checks the trade fields and cross-field consistency.
func (t *Trade) Validate() error {
	validate := validator.New()
	if err := validate.Struct(t); err != nil {
		return err
	}
	return nil
}

// IsOpen reports whether the trade still holds a live position.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen || t.Status == TradeStatusPending
}

// EntityType implements Entity.
func (t Trade) EntityType() EntityType {
	return EntityTypeTrade
}

// Key implements Entity.
func (t Trade) Key() string {
	return t.ID
}

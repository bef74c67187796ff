package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// RiskEventType classifies realized outcomes and risk-control actions.
type RiskEventType string

const (
	RiskEventStopLoss       RiskEventType = "stop_loss"
	RiskEventTakeProfit     RiskEventType = "take_profit"
	RiskEventPartialExit    RiskEventType = "partial_exit"
	RiskEventManualExit     RiskEventType = "manual_exit"
	RiskEventDrawdownBreach RiskEventType = "drawdown_breach"
)

// RiskEvent records a realized trade outcome or a risk-control action.
// Outcome events are idempotent per trade: recording the same trade's
// outcome twice leaves the risk ledger unchanged.
type RiskEvent struct {
	ID        string        `yaml:"id" json:"id" validate:"required"`
	TradeID   string        `yaml:"trade_id" json:"trade_id"`
	Type      RiskEventType `yaml:"type" json:"type" validate:"required,oneof=stop_loss take_profit partial_exit manual_exit drawdown_breach"`
	// Amount is the signed profit or loss in account currency.
	Amount    float64   `yaml:"amount" json:"amount"`
	// RMultiple is Amount expressed in multiples of the trade's risk amount.
	RMultiple float64   `yaml:"r_multiple" json:"r_multiple"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" validate:"required"`
}

// Validate checks the risk event fields.
func (r *RiskEvent) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// EntityType implements Entity.
func (r RiskEvent) EntityType() EntityType {
	return EntityTypeRiskEvent
}

// Key implements Entity.
func (r RiskEvent) Key() string {
	return r.ID
}

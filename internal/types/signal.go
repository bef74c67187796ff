package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// SignalKind identifies the setup family a signal belongs to.
type SignalKind string

const (
	SignalKindBreakout SignalKind = "breakout"
	SignalKindTrend    SignalKind = "trend"
	SignalKindReversal SignalKind = "reversal"
	SignalKindManual   SignalKind = "manual"
)

// Signal is a detected trade setup together with the feature snapshot that
// produced it. Signals are immutable once recorded.
type Signal struct {
	ID        string             `yaml:"id" json:"id" validate:"required"`
	Symbol    string             `yaml:"symbol" json:"symbol" validate:"required"`
	Timeframe Timeframe          `yaml:"timeframe" json:"timeframe" validate:"required"`
	Kind      SignalKind         `yaml:"kind" json:"kind" validate:"required,oneof=breakout trend reversal manual"`
	Scenario  string             `yaml:"scenario" json:"scenario" validate:"required"`
	Side      Side               `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	Features  map[string]float64 `yaml:"features" json:"features"`
	Regime    RegimeName         `yaml:"regime" json:"regime"`
	CreatedAt time.Time          `yaml:"created_at" json:"created_at" validate:"required"`
}

// Validate checks the signal fields.
func (s *Signal) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// EntityType implements Entity.
func (s Signal) EntityType() EntityType {
	return EntityTypeSignal
}

// Key implements Entity.
func (s Signal) Key() string {
	return s.ID
}

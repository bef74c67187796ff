package types

import (
	"fmt"
	"time"
)

// Timeframe identifies the bar interval a series was sampled at.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" validate:"required"`
	Time   time.Time `yaml:"time" json:"time" validate:"required"`
	Open   float64   `yaml:"open" json:"open"`
	High   float64   `yaml:"high" json:"high"`
	Low    float64   `yaml:"low" json:"low"`
	Close  float64   `yaml:"close" json:"close"`
	Volume float64   `yaml:"volume" json:"volume"`
}

// Quote is a persisted market tick. Immutable once written; the primary store
// upserts on (symbol, timestamp) so late replays of the same tick are no-ops.
type Quote struct {
	Symbol    string    `yaml:"symbol" json:"symbol" validate:"required"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp" validate:"required"`
	Price     float64   `yaml:"price" json:"price" validate:"gte=0"`
	Volume    float64   `yaml:"volume" json:"volume" validate:"gte=0"`
}

// EntityType implements Entity.
func (q Quote) EntityType() EntityType {
	return EntityTypeQuote
}

// Key implements Entity. The key is the natural (symbol, timestamp) identity,
// which makes every derived secondary-store id deterministic.
func (q Quote) Key() string {
	return fmt.Sprintf("%s_%d", q.Symbol, q.Timestamp.UnixMilli())
}

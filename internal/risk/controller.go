// Package risk enforces account-level risk limits: per-trade position
// sizing, the daily drawdown circuit breaker, and the realized outcome
// ledger. The controller is safe for concurrent use by multiple trade
// pipelines.
package risk

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Config holds account-level risk limits.
type Config struct {
	// PerTradeRiskPct is the fraction of balance risked between entry and stop.
	PerTradeRiskPct float64 `yaml:"per_trade_risk_pct" default:"0.01" validate:"gt=0,lte=0.1"`
	// DailyDrawdownLimitPct halts new entries for the rest of the session
	// once realized losses reach this fraction of the session-open balance.
	DailyDrawdownLimitPct float64 `yaml:"daily_drawdown_limit_pct" default:"0.025" validate:"gt=0,lte=0.5"`
}

// Validate checks the risk configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid risk configuration", err)
	}
	return nil
}

// InstrumentSpec describes the contract terms sizing needs per instrument.
type InstrumentSpec struct {
	Symbol       string  `yaml:"symbol" validate:"required"`
	PointSize    float64 `yaml:"point_size" validate:"gt=0"`
	PipValue     float64 `yaml:"pip_value" validate:"gt=0"`
	MinLot       float64 `yaml:"min_lot" validate:"gt=0"`
	MaxLot       float64 `yaml:"max_lot" validate:"gt=0"`
	LotPrecision int32   `yaml:"lot_precision" validate:"gte=0,lte=8"`
}

// Controller is the account risk gatekeeper. All money arithmetic runs on
// decimals so the ledger never drifts from float accumulation.
type Controller struct {
	config Config
	specs  map[string]InstrumentSpec
	logger *logger.Logger

	mu sync.Mutex
	// sessionDay is the UTC calendar day the current session belongs to.
	sessionDay time.Time
	// sessionOpenBalance is the balance at the session open; the drawdown
	// limit is measured against it, not the live balance.
	sessionOpenBalance decimal.Decimal
	realizedToday      decimal.Decimal
	realizedTotal      decimal.Decimal
	breached           bool
	// recorded tracks outcome idempotency keys already applied.
	recorded map[string]bool
}

// NewController creates a risk controller with a validated configuration.
func NewController(config Config, specs []InstrumentSpec, startingBalance float64, log *logger.Logger) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if startingBalance <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidRiskInput, "starting balance must be positive, got %f", startingBalance)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	validate := validator.New()
	specMap := make(map[string]InstrumentSpec, len(specs))
	for _, spec := range specs {
		if err := validate.Struct(spec); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid instrument spec for %s", spec.Symbol)
		}
		if spec.MinLot > spec.MaxLot {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "min lot %f exceeds max lot %f for %s", spec.MinLot, spec.MaxLot, spec.Symbol)
		}
		specMap[spec.Symbol] = spec
	}

	return &Controller{
		config:             config,
		specs:              specMap,
		logger:             log,
		sessionOpenBalance: decimal.NewFromFloat(startingBalance),
		recorded:           make(map[string]bool),
	}, nil
}

// rollSession resets the daily ledger when the UTC calendar day changes.
// Caller must hold c.mu.
func (c *Controller) rollSession(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.Equal(c.sessionDay) {
		return
	}

	if !c.sessionDay.IsZero() {
		c.logger.Info("risk session rolled",
			zap.Time("day", day),
			zap.String("realized", c.realizedToday.String()),
			zap.Bool("was_breached", c.breached),
		)
		c.sessionOpenBalance = c.sessionOpenBalance.Add(c.realizedToday)
	}
	c.sessionDay = day
	c.realizedToday = decimal.Zero
	c.breached = false
	// The dedupe ledger only needs to cover the session it guards; keys
	// from settled sessions would otherwise accumulate forever.
	clear(c.recorded)
}

// CanTrade reports whether new entries are allowed right now. It returns
// false with a reason while the daily drawdown circuit breaker is tripped;
// the breaker re-arms at the next UTC session.
func (c *Controller) CanTrade(now time.Time) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollSession(now)
	if c.breached {
		return false, "daily drawdown limit breached"
	}
	return true, ""
}

// Balance returns the current account balance (session open plus realized).
func (c *Controller) Balance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	balance, _ := c.sessionOpenBalance.Add(c.realizedToday).Float64()
	return balance
}

// DailyPnL returns the realized profit and loss of the current session.
func (c *Controller) DailyPnL() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	pnl, _ := c.realizedToday.Float64()
	return pnl
}

// SizePosition computes the order volume for a stop distance, risking the
// configured fraction of the current balance:
//
//	volume = max(min_lot, round(balance * risk_pct / (stop_points * pip_value), lot_precision))
//
// clamped to the instrument's maximum lot. The stop distance is in price
// units and converted to points with the instrument's point size.
func (c *Controller) SizePosition(symbol string, stopDistance float64) (float64, error) {
	spec, ok := c.specs[symbol]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeInvalidRiskInput, "no instrument spec for symbol %s", symbol)
	}
	if stopDistance <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidRiskInput, "stop distance must be positive, got %f", stopDistance)
	}

	c.mu.Lock()
	balance := c.sessionOpenBalance.Add(c.realizedToday)
	c.mu.Unlock()

	stopPoints := decimal.NewFromFloat(stopDistance).Div(decimal.NewFromFloat(spec.PointSize))
	riskAmount := balance.Mul(decimal.NewFromFloat(c.config.PerTradeRiskPct))
	perLotRisk := stopPoints.Mul(decimal.NewFromFloat(spec.PipValue))
	if perLotRisk.IsZero() {
		return 0, errors.New(errors.ErrCodeInvalidRiskInput, "per-lot risk is zero")
	}

	volume := riskAmount.Div(perLotRisk).Round(spec.LotPrecision)
	minLot := decimal.NewFromFloat(spec.MinLot)
	maxLot := decimal.NewFromFloat(spec.MaxLot)
	if volume.LessThan(minLot) {
		volume = minLot
	}
	if volume.GreaterThan(maxLot) {
		volume = maxLot
	}

	result, _ := volume.Float64()
	return result, nil
}

// RiskAmount returns the account currency at risk for a position.
func (c *Controller) RiskAmount(symbol string, stopDistance, volume float64) (float64, error) {
	spec, ok := c.specs[symbol]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeInvalidRiskInput, "no instrument spec for symbol %s", symbol)
	}
	if stopDistance <= 0 || volume <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidRiskInput, "stop distance and volume must be positive, got %f and %f", stopDistance, volume)
	}

	stopPoints := decimal.NewFromFloat(stopDistance).Div(decimal.NewFromFloat(spec.PointSize))
	amount := stopPoints.Mul(decimal.NewFromFloat(spec.PipValue)).Mul(decimal.NewFromFloat(volume))

	result, _ := amount.Float64()
	return result, nil
}

// RecordOutcome applies a realized outcome to the daily ledger and trips the
// circuit breaker when losses reach the daily limit. It is idempotent:
// replaying a terminal outcome for the same trade leaves the ledger
// unchanged. Partial exits are keyed by event id so several partials on the
// same trade all count.
func (c *Controller) RecordOutcome(event types.RiskEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, errors.Wrap(errors.ErrCodeInvalidRiskInput, "invalid risk event", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollSession(event.Timestamp)

	key := string(event.Type) + ":" + event.TradeID
	if event.Type == types.RiskEventPartialExit {
		key = string(event.Type) + ":" + event.ID
	}
	if c.recorded[key] {
		c.logger.Warn("duplicate outcome ignored",
			zap.String("trade_id", event.TradeID),
			zap.String("type", string(event.Type)),
		)
		return c.breached, nil
	}
	c.recorded[key] = true

	amount := decimal.NewFromFloat(event.Amount)
	c.realizedToday = c.realizedToday.Add(amount)
	c.realizedTotal = c.realizedTotal.Add(amount)

	limit := c.sessionOpenBalance.Mul(decimal.NewFromFloat(c.config.DailyDrawdownLimitPct)).Neg()
	if !c.breached && c.realizedToday.LessThanOrEqual(limit) {
		c.breached = true
		c.logger.Warn("daily drawdown limit breached, halting new entries",
			zap.String("realized", c.realizedToday.String()),
			zap.String("limit", limit.String()),
		)
	}

	return c.breached, nil
}

// Breached reports whether the daily drawdown circuit breaker is tripped.
func (c *Controller) Breached(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollSession(now)
	return c.breached
}

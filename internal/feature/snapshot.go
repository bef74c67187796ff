package feature

import (
	"github.com/go-playground/validator/v10"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Snapshot feature keys. Oracles and signal rules address features by these
// names, so they are part of the decision contract.
const (
	KeyClose         = "close"
	KeyEMAFast       = "ema_fast"
	KeyEMASlow       = "ema_slow"
	KeyEMAManage     = "ema_manage"
	KeyEMASlope      = "ema_slope"
	KeyATR           = "atr"
	KeyRVOL          = "rvol"
	KeyDonchianUpper = "donchian_upper"
	KeyDonchianLower = "donchian_lower"
	KeyRangeHigh     = "opening_range_high"
	KeyRangeLow      = "opening_range_low"
)

// Config holds the lookback parameters for a full feature snapshot.
type Config struct {
	EMAFastPeriod  int `yaml:"ema_fast_period" default:"50" validate:"gt=0"`
	EMASlowPeriod  int `yaml:"ema_slow_period" default:"200" validate:"gt=0"`
	EMAManagePeriod int `yaml:"ema_manage_period" default:"20" validate:"gt=0"`
	ATRPeriod      int `yaml:"atr_period" default:"14" validate:"gt=0"`
	RVOLWindow     int `yaml:"rvol_window" default:"20" validate:"gt=0"`
	DonchianPeriod int `yaml:"donchian_period" default:"20" validate:"gt=0"`
	// OpeningRangeMinutes is optional; zero disables the opening range keys.
	OpeningRangeMinutes int `yaml:"opening_range_minutes" default:"15" validate:"gte=0"`
}

// Validate checks the feature configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid feature configuration", err)
	}
	if c.EMAFastPeriod >= c.EMASlowPeriod {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"fast ema period %d must be below slow ema period %d", c.EMAFastPeriod, c.EMASlowPeriod)
	}
	return nil
}

// Engine computes feature snapshots from bar history.
type Engine struct {
	config Config
}

// NewEngine creates a feature engine with a validated configuration.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// MinBars returns the number of bars required for a complete snapshot.
func (e *Engine) MinBars() int {
	min := e.config.EMASlowPeriod + 1
	if e.config.ATRPeriod+1 > min {
		min = e.config.ATRPeriod + 1
	}
	if e.config.RVOLWindow+1 > min {
		min = e.config.RVOLWindow + 1
	}
	if e.config.DonchianPeriod > min {
		min = e.config.DonchianPeriod
	}
	return min
}

// Snapshot computes every configured feature over the bar history. It is
// all-or-nothing: if any feature lacks the lookback it needs, the snapshot
// fails with InsufficientData and no partial map is returned.
func (e *Engine) Snapshot(bars []types.Bar, sessionBars []types.Bar) (map[string]float64, error) {
	if len(bars) == 0 {
		return nil, errors.NewInsufficientDataErrorf(e.MinBars(), 0, "",
			"snapshot requires %d bars, got 0", e.MinBars())
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	snapshot := map[string]float64{
		KeyClose: closes[len(closes)-1],
	}

	emaFast, err := EMA(closes, e.config.EMAFastPeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyEMAFast] = emaFast

	emaSlow, err := EMA(closes, e.config.EMASlowPeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyEMASlow] = emaSlow

	emaManage, err := EMA(closes, e.config.EMAManagePeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyEMAManage] = emaManage

	slope, err := EMASlope(closes, e.config.EMAFastPeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyEMASlope] = slope

	atr, err := ATR(bars, e.config.ATRPeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyATR] = atr

	rvol, err := RVOL(volumes, e.config.RVOLWindow)
	if err != nil {
		return nil, err
	}
	snapshot[KeyRVOL] = rvol

	channel, err := Donchian(bars, e.config.DonchianPeriod)
	if err != nil {
		return nil, err
	}
	snapshot[KeyDonchianUpper] = channel.Upper
	snapshot[KeyDonchianLower] = channel.Lower

	if e.config.OpeningRangeMinutes > 0 && len(sessionBars) > 0 {
		openingRange, err := OpeningRange(sessionBars, e.config.OpeningRangeMinutes)
		if err != nil {
			return nil, err
		}
		snapshot[KeyRangeHigh] = openingRange.High
		snapshot[KeyRangeLow] = openingRange.Low
	}

	return snapshot, nil
}

package feature

import (
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Channel is a Donchian channel over a lookback window.
type Channel struct {
	Upper  float64
	Lower  float64
	Middle float64
}

// Donchian returns the channel formed by the highest high and lowest low of
// the last period bars.
func Donchian(bars []types.Bar, period int) (Channel, error) {
	if period <= 0 {
		return Channel{}, errors.Newf(errors.ErrCodeInvalidPeriod, "donchian period must be positive, got %d", period)
	}
	if len(bars) < period {
		symbol := ""
		if len(bars) > 0 {
			symbol = bars[0].Symbol
		}
		return Channel{}, errors.NewInsufficientDataErrorf(period, len(bars), symbol,
			"donchian requires %d bars, got %d", period, len(bars))
	}

	window := bars[len(bars)-period:]
	upper := window[0].High
	lower := window[0].Low
	for _, b := range window[1:] {
		if b.High > upper {
			upper = b.High
		}
		if b.Low < lower {
			lower = b.Low
		}
	}

	return Channel{
		Upper:  upper,
		Lower:  lower,
		Middle: (upper + lower) / 2,
	}, nil
}

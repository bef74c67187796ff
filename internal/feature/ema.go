// Package feature computes the deterministic market features the trade
// pipeline feeds into signal detection and the decision oracle. All
// calculations are pure functions over in-memory series: the same input
// window always yields the same output, and windows shorter than the
// required lookback fail with an InsufficientDataError instead of
// returning a partially warmed value.
package feature

import (
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// EMA returns the exponential moving average of values over the given
// period, computed recursively with smoothing alpha = 2/(period+1) and
// seeded from the first input value. The result is the EMA at the last
// input value.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}

	return series[len(series)-1], nil
}

// EMASeries returns the full EMA series, one value per input value.
// It requires at least period values so the tail of the series is warmed.
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "ema period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(values), "",
			"ema requires %d values, got %d", period, len(values))
	}

	alpha := 2.0 / (float64(period) + 1.0)
	series := make([]float64, len(values))
	series[0] = values[0]
	for i := 1; i < len(values); i++ {
		series[i] = alpha*values[i] + (1-alpha)*series[i-1]
	}

	return series, nil
}

// EMASlope returns the difference between the last two EMA values, a cheap
// proxy for trend direction and strength. Requires period+1 values so two
// consecutive warmed EMA values exist.
func EMASlope(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "ema period must be positive, got %d", period)
	}
	if len(values) < period+1 {
		return 0, errors.NewInsufficientDataErrorf(period+1, len(values), "",
			"ema slope requires %d values, got %d", period+1, len(values))
	}

	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}

	return series[len(series)-1] - series[len(series)-2], nil
}

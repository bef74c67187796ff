package feature

import (
	"math"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// TrueRange returns the true range of a bar given the previous close:
// the largest of high-low, |high-prevClose| and |low-prevClose|.
func TrueRange(bar types.Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)

	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the average true range over the given period, smoothed as an
// EMA of the true range series. Requires period+1 bars: one extra bar
// supplies the previous close for the first true range.
func ATR(bars []types.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "atr period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		symbol := ""
		if len(bars) > 0 {
			symbol = bars[0].Symbol
		}
		return 0, errors.NewInsufficientDataErrorf(period+1, len(bars), symbol,
			"atr requires %d bars, got %d", period+1, len(bars))
	}

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, TrueRange(bars[i], bars[i-1].Close))
	}

	return EMA(trs, period)
}
